package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lolcoach/coach-relay-go/internal/metrics"
	"github.com/lolcoach/coach-relay-go/internal/model"
	redisclient "github.com/lolcoach/coach-relay-go/internal/redis"
	"github.com/lolcoach/coach-relay-go/internal/util"
)

type bindAnnouncement struct {
	TokenHash string `json:"tokenHash"`
	ConnID    string `json:"connId"`
	BoundAt   int64  `json:"boundAt"`
}

// Registry holds at most one bound connection per token. When a redis
// client is configured, binds are announced so that an older connection
// for the same token on another instance is closed as well.
type Registry struct {
	redis  *redisclient.Client
	conns  map[string]*Conn // tokenHash -> bound connection
	subs   map[string]context.CancelFunc
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRegistry(redisClient *redisclient.Client) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		redis:  redisClient,
		conns:  make(map[string]*Conn),
		subs:   make(map[string]context.CancelFunc),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Bind makes conn the connection for its token and returns the one it
// replaced, if any. The caller closes the displaced connection. When
// binds race, the last one to take the lock wins and every earlier
// connection is returned to exactly one caller.
func (r *Registry) Bind(ctx context.Context, conn *Conn) *Conn {
	tokenHash := conn.TokenHash()

	r.mu.Lock()
	displaced := r.conns[tokenHash]
	r.conns[tokenHash] = conn
	if r.redis != nil && r.subs[tokenHash] == nil {
		subCtx, subCancel := context.WithCancel(r.ctx)
		r.subs[tokenHash] = subCancel
		go r.subscribeToRedis(subCtx, tokenHash)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if displaced == nil {
		metrics.ConnectionsActive.Inc()
	} else {
		metrics.ConnectionsDisplaced.Inc()
	}

	log.Info().
		Str("connId", conn.ID).
		Str("roomId", conn.Identity.RoomID).
		Str("token", util.MaskToken(tokenHash)).
		Bool("displaced", displaced != nil).
		Int("total", total).
		Msg("telemetry connection bound")

	if r.redis != nil {
		r.announce(ctx, conn)
	}

	return displaced
}

// Unbind removes conn if it is still the bound connection for its token.
// It reports false when conn was already displaced or unbound.
func (r *Registry) Unbind(conn *Conn) bool {
	tokenHash := conn.TokenHash()

	r.mu.Lock()
	current, ok := r.conns[tokenHash]
	if !ok || current != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, tokenHash)
	if cancel, ok := r.subs[tokenHash]; ok {
		cancel()
		delete(r.subs, tokenHash)
	}
	r.mu.Unlock()

	metrics.ConnectionsActive.Dec()

	log.Info().
		Str("connId", conn.ID).
		Str("token", util.MaskToken(tokenHash)).
		Msg("telemetry connection unbound")
	return true
}

func (r *Registry) Lookup(tokenHash string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[tokenHash]
}

// CountByRoom reports how many local clients of roomID are connected.
func (r *Registry) CountByRoom(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, conn := range r.conns {
		if conn.Identity.RoomID == roomID {
			count++
		}
	}
	return count
}

func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close stops redis subscriptions and closes every bound connection.
func (r *Registry) Close() {
	r.cancel()

	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Conn)
	r.subs = make(map[string]context.CancelFunc)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close(model.CloseShutdown)
		metrics.ConnectionsActive.Dec()
	}
}

func (r *Registry) announce(ctx context.Context, conn *Conn) {
	data, err := json.Marshal(bindAnnouncement{
		TokenHash: conn.TokenHash(),
		ConnID:    conn.ID,
		BoundAt:   conn.ConnectedAt.UnixNano(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal bind announcement")
		return
	}

	channel := redisclient.ConnectionChannel(conn.TokenHash())
	if err := r.redis.Publish(ctx, channel, data).Err(); err != nil {
		log.Warn().Err(err).Str("connId", conn.ID).Msg("failed to announce bind, displacement stays local")
	}
}

func (r *Registry) subscribeToRedis(ctx context.Context, tokenHash string) {
	channel := redisclient.ConnectionChannel(tokenHash)
	pubsub := r.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("token", util.MaskToken(tokenHash)).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var ann bindAnnouncement
			if err := json.Unmarshal([]byte(msg.Payload), &ann); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal bind announcement")
				continue
			}

			r.displaceRemote(ann)
		}
	}
}

// displaceRemote closes the local connection for a token that a newer
// handshake on another instance has taken over.
func (r *Registry) displaceRemote(ann bindAnnouncement) {
	r.mu.RLock()
	local := r.conns[ann.TokenHash]
	r.mu.RUnlock()

	if local == nil || local.ID == ann.ConnID {
		return
	}
	if !local.ConnectedAt.Before(time.Unix(0, ann.BoundAt)) {
		return
	}

	if r.Unbind(local) {
		metrics.ConnectionsDisplaced.Inc()
		log.Info().
			Str("connId", local.ID).
			Str("winnerConnId", ann.ConnID).
			Msg("telemetry connection displaced by another instance")
		local.Close(model.CloseDisplaced)
	}
}
