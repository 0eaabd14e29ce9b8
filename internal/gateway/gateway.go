package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/lolcoach/coach-relay-go/internal/audit"
	"github.com/lolcoach/coach-relay-go/internal/coach"
	"github.com/lolcoach/coach-relay-go/internal/config"
	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
	"github.com/lolcoach/coach-relay-go/internal/metrics"
	"github.com/lolcoach/coach-relay-go/internal/model"
	"github.com/lolcoach/coach-relay-go/internal/relay"
	"github.com/lolcoach/coach-relay-go/internal/telemetry"
)

// Close codes sent to local clients. 4000-4999 is the application range.
const (
	StatusHandshakeRequired websocket.StatusCode = 4000
	StatusTokenUnknown      websocket.StatusCode = 4001
	StatusTokenExpired      websocket.StatusCode = 4002
	StatusDisplaced         websocket.StatusCode = 4003
	StatusIdleTimeout       websocket.StatusCode = 4004
)

type TokenValidator interface {
	Validate(ctx context.Context, token string) (*model.TokenIdentity, error)
}

type Options struct {
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
}

// Gateway accepts telemetry connections from local clients. Each
// connection authenticates with its first frame and then streams game
// state updates for the token's room.
type Gateway struct {
	tokens   TokenValidator
	registry *relay.Registry
	store    *telemetry.Store
	rooms    *coach.Manager
	opts     Options
	logger   zerolog.Logger
}

func New(tokens TokenValidator, registry *relay.Registry, store *telemetry.Store, rooms *coach.Manager, opts Options) *Gateway {
	return &Gateway{
		tokens:   tokens,
		registry: registry,
		store:    store,
		rooms:    rooms,
		opts:     opts,
		logger:   log.With().Str("module", "gateway").Logger(),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// local clients are native processes and send no Origin
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	c.SetReadLimit(config.TelemetryReadLimit)

	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error().Interface("panic", rec).Msg("telemetry connection panicked")
			_ = c.Close(websocket.StatusInternalError, "internal error")
		}
	}()

	ctx := r.Context()

	identity, encoding, reason := g.handshake(ctx, c)
	if identity == nil {
		metrics.AuthFailures.WithLabelValues(string(reason)).Inc()
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventAuthFailure,
			Details: map[string]interface{}{"reason": string(reason)},
		})
		_ = c.Close(closeStatus(reason), string(reason))
		return
	}

	conn := relay.NewConn(*identity, func(reason model.CloseReason) {
		// closing waits for the peer's close frame; never block the caller
		go func() { _ = c.Close(closeStatus(reason), string(reason)) }()
	})
	logger := g.logger.With().
		Str("connId", conn.ID).
		Str("roomId", identity.RoomID).
		Str("userId", identity.UserID).
		Logger()

	if displaced := g.registry.Bind(ctx, conn); displaced != nil {
		displaced.Close(model.CloseDisplaced)
		audit.LogFromRequest(r, audit.Event{
			Type:      audit.EventDisplaced,
			UserID:    identity.UserID,
			RoomID:    identity.RoomID,
			TokenHash: identity.TokenHash,
			Details:   map[string]interface{}{"displacedConnId": displaced.ID},
		})
	}
	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventConnectionBind,
		UserID:    identity.UserID,
		RoomID:    identity.RoomID,
		TokenHash: identity.TokenHash,
	})

	room, _ := g.rooms.GetOrCreate(identity.RoomID)
	room.RegisterToken(identity.UserID, identity.TokenHash)
	g.store.MarkConnected(identity.TokenHash)

	defer func() {
		if g.registry.Unbind(conn) {
			g.store.MarkDisconnected(identity.TokenHash)
		}
		_ = c.Close(websocket.StatusNormalClosure, "")
		logger.Info().Str("reason", string(conn.CloseReason())).Msg("telemetry connection closed")
	}()

	if err := g.write(ctx, c, encoding, Frame{
		Type:        frameConnected,
		RoomID:      identity.RoomID,
		DisplayName: identity.DisplayName,
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to acknowledge handshake")
		return
	}

	logger.Info().Msg("telemetry client connected")
	g.readLoop(ctx, c, conn, logger)
}

// handshake reads the auth frame. On failure it returns a nil identity
// and the reason to close with.
func (g *Gateway) handshake(ctx context.Context, c *websocket.Conn) (*model.TokenIdentity, websocket.MessageType, model.CloseReason) {
	timer := time.AfterFunc(g.opts.HandshakeTimeout, func() {
		_ = c.Close(StatusHandshakeRequired, string(model.CloseHandshakeRequired))
	})
	defer timer.Stop()

	typ, data, err := c.Read(ctx)
	if err != nil {
		return nil, 0, model.CloseHandshakeRequired
	}

	frame, err := decodeFrame(typ, data)
	if err != nil || frame.Type != frameAuth || frame.Token == "" {
		return nil, typ, model.CloseHandshakeRequired
	}

	identity, err := g.tokens.Validate(ctx, frame.Token)
	switch {
	case err == nil:
		return identity, typ, ""
	case apperrors.HasCode(err, apperrors.ErrCodeTokenExpired):
		return nil, typ, model.CloseTokenExpired
	case apperrors.HasCode(err, apperrors.ErrCodeTokenUnknown):
		return nil, typ, model.CloseTokenUnknown
	default:
		g.logger.Error().Err(err).Msg("token validation failed")
		return nil, typ, model.CloseTokenUnknown
	}
}

// readLoop applies frames in receive order until the connection closes
// or stays silent for the idle timeout.
func (g *Gateway) readLoop(ctx context.Context, c *websocket.Conn, conn *relay.Conn, logger zerolog.Logger) {
	idle := time.AfterFunc(g.opts.IdleTimeout, func() {
		conn.Close(model.CloseIdleTimeout)
	})
	defer idle.Stop()

	tokenHash := conn.TokenHash()

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				logger.Debug().Err(err).Msg("telemetry read ended")
			}
			return
		}

		idle.Reset(g.opts.IdleTimeout)
		conn.Touch()

		frame, err := decodeFrame(typ, data)
		if err != nil {
			logger.Warn().Err(err).Msg("invalid telemetry frame")
			g.writeError(ctx, c, typ, "invalid frame")
			continue
		}

		switch frame.Type {
		case frameUpdate:
			if err := g.store.Update(tokenHash, frame.Data); err != nil {
				g.writeError(ctx, c, typ, err.Error())
				continue
			}
			g.notifyRoom(conn.Identity)

		case framePing:
			if err := g.write(ctx, c, typ, Frame{Type: framePong}); err != nil {
				return
			}

		default:
			g.writeError(ctx, c, typ, "unsupported frame type "+frame.Type)
		}
	}
}

// notifyRoom resolves the room per update: it may have been removed and
// re-joined since the handshake.
func (g *Gateway) notifyRoom(identity model.TokenIdentity) {
	room, ok := g.rooms.Get(identity.RoomID)
	if !ok {
		return
	}
	room.RegisterToken(identity.UserID, identity.TokenHash)
	room.OnTelemetry(identity.TokenHash)
}

func (g *Gateway) write(ctx context.Context, c *websocket.Conn, typ websocket.MessageType, f Frame) error {
	data, err := encodeFrame(typ, f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, config.TelemetryWriteTimeout)
	defer cancel()
	return c.Write(ctx, typ, data)
}

func (g *Gateway) writeError(ctx context.Context, c *websocket.Conn, typ websocket.MessageType, message string) {
	if err := g.write(ctx, c, typ, Frame{Type: frameError, Message: message}); err != nil {
		g.logger.Debug().Err(err).Msg("failed to send error frame")
	}
}

func closeStatus(reason model.CloseReason) websocket.StatusCode {
	switch reason {
	case model.CloseHandshakeRequired:
		return StatusHandshakeRequired
	case model.CloseTokenUnknown:
		return StatusTokenUnknown
	case model.CloseTokenExpired:
		return StatusTokenExpired
	case model.CloseDisplaced:
		return StatusDisplaced
	case model.CloseIdleTimeout:
		return StatusIdleTimeout
	case model.CloseShutdown:
		return websocket.StatusGoingAway
	default:
		return websocket.StatusNormalClosure
	}
}
