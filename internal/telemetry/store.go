package telemetry

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
	"github.com/lolcoach/coach-relay-go/internal/metrics"
	"github.com/lolcoach/coach-relay-go/internal/util"
)

// Snapshot is the most recent game state pushed for a token. It is
// replaced whole on every update and never mutated afterwards.
type Snapshot struct {
	TokenHash  string          `json:"-"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Payload    json.RawMessage `json:"payload"`
}

type entry struct {
	snapshot       *Snapshot
	connected      bool
	disconnectedAt time.Time
}

// Store keeps the latest snapshot per token. A snapshot outlives its
// connection for the grace period so that a quick reconnect does not
// lose game context.
type Store struct {
	entries map[string]*entry
	grace   time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

func NewStore(grace time.Duration) *Store {
	return &Store{
		entries: make(map[string]*entry),
		grace:   grace,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Update overwrites the snapshot for tokenHash. payload must be a JSON
// object; it is copied and otherwise kept opaque.
func (s *Store) Update(tokenHash string, payload []byte) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return apperrors.ValidationError("telemetry payload must be a JSON object")
	}

	snapshot := &Snapshot{
		TokenHash:  tokenHash,
		ReceivedAt: s.now(),
		Payload:    append(json.RawMessage(nil), trimmed...),
	}

	s.mu.Lock()
	e, ok := s.entries[tokenHash]
	if !ok {
		e = &entry{}
		s.entries[tokenHash] = e
	}
	e.snapshot = snapshot
	e.connected = true
	s.mu.Unlock()

	metrics.TelemetryUpdates.Inc()
	return nil
}

// Get returns the current snapshot. ok is false when nothing was ever
// received for the token or its connection closed longer than the grace
// period ago.
func (s *Store) Get(tokenHash string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[tokenHash]
	if !ok || e.snapshot == nil || s.expired(e) {
		return nil, false
	}
	return e.snapshot, true
}

func (s *Store) Evict(tokenHash string) {
	s.mu.Lock()
	delete(s.entries, tokenHash)
	s.mu.Unlock()
}

// MarkConnected cancels any pending grace countdown.
func (s *Store) MarkConnected(tokenHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[tokenHash]
	if !ok {
		e = &entry{}
		s.entries[tokenHash] = e
	}
	e.connected = true
	e.disconnectedAt = time.Time{}
}

// MarkDisconnected starts the grace countdown for tokenHash.
func (s *Store) MarkDisconnected(tokenHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[tokenHash]
	if !ok {
		return
	}
	e.connected = false
	e.disconnectedAt = s.now()
}

// EvictStale drops every entry whose grace period has run out and
// returns how many were removed.
func (s *Store) EvictStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for tokenHash, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, tokenHash)
			evicted++
			log.Debug().
				Str("token", util.MaskToken(tokenHash)).
				Msg("telemetry snapshot evicted")
		}
	}

	if evicted > 0 {
		metrics.SnapshotsEvicted.Add(float64(evicted))
	}
	return evicted
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// expired must be called with mu held.
func (s *Store) expired(e *entry) bool {
	if e.connected {
		return false
	}
	return s.now().Sub(e.disconnectedAt) > s.grace
}
