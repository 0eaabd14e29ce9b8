package coach

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	CoachName       string
	TipHistorySize  int
	AnalysisTimeout time.Duration
}

type Deps struct {
	Snapshots   SnapshotReader
	Delivery    Delivery
	Connections ConnectionCounter
	Analyzer    Analyzer
	Tips        TipSource
	Reporter    MatchReporter
}

// Manager owns the room table. Rooms are created on first reference and
// destroyed only by Leave.
type Manager struct {
	deps   Deps
	opts   Options
	rooms  map[string]*Room
	mu     sync.RWMutex
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(deps Deps, opts Options) *Manager {
	if opts.TipHistorySize <= 0 {
		opts.TipHistorySize = 5
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:   deps,
		opts:   opts,
		rooms:  make(map[string]*Room),
		logger: log.With().Str("module", "coach").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// GetOrCreate returns the room for roomID, creating it when missing.
// created reports whether this call created it.
func (m *Manager) GetOrCreate(roomID string) (room *Room, created bool) {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if ok {
		return room, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok = m.rooms[roomID]; ok {
		return room, false
	}

	room = newRoom(m.ctx, roomID, m)
	m.rooms[roomID] = room
	m.logger.Info().Str("roomId", roomID).Msg("room created")
	return room, true
}

func (m *Manager) Get(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

// Leave destroys the room and releases its voice output, queued jobs and
// tip history. It reports false when the room did not exist.
func (m *Manager) Leave(roomID string) bool {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	delete(m.rooms, roomID)
	m.mu.Unlock()

	if !ok {
		return false
	}

	room.close()
	m.logger.Info().Str("roomId", roomID).Msg("room removed")
	return true
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Shutdown stops background analysis in every room.
func (m *Manager) Shutdown() {
	m.cancel()

	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, room := range rooms {
		room.close()
	}
}
