package coach

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
	"github.com/lolcoach/coach-relay-go/internal/metrics"
	"github.com/lolcoach/coach-relay-go/internal/model"
	"github.com/lolcoach/coach-relay-go/internal/telemetry"
)

const (
	askApology      = "Sorry, I could not come up with an answer right now. Please try again in a moment."
	postgameApology = "Sorry, I could not analyze that match right now. Please try again later."
)

// Room is the coaching session of one room. Every state-changing
// operation holds mu, so operations on one room never interleave.
type Room struct {
	ID string

	m      *Manager
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   model.MonitoringState
	name    string
	voice   *VoiceOutput
	history []string          // normalized, most recent first
	tokens  map[string]string // userID -> tokenHash
	closed  bool

	// pending holds tokens updated since their last analysis; guarded by
	// analysisMu together with analyzing.
	analysisMu sync.Mutex
	pending    map[string]struct{}
	analyzing  bool
}

type Status struct {
	RoomID           string                `json:"roomId"`
	State            model.MonitoringState `json:"state"`
	CoachName        string                `json:"coachName"`
	Voice            *VoiceOutput          `json:"voice,omitempty"`
	ConnectedClients int                   `json:"connectedClients"`
	MonitoredUsers   int                   `json:"monitoredUsers"`
	QueueDepth       int                   `json:"queueDepth"`
}

type AskResult struct {
	Answer     string                `json:"answer"`
	HasContext bool                  `json:"hasContext"`
	Context    telemetry.GameContext `json:"context"`
	Recovered  bool                  `json:"recovered"`
}

type PostgameResult struct {
	SummonerName string `json:"summonerName"`
	Report       string `json:"report"`
	Recovered    bool   `json:"recovered"`
}

func newRoom(parent context.Context, id string, m *Manager) *Room {
	ctx, cancel := context.WithCancel(parent)
	return &Room{
		ID:      id,
		m:       m,
		logger:  m.logger.With().Str("roomId", id).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		state:   model.MonitoringIdle,
		name:    m.opts.CoachName,
		tokens:  make(map[string]string),
		pending: make(map[string]struct{}),
	}
}

// Start moves the room from Idle to Monitoring.
func (r *Room) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return apperrors.RoomNotFound(r.ID)
	}
	if r.state == model.MonitoringActive {
		return apperrors.AlreadyActive()
	}

	r.transition(model.MonitoringActive)
	r.history = nil
	return nil
}

// Stop moves the room back to Idle and discards its pending output.
func (r *Room) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return apperrors.RoomNotFound(r.ID)
	}
	if r.state == model.MonitoringIdle {
		return apperrors.NotActive()
	}

	r.transition(model.MonitoringIdle)
	r.history = nil
	r.m.deps.Delivery.Flush(r.ID)
	return nil
}

func (r *Room) State() model.MonitoringState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OfferTip delivers text unless it repeats one of the recently delivered
// tips. A dropped duplicate is not an error. Tips are spoken while a
// voice channel is bound and posted as text otherwise.
func (r *Room) OfferTip(text string) (bool, error) {
	key := normalizeTip(text)
	if key == "" {
		return false, apperrors.MissingRequired("text")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, apperrors.RoomNotFound(r.ID)
	}
	if r.state != model.MonitoringActive {
		return false, apperrors.NotActive()
	}

	for _, seen := range r.history {
		if seen == key {
			metrics.TipsDeduplicated.Inc()
			r.logger.Debug().Str("tip", text).Msg("duplicate tip dropped")
			return false, nil
		}
	}

	kind := model.AudioJobText
	if r.voice != nil {
		kind = model.AudioJobSpoken
	}
	if err := r.enqueue(kind, strings.TrimSpace(text)); err != nil {
		return false, err
	}

	r.history = append([]string{key}, r.history...)
	if len(r.history) > r.m.opts.TipHistorySize {
		r.history = r.history[:r.m.opts.TipHistorySize]
	}
	return true, nil
}

// OnTelemetry schedules tip generation from tokenHash's latest snapshot.
// At most one analysis runs per room. Updates arriving meanwhile mark
// their token pending, and every pending token gets one more pass over
// its newest snapshot.
func (r *Room) OnTelemetry(tokenHash string) {
	if r.m.deps.Tips == nil || r.State() != model.MonitoringActive {
		return
	}

	r.analysisMu.Lock()
	r.pending[tokenHash] = struct{}{}
	if r.analyzing {
		r.analysisMu.Unlock()
		return
	}
	r.analyzing = true
	r.analysisMu.Unlock()

	go r.analyzeLoop()
}

func (r *Room) analyzeLoop() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("tip analysis panicked")
			r.analysisMu.Lock()
			r.analyzing = false
			r.analysisMu.Unlock()
		}
	}()

	for {
		r.analysisMu.Lock()
		if len(r.pending) == 0 {
			r.analyzing = false
			r.analysisMu.Unlock()
			return
		}
		batch := r.pending
		r.pending = make(map[string]struct{})
		r.analysisMu.Unlock()

		for tokenHash := range batch {
			r.analyzeOnce(tokenHash)
		}
	}
}

func (r *Room) isAnalyzing() bool {
	r.analysisMu.Lock()
	defer r.analysisMu.Unlock()
	return r.analyzing
}

func (r *Room) analyzeOnce(tokenHash string) {
	snapshot, ok := r.m.deps.Snapshots.Get(tokenHash)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.m.opts.AnalysisTimeout)
	defer cancel()

	tips, err := r.m.deps.Tips.Tips(ctx, TipRequest{
		RoomID:    r.ID,
		CoachName: r.Name(),
		Snapshot:  snapshot.Payload,
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("tip source failed")
		return
	}

	for _, tip := range tips {
		if _, err := r.OfferTip(tip); err != nil {
			// stopped or removed mid-analysis
			return
		}
	}
}

// Ask answers question for userID using the live game context of the
// user's token in this room, when there is one. An analyzer failure is
// answered with an apology instead of an error.
func (r *Room) Ask(ctx context.Context, userID, question string) (*AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperrors.MissingRequired("question")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, apperrors.RoomNotFound(r.ID)
	}
	tokenHash, hasToken := r.tokens[userID]
	coachName := r.name
	r.mu.Unlock()

	result := &AskResult{}
	if hasToken {
		if snapshot, ok := r.m.deps.Snapshots.Get(tokenHash); ok {
			result.Context = telemetry.Summarize(snapshot.Payload)
			result.HasContext = true
		}
	}

	req := AskRequest{
		RoomID:    r.ID,
		UserID:    userID,
		CoachName: coachName,
		Question:  question,
		Context:   result.Context,
	}
	if result.HasContext {
		req.GameContext = result.Context.Describe()
	}

	answer, err := r.callAnalyzer(ctx, req)
	if err != nil {
		r.logger.Warn().Err(err).Str("userId", userID).Msg("analyzer failed, answering with apology")
		answer = askApology
		result.Recovered = true
	}
	result.Answer = answer

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, apperrors.RoomNotFound(r.ID)
	}
	if err := r.enqueue(model.AudioJobText, fmt.Sprintf("%s: %s", coachName, answer)); err != nil {
		return nil, err
	}
	if r.voice != nil {
		if err := r.enqueue(model.AudioJobSpoken, answer); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Postgame asks the match reporter for a summoner's last match and posts
// the report, followed by a short spoken notice when a voice channel is
// bound.
func (r *Room) Postgame(ctx context.Context, summonerName string) (*PostgameResult, error) {
	summonerName = strings.TrimSpace(summonerName)
	if summonerName == "" {
		return nil, apperrors.MissingRequired("summonerName")
	}

	coachName := r.Name()
	result := &PostgameResult{SummonerName: summonerName}

	report, err := r.callReporter(ctx, PostgameRequest{
		RoomID:       r.ID,
		CoachName:    coachName,
		SummonerName: summonerName,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("summonerName", summonerName).Msg("match reporter failed, answering with apology")
		report = postgameApology
		result.Recovered = true
	}
	result.Report = report

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, apperrors.RoomNotFound(r.ID)
	}
	if err := r.enqueue(model.AudioJobText, report); err != nil {
		return nil, err
	}
	if r.voice != nil && !result.Recovered {
		notice := fmt.Sprintf("Post-game analysis for %s is done. Check the chat for the full report.", summonerName)
		if err := r.enqueue(model.AudioJobSpoken, notice); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *Room) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.MissingRequired("name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return apperrors.RoomNotFound(r.ID)
	}
	r.name = name
	return nil
}

func (r *Room) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// AttachVoice binds the room to channelID, replacing any previous
// channel (a move). It reports whether a channel was already bound.
func (r *Room) AttachVoice(channelID string) (moved bool, err error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return false, apperrors.MissingRequired("channelId")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, apperrors.RoomNotFound(r.ID)
	}

	moved = r.voice != nil
	r.voice = &VoiceOutput{ChannelID: channelID, AttachedAt: time.Now()}
	r.logger.Info().Str("channelId", channelID).Bool("moved", moved).Msg("voice attached")
	return moved, nil
}

func (r *Room) DetachVoice() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return apperrors.RoomNotFound(r.ID)
	}
	if r.voice == nil {
		return apperrors.NoVoice()
	}

	r.voice = nil
	r.logger.Info().Msg("voice detached")
	return nil
}

func (r *Room) Status() Status {
	r.mu.Lock()
	status := Status{
		RoomID:         r.ID,
		State:          r.state,
		CoachName:      r.name,
		MonitoredUsers: len(r.tokens),
	}
	if r.voice != nil {
		voice := *r.voice
		status.Voice = &voice
	}
	r.mu.Unlock()

	if r.m.deps.Connections != nil {
		status.ConnectedClients = r.m.deps.Connections.CountByRoom(r.ID)
	}
	status.QueueDepth = r.m.deps.Delivery.Depth(r.ID)
	return status
}

// RegisterToken associates userID's current token with this room. A
// user has at most one token per room, so a newer one replaces it.
func (r *Room) RegisterToken(userID, tokenHash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.tokens[userID] = tokenHash
}

func (r *Room) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.state = model.MonitoringIdle
	r.voice = nil
	r.history = nil
	r.tokens = nil
	r.mu.Unlock()

	r.cancel()
	r.m.deps.Delivery.Close(r.ID)
}

// enqueue must be called with mu held.
func (r *Room) enqueue(kind model.AudioJobKind, text string) error {
	return r.m.deps.Delivery.Enqueue(model.AudioJob{
		RoomID: r.ID,
		Kind:   kind,
		Text:   text,
	})
}

// transition must be called with mu held.
func (r *Room) transition(to model.MonitoringState) {
	metrics.RoomTransitions.WithLabelValues(string(r.state), string(to)).Inc()
	r.logger.Info().Str("from", string(r.state)).Str("to", string(to)).Msg("monitoring state changed")
	r.state = to
}

func (r *Room) callAnalyzer(ctx context.Context, req AskRequest) (string, error) {
	if r.m.deps.Analyzer == nil {
		return "", apperrors.External("analyzer", fmt.Errorf("not configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, r.m.opts.AnalysisTimeout)
	defer cancel()
	return r.m.deps.Analyzer.Answer(ctx, req)
}

func (r *Room) callReporter(ctx context.Context, req PostgameRequest) (string, error) {
	if r.m.deps.Reporter == nil {
		return "", apperrors.External("match reporter", fmt.Errorf("not configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, r.m.opts.AnalysisTimeout)
	defer cancel()
	return r.m.deps.Reporter.Report(ctx, req)
}

// normalizeTip lowercases text and collapses runs of whitespace.
func normalizeTip(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
