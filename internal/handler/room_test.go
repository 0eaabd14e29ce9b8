package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolcoach/coach-relay-go/internal/coach"
	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
	"github.com/lolcoach/coach-relay-go/internal/httputil"
	"github.com/lolcoach/coach-relay-go/internal/model"
	"github.com/lolcoach/coach-relay-go/internal/relay"
	"github.com/lolcoach/coach-relay-go/internal/repository"
	"github.com/lolcoach/coach-relay-go/internal/service"
	"github.com/lolcoach/coach-relay-go/internal/telemetry"
)

type recordingDelivery struct {
	mu   sync.Mutex
	jobs []model.AudioJob
}

func (d *recordingDelivery) Enqueue(job model.AudioJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *recordingDelivery) Flush(string) int { return 0 }
func (d *recordingDelivery) Close(string)     {}
func (d *recordingDelivery) Depth(string) int { return 0 }

func (d *recordingDelivery) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

type fixedAnalyzer struct {
	answer string
	err    error
}

func (a fixedAnalyzer) Answer(ctx context.Context, req coach.AskRequest) (string, error) {
	return a.answer, a.err
}

func (a fixedAnalyzer) Report(ctx context.Context, req coach.PostgameRequest) (string, error) {
	return "report for " + req.SummonerName, a.err
}

type handlerEnv struct {
	router   http.Handler
	rooms    *coach.Manager
	delivery *recordingDelivery
	registry *relay.Registry
	broker   *service.TokenBroker
}

func newHandlerEnv(t *testing.T, analyzer fixedAnalyzer) *handlerEnv {
	t.Helper()

	delivery := &recordingDelivery{}
	registry := relay.NewRegistry(nil)
	store := telemetry.NewStore(time.Minute)
	rooms := coach.NewManager(coach.Deps{
		Snapshots:   store,
		Delivery:    delivery,
		Connections: registry,
		Analyzer:    analyzer,
		Reporter:    analyzer,
	}, coach.Options{CoachName: "Coach"})
	broker := service.NewTokenBroker(repository.NewMemoryTokenRepository(nil), 30*24*time.Hour)

	r := chi.NewRouter()
	r.Mount("/v1/tokens", NewTokenHandler(broker, rooms, registry).Routes())
	r.Mount("/v1/rooms", NewRoomHandler(rooms).Routes())

	t.Cleanup(func() {
		rooms.Shutdown()
		registry.Close()
	})

	return &handlerEnv{
		router:   r,
		rooms:    rooms,
		delivery: delivery,
		registry: registry,
		broker:   broker,
	}
}

func (e *handlerEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestRoomHandler_JoinAndLeave(t *testing.T) {
	env := newHandlerEnv(t, fixedAnalyzer{answer: "ok"})

	rec := env.do(t, http.MethodPut, "/v1/rooms/guild-1", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["created"])

	rec = env.do(t, http.MethodPut, "/v1/rooms/guild-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/rooms/guild-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/rooms/guild-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.ErrCodeRoomNotFound, decodeBody[httputil.ErrorResponse](t, rec).Code)
}

func TestRoomHandler_StartStop(t *testing.T) {
	env := newHandlerEnv(t, fixedAnalyzer{answer: "ok"})

	rec := env.do(t, http.MethodPost, "/v1/rooms/guild-1/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.MonitoringActive, decodeBody[coach.Status](t, rec).State)

	rec = env.do(t, http.MethodPost, "/v1/rooms/guild-1/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.ErrCodeAlreadyActive, decodeBody[httputil.ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/v1/rooms/guild-1/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/rooms/guild-1/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.ErrCodeNotActive, decodeBody[httputil.ErrorResponse](t, rec).Code)
}

func TestRoomHandler_Tips(t *testing.T) {
	env := newHandlerEnv(t, fixedAnalyzer{answer: "ok"})
	env.do(t, http.MethodPost, "/v1/rooms/guild-1/start", nil)

	rec := env.do(t, http.MethodPost, "/v1/rooms/guild-1/tips", tipRequest{Text: "Ward the river"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[map[string]bool](t, rec)["delivered"])

	rec = env.do(t, http.MethodPost, "/v1/rooms/guild-1/tips", tipRequest{Text: "ward THE river"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[map[string]bool](t, rec)["delivered"])

	assert.Equal(t, 1, env.delivery.Len())
}

func TestRoomHandler_Ask(t *testing.T) {
	t.Run("returns the answer", func(t *testing.T) {
		env := newHandlerEnv(t, fixedAnalyzer{answer: "Buy pink wards."})

		rec := env.do(t, http.MethodPost, "/v1/rooms/guild-1/ask", askRequest{UserID: "u1", Question: "vision?"})

		require.Equal(t, http.StatusOK, rec.Code)
		result := decodeBody[coach.AskResult](t, rec)
		assert.Equal(t, "Buy pink wards.", result.Answer)
		assert.False(t, result.HasContext)
	})

	t.Run("analyzer failure still answers", func(t *testing.T) {
		env := newHandlerEnv(t, fixedAnalyzer{err: errors.New("down")})

		rec := env.do(t, http.MethodPost, "/v1/rooms/guild-1/ask", askRequest{UserID: "u1", Question: "vision?"})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decodeBody[coach.AskResult](t, rec).Recovered)
	})

	t.Run("validates input", func(t *testing.T) {
		env := newHandlerEnv(t, fixedAnalyzer{answer: "ok"})

		rec := env.do(t, http.MethodPost, "/v1/rooms/guild-1/ask", askRequest{Question: "vision?"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		req := httptest.NewRequest(http.MethodPost, "/v1/rooms/guild-1/ask", bytes.NewBufferString("{not json"))
		rec = httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeValidation, decodeBody[httputil.ErrorResponse](t, rec).Code)
	})
}

func TestRoomHandler_Postgame(t *testing.T) {
	env := newHandlerEnv(t, fixedAnalyzer{answer: "ok"})

	rec := env.do(t, http.MethodPost, "/v1/rooms/guild-1/postgame", postgameRequest{SummonerName: "Faker"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report for Faker", decodeBody[coach.PostgameResult](t, rec).Report)
}

func TestRoomHandler_NameVoiceStatus(t *testing.T) {
	env := newHandlerEnv(t, fixedAnalyzer{answer: "ok"})

	rec := env.do(t, http.MethodPut, "/v1/rooms/guild-1/name", nameRequest{Name: "Mentor"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/rooms/guild-1/voice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.ErrCodeNoVoice, decodeBody[httputil.ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/v1/rooms/guild-1/voice", voiceRequest{ChannelID: "vc-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody[map[string]any](t, rec)["moved"])

	rec = env.do(t, http.MethodGet, "/v1/rooms/guild-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[coach.Status](t, rec)
	assert.Equal(t, "Mentor", status.CoachName)
	require.NotNil(t, status.Voice)
	assert.Equal(t, "vc-1", status.Voice.ChannelID)
	assert.Equal(t, model.MonitoringIdle, status.State)

	rec = env.do(t, http.MethodDelete, "/v1/rooms/guild-1/voice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
