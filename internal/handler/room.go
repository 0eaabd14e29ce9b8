package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lolcoach/coach-relay-go/internal/audit"
	"github.com/lolcoach/coach-relay-go/internal/coach"
	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
	"github.com/lolcoach/coach-relay-go/internal/httputil"
)

// RoomHandler is the command boundary for the bot layer. Rooms are
// created on first reference; only DELETE removes one.
type RoomHandler struct {
	rooms       *coach.Manager
	middlewares []func(http.Handler) http.Handler
}

// NewRoomHandler applies middlewares inside the {roomID} route so they
// can read the room parameter.
func NewRoomHandler(rooms *coach.Manager, middlewares ...func(http.Handler) http.Handler) *RoomHandler {
	return &RoomHandler{
		rooms:       rooms,
		middlewares: middlewares,
	}
}

func (h *RoomHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/{roomID}", func(r chi.Router) {
		r.Use(h.middlewares...)

		r.Put("/", h.Join)
		r.Delete("/", h.Leave)
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Post("/ask", h.Ask)
		r.Post("/postgame", h.Postgame)
		r.Post("/tips", h.OfferTip)
		r.Put("/name", h.SetName)
		r.Post("/voice", h.AttachVoice)
		r.Delete("/voice", h.DetachVoice)
		r.Get("/status", h.Status)
	})

	return r
}

func (h *RoomHandler) room(r *http.Request) *coach.Room {
	room, _ := h.rooms.GetOrCreate(chi.URLParam(r, "roomID"))
	return room
}

// PUT /v1/rooms/{roomID}
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	_, created := h.rooms.GetOrCreate(roomID)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"roomId":  roomID,
		"created": created,
	})
}

// DELETE /v1/rooms/{roomID}
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if !h.rooms.Leave(roomID) {
		httputil.WriteError(w, apperrors.RoomNotFound(roomID))
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventRoomLeft, RoomID: roomID})
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/rooms/{roomID}/start
func (h *RoomHandler) Start(w http.ResponseWriter, r *http.Request) {
	room := h.room(r)
	if err := room.Start(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room.Status())
}

// POST /v1/rooms/{roomID}/stop
func (h *RoomHandler) Stop(w http.ResponseWriter, r *http.Request) {
	room := h.room(r)
	if err := room.Stop(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room.Status())
}

type askRequest struct {
	UserID   string `json:"userId"`
	Question string `json:"question"`
}

// POST /v1/rooms/{roomID}/ask
func (h *RoomHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.UserID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("userId"))
		return
	}

	result, err := h.room(r).Ask(r.Context(), req.UserID, req.Question)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type postgameRequest struct {
	SummonerName string `json:"summonerName"`
}

// POST /v1/rooms/{roomID}/postgame
func (h *RoomHandler) Postgame(w http.ResponseWriter, r *http.Request) {
	var req postgameRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.room(r).Postgame(r.Context(), req.SummonerName)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type tipRequest struct {
	Text string `json:"text"`
}

// POST /v1/rooms/{roomID}/tips
func (h *RoomHandler) OfferTip(w http.ResponseWriter, r *http.Request) {
	var req tipRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	delivered, err := h.room(r).OfferTip(req.Text)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": delivered})
}

type nameRequest struct {
	Name string `json:"name"`
}

// PUT /v1/rooms/{roomID}/name
func (h *RoomHandler) SetName(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	room := h.room(r)
	if err := room.SetName(req.Name); err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"coachName": room.Name()})
}

type voiceRequest struct {
	ChannelID string `json:"channelId"`
}

// POST /v1/rooms/{roomID}/voice
func (h *RoomHandler) AttachVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	moved, err := h.room(r).AttachVoice(req.ChannelID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channelId": req.ChannelID,
		"moved":     moved,
	})
}

// DELETE /v1/rooms/{roomID}/voice
func (h *RoomHandler) DetachVoice(w http.ResponseWriter, r *http.Request) {
	if err := h.room(r).DetachVoice(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/rooms/{roomID}/status
func (h *RoomHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.room(r).Status())
}
