package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lolcoach/coach-relay-go/internal/coach"
	"github.com/lolcoach/coach-relay-go/internal/httputil"
	"github.com/lolcoach/coach-relay-go/internal/model"
	"github.com/lolcoach/coach-relay-go/internal/relay"
	"github.com/lolcoach/coach-relay-go/internal/service"
	"github.com/lolcoach/coach-relay-go/internal/util"
)

type TokenHandler struct {
	broker   *service.TokenBroker
	rooms    *coach.Manager
	registry *relay.Registry
}

func NewTokenHandler(broker *service.TokenBroker, rooms *coach.Manager, registry *relay.Registry) *TokenHandler {
	return &TokenHandler{
		broker:   broker,
		rooms:    rooms,
		registry: registry,
	}
}

func (h *TokenHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Issue)
	r.Delete("/{token}", h.Revoke)

	return r
}

type issueTokenRequest struct {
	UserID      string `json:"userId"`
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

// POST /v1/tokens
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	issued, err := h.broker.Issue(r.Context(), req.UserID, req.RoomID, req.DisplayName)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if issued.SupersededHash != "" {
		if conn := h.registry.Lookup(issued.SupersededHash); conn != nil {
			conn.Close(model.CloseTokenUnknown)
		}
	}

	room, _ := h.rooms.GetOrCreate(issued.RoomID)
	room.RegisterToken(issued.UserID, util.HashToken(issued.Token))

	writeJSON(w, http.StatusCreated, issued)
}

// DELETE /v1/tokens/{token}
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if err := h.broker.Revoke(r.Context(), token); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if conn := h.registry.Lookup(util.HashToken(token)); conn != nil {
		conn.Close(model.CloseTokenUnknown)
	}

	w.WriteHeader(http.StatusNoContent)
}
