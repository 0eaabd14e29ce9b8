package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
	"github.com/lolcoach/coach-relay-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.ValidationError("Invalid request body").WithCause(err)
	}
	return nil
}
