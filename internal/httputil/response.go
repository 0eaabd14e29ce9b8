package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		// Wrap unknown errors as internal errors
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	status := StatusFromCode(appErr.Code)
	response := ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	}

	WriteJSON(w, status, response)
}

// StatusFromCode maps ErrorCode to HTTP status code
func StatusFromCode(code apperrors.ErrorCode) int {
	switch code {
	// 400 Bad Request
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeMissingRequired,
		apperrors.ErrCodeHandshake:
		return http.StatusBadRequest

	// 401 Unauthorized
	case apperrors.ErrCodeUnauthorized,
		apperrors.ErrCodeTokenUnknown,
		apperrors.ErrCodeTokenExpired:
		return http.StatusUnauthorized

	// 404 Not Found
	case apperrors.ErrCodeRoomNotFound:
		return http.StatusNotFound

	// 409 Conflict: session-state misuse is a notice, not a failure
	case apperrors.ErrCodeAlreadyActive,
		apperrors.ErrCodeNotActive,
		apperrors.ErrCodeNoVoice:
		return http.StatusConflict

	// 429 Too Many Requests
	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	// 502 Bad Gateway
	case apperrors.ErrCodeExternal,
		apperrors.ErrCodeRenderFailed:
		return http.StatusBadGateway

	// 503 Service Unavailable
	case apperrors.ErrCodeQueueClosed:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
