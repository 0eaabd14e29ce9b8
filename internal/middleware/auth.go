package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
	"github.com/lolcoach/coach-relay-go/internal/httputil"
	"github.com/lolcoach/coach-relay-go/internal/util"
)

// BotAuthMiddleware admits only the bot command layer, which presents
// the shared BOT_API_SECRET as a bearer token.
type BotAuthMiddleware struct {
	secret string
}

func NewBotAuthMiddleware(secret string) *BotAuthMiddleware {
	return &BotAuthMiddleware{secret: secret}
}

func (m *BotAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		if !util.ConstantTimeEqual(token, m.secret) {
			log.Warn().Str("ip", r.RemoteAddr).Msg("auth middleware: invalid bot secret")
			httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
