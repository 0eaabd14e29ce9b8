package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows requests under limit", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			allowed, remaining, _ := limiter.Check(ctx, "room:1", 10)
			assert.True(t, allowed)
			assert.Equal(t, 10-i-1, remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "room:2", 5)
		}

		allowed, remaining, _ := limiter.Check(ctx, "room:2", 5)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
	})

	t.Run("tracks keys separately", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "room:a", 5)
		}

		allowed, _, _ := limiter.Check(ctx, "room:b", 5)
		assert.True(t, allowed)
	})

	t.Run("returns reset time", func(t *testing.T) {
		limiter := NewRateLimiter()

		_, _, resetAt := limiter.Check(ctx, "room:3", 10)
		assert.Greater(t, resetAt, int64(0))
	})
}

func TestRoomRateLimitMiddleware(t *testing.T) {
	newRouter := func(limit int) http.Handler {
		r := chi.NewRouter()
		r.Route("/v1/rooms/{roomID}", func(r chi.Router) {
			r.Use(NewRoomRateLimitMiddleware(NewRateLimiter(), limit).Handler)
			r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		})
		return r
	}

	t.Run("sets rate limit headers", func(t *testing.T) {
		router := newRouter(100)

		req := httptest.NewRequest("GET", "/v1/rooms/guild-1/status", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("limits per room", func(t *testing.T) {
		router := newRouter(2)

		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/rooms/busy/status", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/rooms/busy/status", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/rooms/quiet/status", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
