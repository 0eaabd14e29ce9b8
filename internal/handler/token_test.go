package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
	"github.com/lolcoach/coach-relay-go/internal/httputil"
	"github.com/lolcoach/coach-relay-go/internal/model"
	"github.com/lolcoach/coach-relay-go/internal/relay"
	"github.com/lolcoach/coach-relay-go/internal/service"
	"github.com/lolcoach/coach-relay-go/internal/util"
)

func TestTokenHandler_Issue(t *testing.T) {
	t.Run("issues a token and registers it with the room", func(t *testing.T) {
		env := newHandlerEnv(t, fixedAnalyzer{answer: "ok"})

		rec := env.do(t, http.MethodPost, "/v1/tokens", issueTokenRequest{
			UserID:      "u1",
			RoomID:      "guild-1",
			DisplayName: "Ana",
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		issued := decodeBody[service.IssuedToken](t, rec)
		assert.Len(t, issued.Token, 64)
		assert.Equal(t, "guild-1", issued.RoomID)
		assert.Equal(t, int64(30*24*60*60), issued.ExpiresIn)

		identity, err := env.broker.Validate(context.Background(), issued.Token)
		require.NoError(t, err)
		assert.Equal(t, "u1", identity.UserID)

		room, ok := env.rooms.Get("guild-1")
		require.True(t, ok)
		assert.Equal(t, 1, room.Status().MonitoredUsers)
	})

	t.Run("re-issuing disconnects the client on the old token", func(t *testing.T) {
		env := newHandlerEnv(t, fixedAnalyzer{answer: "ok"})

		rec := env.do(t, http.MethodPost, "/v1/tokens", issueTokenRequest{UserID: "u1", RoomID: "guild-1"})
		require.Equal(t, http.StatusCreated, rec.Code)
		first := decodeBody[service.IssuedToken](t, rec)

		oldConn := relay.NewConn(model.TokenIdentity{
			TokenHash: util.HashToken(first.Token),
			UserID:    "u1",
			RoomID:    "guild-1",
		}, nil)
		env.registry.Bind(context.Background(), oldConn)

		rec = env.do(t, http.MethodPost, "/v1/tokens", issueTokenRequest{UserID: "u1", RoomID: "guild-1"})
		require.Equal(t, http.StatusCreated, rec.Code)
		second := decodeBody[service.IssuedToken](t, rec)

		assert.Equal(t, model.CloseTokenUnknown, oldConn.CloseReason())
		assert.NotEqual(t, first.Token, second.Token)

		other := relay.NewConn(model.TokenIdentity{
			TokenHash: util.HashToken(second.Token),
			UserID:    "u1",
			RoomID:    "guild-1",
		}, nil)
		env.registry.Bind(context.Background(), other)
		rec = env.do(t, http.MethodPost, "/v1/tokens", issueTokenRequest{UserID: "u2", RoomID: "guild-1"})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Empty(t, other.CloseReason())
	})

	t.Run("requires userId and roomId", func(t *testing.T) {
		env := newHandlerEnv(t, fixedAnalyzer{answer: "ok"})

		rec := env.do(t, http.MethodPost, "/v1/tokens", issueTokenRequest{RoomID: "guild-1"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeMissingRequired, decodeBody[httputil.ErrorResponse](t, rec).Code)
	})
}

func TestTokenHandler_Revoke(t *testing.T) {
	t.Run("revokes and disconnects the live client", func(t *testing.T) {
		env := newHandlerEnv(t, fixedAnalyzer{answer: "ok"})

		rec := env.do(t, http.MethodPost, "/v1/tokens", issueTokenRequest{UserID: "u1", RoomID: "guild-1"})
		issued := decodeBody[service.IssuedToken](t, rec)

		conn := relay.NewConn(model.TokenIdentity{
			TokenHash: util.HashToken(issued.Token),
			UserID:    "u1",
			RoomID:    "guild-1",
		}, nil)
		env.registry.Bind(context.Background(), conn)

		rec = env.do(t, http.MethodDelete, "/v1/tokens/"+issued.Token, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, model.CloseTokenUnknown, conn.CloseReason())

		_, err := env.broker.Validate(context.Background(), issued.Token)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTokenUnknown))
	})

	t.Run("unknown token", func(t *testing.T) {
		env := newHandlerEnv(t, fixedAnalyzer{answer: "ok"})

		rec := env.do(t, http.MethodDelete, "/v1/tokens/deadbeef", nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, apperrors.ErrCodeTokenUnknown, decodeBody[httputil.ErrorResponse](t, rec).Code)
	})
}
