package coach

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
)

func TestManager_GetOrCreate(t *testing.T) {
	env := newTestEnv()

	room, created := env.manager.GetOrCreate("room-1")
	assert.True(t, created)

	again, created := env.manager.GetOrCreate("room-1")
	assert.False(t, created)
	assert.Same(t, room, again)

	other, _ := env.manager.GetOrCreate("room-2")
	assert.NotSame(t, room, other)
	assert.Equal(t, 2, env.manager.Len())
}

func TestManager_RoomsAreIndependent(t *testing.T) {
	env := newTestEnv()
	a, _ := env.manager.GetOrCreate("room-a")
	b, _ := env.manager.GetOrCreate("room-b")

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	require.NoError(t, a.Stop())

	assert.Equal(t, "idle", string(a.State()))
	assert.Equal(t, "monitoring", string(b.State()))
}

func TestManager_Leave(t *testing.T) {
	t.Run("releases room resources", func(t *testing.T) {
		env := newTestEnv()
		room, _ := env.manager.GetOrCreate("room-1")
		require.NoError(t, room.Start())
		_, err := room.AttachVoice("voice-1")
		require.NoError(t, err)

		assert.True(t, env.manager.Leave("room-1"))

		_, ok := env.manager.Get("room-1")
		assert.False(t, ok)
		assert.True(t, env.delivery.closed["room-1"])

		status := room.Status()
		assert.Nil(t, status.Voice)
		assert.Equal(t, "idle", string(status.State))
	})

	t.Run("stale handle reports room not found", func(t *testing.T) {
		env := newTestEnv()
		room, _ := env.manager.GetOrCreate("room-1")
		env.manager.Leave("room-1")

		assert.True(t, apperrors.HasCode(room.Start(), apperrors.ErrCodeRoomNotFound))
		_, err := room.Ask(context.Background(), "user-1", "hello?")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRoomNotFound))
	})

	t.Run("unknown room", func(t *testing.T) {
		env := newTestEnv()
		assert.False(t, env.manager.Leave("nope"))
	})

	t.Run("rejoin starts fresh", func(t *testing.T) {
		env := newTestEnv()
		room, _ := env.manager.GetOrCreate("room-1")
		require.NoError(t, room.Start())
		env.manager.Leave("room-1")

		fresh, created := env.manager.GetOrCreate("room-1")
		assert.True(t, created)
		assert.Equal(t, "idle", string(fresh.State()))
	})
}
