package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolcoach/coach-relay-go/internal/telemetry"
)

type mockTokenDeleter struct {
	calls atomic.Int32
	count int64
	err   error
}

func (m *mockTokenDeleter) DeleteExpired(ctx context.Context) (int64, error) {
	m.calls.Add(1)
	return m.count, m.err
}

func waitForRun(t *testing.T, job *CleanupJob) {
	t.Helper()
	select {
	case <-job.ran:
	case <-time.After(time.Second):
		require.FailNow(t, "cleanup did not run")
	}
}

func TestCleanupJob(t *testing.T) {
	t.Run("creates job with correct interval", func(t *testing.T) {
		job := NewCleanupJob(nil, nil, 5*time.Minute)

		assert.NotNil(t, job)
		assert.Equal(t, 5*time.Minute, job.interval)
	})

	t.Run("runs cleanup on start", func(t *testing.T) {
		tokens := &mockTokenDeleter{count: 2}
		now := time.Now()
		store := telemetry.NewStore(time.Minute).WithClock(func() time.Time { return now })
		require.NoError(t, store.Update("stale", []byte(`{"gameData":{}}`)))
		store.MarkDisconnected("stale")
		now = now.Add(2 * time.Minute)

		job := NewCleanupJob(tokens, store, time.Hour)
		job.Start()
		waitForRun(t, job)
		job.Stop()

		assert.Equal(t, int32(1), tokens.calls.Load())
		assert.Equal(t, 0, store.Len())
	})

	t.Run("keeps ticking after a failure", func(t *testing.T) {
		tokens := &mockTokenDeleter{err: errors.New("connection refused")}

		job := NewCleanupJob(tokens, nil, 10*time.Millisecond)
		job.Start()
		waitForRun(t, job)
		waitForRun(t, job)
		job.Stop()

		assert.GreaterOrEqual(t, tokens.calls.Load(), int32(2))
	})
}
