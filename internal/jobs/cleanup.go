package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lolcoach/coach-relay-go/internal/config"
)

type ExpiredTokenDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type StaleSnapshotEvicter interface {
	EvictStale() int
}

// CleanupJob periodically purges expired session tokens and telemetry
// snapshots whose reconnect grace has lapsed.
type CleanupJob struct {
	tokens    ExpiredTokenDeleter
	snapshots StaleSnapshotEvicter
	interval  time.Duration
	done      chan struct{}
	ran       chan struct{}
}

func NewCleanupJob(tokens ExpiredTokenDeleter, snapshots StaleSnapshotEvicter, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		tokens:    tokens,
		snapshots: snapshots,
		interval:  interval,
		done:      make(chan struct{}),
		ran:       make(chan struct{}, 1),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), config.CollaboratorTimeout)
	defer cancel()

	if j.tokens != nil {
		j.runCleanup(ctx, "session tokens", j.tokens.DeleteExpired)
	}
	if j.snapshots != nil {
		j.runCleanup(ctx, "telemetry snapshots", func(context.Context) (int64, error) {
			return int64(j.snapshots.EvictStale()), nil
		})
	}

	select {
	case j.ran <- struct{}{}:
	default:
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
