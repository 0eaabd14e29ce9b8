package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/lolcoach/coach-relay-go/internal/errors"
	"github.com/lolcoach/coach-relay-go/internal/metrics"
	"github.com/lolcoach/coach-relay-go/internal/model"
)

// Renderer plays or posts one job. Render must return promptly once ctx
// is cancelled.
type Renderer interface {
	Render(ctx context.Context, job model.AudioJob) error
}

// Queue serializes output per room: one consumer goroutine per room
// renders jobs in FIFO order, and the next job starts only after the
// previous Render call has returned.
type Queue struct {
	renderer Renderer
	depth    int
	rooms    map[string]*roomQueue
	retiring map[string]*roomQueue // closed consumers that may still be rendering
	closed   bool
	mu       sync.Mutex
	wg       sync.WaitGroup
}

type roomQueue struct {
	roomID   string
	pending  []model.AudioJob
	wake     chan struct{}
	inFlight context.CancelFunc
	prev     <-chan struct{} // done of the consumer this one replaces
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
}

// NewQueue creates a queue holding at most depth pending jobs per room.
// When full, the oldest pending job is dropped. depth 0 means unbounded.
func NewQueue(renderer Renderer, depth int) *Queue {
	return &Queue{
		renderer: renderer,
		depth:    depth,
		rooms:    make(map[string]*roomQueue),
		retiring: make(map[string]*roomQueue),
	}
}

// Enqueue appends job to its room's queue without blocking.
func (q *Queue) Enqueue(job model.AudioJob) error {
	if job.RoomID == "" {
		return apperrors.MissingRequired("roomId")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return apperrors.QueueClosed()
	}
	rq, ok := q.rooms[job.RoomID]
	if !ok {
		rq = q.startRoom(job.RoomID)
	}
	q.mu.Unlock()

	rq.mu.Lock()
	if q.depth > 0 && len(rq.pending) >= q.depth {
		dropped := rq.pending[0]
		rq.pending = rq.pending[1:]
		metrics.AudioJobs.WithLabelValues("dropped").Inc()
		log.Warn().
			Str("roomId", job.RoomID).
			Str("jobId", dropped.ID).
			Int("depth", q.depth).
			Msg("audio queue full, dropping oldest job")
	}
	rq.pending = append(rq.pending, job)
	rq.mu.Unlock()

	select {
	case rq.wake <- struct{}{}:
	default:
	}
	return nil
}

// Flush discards pending jobs for roomID and cancels the job being
// rendered, if any. It returns the number of pending jobs discarded.
func (q *Queue) Flush(roomID string) int {
	q.mu.Lock()
	rq, ok := q.rooms[roomID]
	q.mu.Unlock()
	if !ok {
		return 0
	}
	return rq.flush()
}

// Close flushes roomID and stops its consumer without waiting for it. A
// later Enqueue for the same room starts a fresh consumer, which renders
// nothing until the old one has returned from Render.
func (q *Queue) Close(roomID string) {
	q.mu.Lock()
	rq, ok := q.rooms[roomID]
	delete(q.rooms, roomID)
	if ok {
		q.retiring[roomID] = rq
	}
	q.mu.Unlock()

	if !ok {
		return
	}
	rq.flush()
	rq.cancel()
}

// Depth reports how many jobs are waiting, not counting one in flight.
func (q *Queue) Depth(roomID string) int {
	q.mu.Lock()
	rq, ok := q.rooms[roomID]
	q.mu.Unlock()
	if !ok {
		return 0
	}

	rq.mu.Lock()
	defer rq.mu.Unlock()
	return len(rq.pending)
}

// Shutdown rejects new jobs, stops every consumer and waits for them to
// exit or for ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	rooms := q.rooms
	q.rooms = make(map[string]*roomQueue)
	q.mu.Unlock()

	for _, rq := range rooms {
		rq.flush()
		rq.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startRoom must be called with q.mu held.
func (q *Queue) startRoom(roomID string) *roomQueue {
	ctx, cancel := context.WithCancel(context.Background())
	rq := &roomQueue{
		roomID: roomID,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	if prev, ok := q.retiring[roomID]; ok {
		rq.prev = prev.done
		q.retiring[roomID] = rq
	}
	q.rooms[roomID] = rq

	q.wg.Add(1)
	go q.consume(rq)

	log.Debug().Str("roomId", roomID).Msg("audio consumer started")
	return rq
}

func (q *Queue) consume(rq *roomQueue) {
	defer q.wg.Done()
	defer q.retire(rq)

	if rq.prev != nil {
		<-rq.prev
	}

	for {
		job, jobCtx, ok := rq.next()
		if !ok {
			select {
			case <-rq.wake:
				continue
			case <-rq.ctx.Done():
				log.Debug().Str("roomId", rq.roomID).Msg("audio consumer stopped")
				return
			}
		}

		q.render(jobCtx, job)
		rq.finish()
	}
}

// retire marks rq's consumer as exited.
func (q *Queue) retire(rq *roomQueue) {
	q.mu.Lock()
	if q.retiring[rq.roomID] == rq {
		delete(q.retiring, rq.roomID)
	}
	q.mu.Unlock()
	close(rq.done)
}

func (q *Queue) render(ctx context.Context, job model.AudioJob) {
	start := time.Now()
	err := q.safeRender(ctx, job)
	metrics.AudioRenderSeconds.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.AudioJobs.WithLabelValues("rendered").Inc()
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		metrics.AudioJobs.WithLabelValues("flushed").Inc()
		log.Debug().
			Str("roomId", job.RoomID).
			Str("jobId", job.ID).
			Msg("audio job cancelled")
	default:
		metrics.AudioJobs.WithLabelValues("failed").Inc()
		log.Error().
			Err(err).
			Str("roomId", job.RoomID).
			Str("jobId", job.ID).
			Str("kind", string(job.Kind)).
			Msg("audio job failed, continuing with next")
	}
}

func (q *Queue) safeRender(ctx context.Context, job model.AudioJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RenderFailed(fmt.Errorf("panic: %v", r))
		}
	}()
	return q.renderer.Render(ctx, job)
}

// next pops the head job and marks it in flight.
func (rq *roomQueue) next() (model.AudioJob, context.Context, bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if len(rq.pending) == 0 || rq.ctx.Err() != nil {
		return model.AudioJob{}, nil, false
	}

	job := rq.pending[0]
	rq.pending[0] = model.AudioJob{}
	rq.pending = rq.pending[1:]

	jobCtx, cancel := context.WithCancel(rq.ctx)
	rq.inFlight = cancel
	return job, jobCtx, true
}

func (rq *roomQueue) finish() {
	rq.mu.Lock()
	if rq.inFlight != nil {
		rq.inFlight()
		rq.inFlight = nil
	}
	rq.mu.Unlock()
}

func (rq *roomQueue) flush() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	n := len(rq.pending)
	rq.pending = nil
	if rq.inFlight != nil {
		rq.inFlight()
	}

	if n > 0 {
		metrics.AudioJobs.WithLabelValues("flushed").Add(float64(n))
		log.Info().Str("roomId", rq.roomID).Int("discarded", n).Msg("audio queue flushed")
	}
	return n
}
