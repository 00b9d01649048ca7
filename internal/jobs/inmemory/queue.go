package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/jobs"
)

// Options configures a Queue.
type Options struct {
	// BufferSize determines how many jobs can be queued before PublishImportStatement blocks.
	BufferSize int
	Workers    int
	MaxRetries int

	// Backoff returns the delay before the given retry; linear seconds when nil.
	Backoff func(retry int) time.Duration
}

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Jobs are lost on restart; the store keeps their last known state.
type Queue struct {
	jobChan   chan *jobs.ImportStatementJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	opts      Options
	log       zerolog.Logger
	closed    bool
}

// NewQueue creates a new in-memory job queue.
func NewQueue(opts Options, store jobs.JobStore, log zerolog.Logger) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = jobs.DefaultMaxRetries
	}
	if opts.Backoff == nil {
		opts.Backoff = func(retry int) time.Duration { return time.Duration(retry) * time.Second }
	}
	return &Queue{
		jobChan:   make(chan *jobs.ImportStatementJob, opts.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		opts:      opts,
		log:       log,
	}
}

// PublishImportStatement implements the Publisher interface.
func (q *Queue) PublishImportStatement(ctx context.Context, job *jobs.ImportStatementJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.opts.MaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishImportStatement: save job: %w", err)
		}
	}

	// The queue owns its own copy from here on.
	queued := job.Clone()
	select {
	case q.jobChan <- queued:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	}
}

// Start implements the Consumer interface.
// It starts Workers goroutines that process jobs with the handler.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return jobs.ErrQueueClosed
	}
	q.mu.RUnlock()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.ImportStatementJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	job.CompletedAt = nil
	q.save(ctx, job)

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case !errors.Is(err, jobs.ErrPermanent) && job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying

		retry := job.Clone()
		time.AfterFunc(q.opts.Backoff(retry.RetryCount), func() {
			retry.Status = jobs.JobStatusPending
			retry.StartedAt = nil
			retry.CompletedAt = nil
			if err := q.PublishImportStatement(ctx, retry); err != nil {
				q.log.Warn().Err(err).Str("job_id", retry.JobID).Msg("Could not re-enqueue job")
			}
		})
	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		q.log.Error().Err(err).Str("job_id", job.JobID).Int("retries", job.RetryCount).Msg("Job failed")
	}

	q.save(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.ImportStatementJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		q.log.Warn().Err(err).Str("job_id", job.JobID).Msg("Could not save job state")
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

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

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
