package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Job is one unit of deferred callback processing.
type Job struct {
	// EventID identifies the callback audit row the job belongs to.
	EventID int64
	// Run re-applies the callback. It must be idempotent.
	Run func(ctx context.Context) error
}

// Queue re-processes callbacks whose post-validation handling failed, with
// exponential backoff and a bounded number of attempts. Exhaustion marks the
// callback permanently failed through the supplied hook and raises an
// operator alert.
type Queue struct {
	logger      *slog.Logger
	maxRetries  uint64
	baseBackoff time.Duration
	onExhausted func(ctx context.Context, eventID int64, lastErr error)

	jobs   chan Job
	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

type QueueConfig struct {
	// Attempts is the total number of processing attempts per job.
	Attempts    int
	BaseBackoff time.Duration
	BufferSize  int
	Workers     int
}

func NewQueue(cfg QueueConfig, onExhausted func(ctx context.Context, eventID int64, lastErr error), logger *slog.Logger) *Queue {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 5
	}
	baseBackoff := cfg.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}

	return &Queue{
		logger:      logger,
		maxRetries:  uint64(attempts - 1),
		baseBackoff: baseBackoff,
		onExhausted: onExhausted,
		jobs:        make(chan Job, bufferSize),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop.
func (q *Queue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			for {
				select {
				case job := <-q.jobs:
					q.process(ctx, job)
				case <-ctx.Done():
					q.logger.Debug("retry queue worker shutting down", "worker_id", id)
					return
				}
			}
		}(i)
	}

	q.logger.Info("callback retry queue started",
		"workers", workers,
		"max_attempts", q.maxRetries+1,
		"buffer", cap(q.jobs))
}

// Stop drains in-flight jobs and shuts the workers down.
func (q *Queue) Stop() {
	q.once.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		q.wg.Wait()
	})
}

// Enqueue adds a job; a full queue is reported to the caller rather than
// blocking a request handler.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		q.logger.Info("callback queued for reprocessing",
			"event_id", job.EventID,
			"queue_length", len(q.jobs))
		return true
	default:
		q.logger.Error("callback retry queue full, job dropped", "event_id", job.EventID)
		return false
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	backoff := retry.WithMaxRetries(q.maxRetries, retry.NewExponential(q.baseBackoff))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := job.Run(ctx); err != nil {
			q.logger.Warn("callback reprocessing attempt failed",
				"event_id", job.EventID,
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		q.logger.Info("callback reprocessed successfully",
			"event_id", job.EventID,
			"attempts", attempt)
		return
	}

	// OPERATOR ALERT: callback permanently failed after exhausting retries
	q.logger.Error("ALERT: callback processing permanently failed",
		"event_id", job.EventID,
		"attempts", attempt,
		"error", err)
	if q.onExhausted != nil {
		q.onExhausted(ctx, job.EventID, err)
	}
}
