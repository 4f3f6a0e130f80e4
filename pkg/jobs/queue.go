package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job represents a queued background task.
type Job struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Attempt  int             `json:"attempt"`
	Enqueued time.Time       `json:"enqueued"`

	// Final is set by the dispatcher when a failure of this attempt will not be
	// retried. Handlers record terminal failures only when it is true.
	Final bool `json:"-"`

	// raw is the broker's encoded form, kept so the entry can be acknowledged.
	raw string
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue dispatches jobs from a Broker to a pool of goroutines. Producers only
// need Enqueue; consumers additionally call Start.
type Queue struct {
	name    string
	handler Handler
	broker  Broker

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewQueue builds a new queue with the provided handler. A nil handler yields a
// producer-only queue.
func NewQueue(name string, broker Broker, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if broker == nil {
		broker = NewMemoryBroker(cfg.Workers * 4)
	}

	return &Queue{
		name:       name,
		handler:    handler,
		broker:     broker,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Start begins worker consumption. Safe to call once. Entries left in flight
// by a previous consumer are returned to the queue first.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}
	if q.handler == nil {
		return fmt.Errorf("queue %s has no handler", q.name)
	}
	recovered, err := q.broker.Recover(ctx)
	if err != nil {
		return fmt.Errorf("queue %s recover: %w", q.name, err)
	}
	if recovered > 0 {
		q.logger.Sugar().Infow("requeued in-flight jobs", "queue", q.name, "count", recovered)
	}

	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i + 1)
	}
	q.started = true
	q.logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.workers)
	return nil
}

// Stop cancels workers and waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Sugar().Infow("queue stopped", "queue", q.name)
}

// Enqueue pushes a job onto the broker.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if job.ID == "" {
		return fmt.Errorf("queue %s: job id required", q.name)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	if err := q.broker.Push(ctx, job); err != nil {
		return fmt.Errorf("queue %s enqueue %s: %w", q.name, job.ID, err)
	}
	return nil
}

func (q *Queue) worker(workerID int) {
	defer q.wg.Done()
	for {
		job, err := q.broker.Pop(q.ctx)
		if err != nil {
			if q.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			q.logger.Sugar().Warnw("queue pop failed", "queue", q.name, "worker", workerID, "error", err)
			if !sleepCtx(q.ctx, q.retryDelay) {
				return
			}
			continue
		}

		job.Final = job.Attempt >= q.maxRetries
		handleErr := q.handler(q.ctx, job)
		if handleErr != nil {
			q.handleFailure(job, handleErr)
		}
		if err := q.broker.Ack(context.Background(), job); err != nil {
			q.logger.Sugar().Warnw("queue ack failed", "queue", q.name, "job_id", job.ID, "error", err)
		}
	}
}

func (q *Queue) handleFailure(job Job, err error) {
	if job.Final {
		q.logger.Sugar().Errorw("job exceeded retries", "queue", q.name, "job_id", job.ID, "type", job.Type, "error", err)
		return
	}
	retry := job
	retry.Attempt++
	retry.Final = false
	retry.raw = ""
	q.logger.Sugar().Warnw("job failed, retrying", "queue", q.name, "job_id", job.ID, "type", job.Type, "attempt", retry.Attempt, "error", err)

	go func(j Job) {
		if !sleepCtx(q.ctx, q.retryDelay) {
			return
		}
		if err := q.Enqueue(q.ctx, j); err != nil {
			q.logger.Sugar().Errorw("failed to requeue job", "queue", q.name, "job_id", j.ID, "error", err)
		}
	}(retry)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
