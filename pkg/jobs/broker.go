package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broker stores jobs between producers and consumers.
type Broker interface {
	Push(ctx context.Context, job Job) error
	// Pop blocks until a job is available or ctx is done.
	Pop(ctx context.Context) (Job, error)
	// Ack marks a popped job as finished so it is not recovered again.
	Ack(ctx context.Context, job Job) error
	// Recover returns jobs left in flight by a crashed consumer to the queue.
	Recover(ctx context.Context) (int, error)
}

// MemoryBroker keeps jobs in a buffered channel. Jobs do not survive a restart.
type MemoryBroker struct {
	jobs chan Job
}

// NewMemoryBroker builds an in-process broker.
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 16
	}
	return &MemoryBroker{jobs: make(chan Job, buffer)}
}

func (b *MemoryBroker) Push(ctx context.Context, job Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.jobs <- job:
		return nil
	}
}

func (b *MemoryBroker) Pop(ctx context.Context) (Job, error) {
	select {
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case job := <-b.jobs:
		return job, nil
	}
}

func (b *MemoryBroker) Ack(context.Context, Job) error { return nil }

func (b *MemoryBroker) Recover(context.Context) (int, error) { return 0, nil }

// RedisBroker implements a reliable queue on a Redis list. Popped entries are
// moved to a processing list and removed on Ack.
type RedisBroker struct {
	client      *redis.Client
	queueKey    string
	inflightKey string
	popTimeout  time.Duration
}

// NewRedisBroker builds a broker on the given list key.
func NewRedisBroker(client *redis.Client, queueKey string) *RedisBroker {
	return &RedisBroker{
		client:      client,
		queueKey:    queueKey,
		inflightKey: queueKey + ":processing",
		popTimeout:  5 * time.Second,
	}
}

func (b *RedisBroker) Push(ctx context.Context, job Job) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, b.queueKey, payload).Err()
}

func (b *RedisBroker) Pop(ctx context.Context) (Job, error) {
	for {
		raw, err := b.client.BRPopLPush(ctx, b.queueKey, b.inflightKey, b.popTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if ctx.Err() != nil {
					return Job{}, ctx.Err()
				}
				continue
			}
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("redis pop %s: %w", b.queueKey, err)
		}
		job, err := decodeJob(raw)
		if err != nil {
			// unreadable entries are dropped from the processing list
			_ = b.client.LRem(ctx, b.inflightKey, 1, raw).Err()
			return Job{}, err
		}
		return job, nil
	}
}

func (b *RedisBroker) Ack(ctx context.Context, job Job) error {
	if job.raw == "" {
		return nil
	}
	return b.client.LRem(ctx, b.inflightKey, 1, job.raw).Err()
}

func (b *RedisBroker) Recover(ctx context.Context) (int, error) {
	count := 0
	for {
		err := b.client.RPopLPush(ctx, b.inflightKey, b.queueKey).Err()
		if errors.Is(err, redis.Nil) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("redis recover %s: %w", b.inflightKey, err)
		}
		count++
	}
}

func encodeJob(job Job) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return string(payload), nil
}

func decodeJob(raw string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.ID == "" {
		return Job{}, fmt.Errorf("decode job: missing id")
	}
	job.raw = raw
	return job, nil
}
