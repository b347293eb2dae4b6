// Package redis is a Redis-backed job queue carrying task.Payload
// values between the flow engine (enqueue side) and the task handler
// (C6, dequeue side). Distributed queue operations with blocking
// dequeue and processing-set tracking.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"flowrt.dev/task"
)

// Queue handles job queue operations using Redis.
type Queue struct {
	client *redis.Client
	prefix string // key prefix for queue keys (e.g. "flowrt:")
}

// Config configures the Redis queue.
type Config struct {
	RedisURL  string // defaults to redis://localhost:6379/0
	KeyPrefix string // defaults to "flowrt:"
	Name      string // queue name, defaults to "tasks"
}

// NewQueue creates a new Redis queue client.
func NewQueue(ctx context.Context, config Config) (*Queue, error) {
	redisURL := config.RedisURL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "flowrt:"
	}

	return newQueue(client, prefix, config.Name), nil
}

// NewQueueFromClient wraps an already-constructed *redis.Client,
// used by tests against miniredis.
func NewQueueFromClient(client *redis.Client, keyPrefix, name string) *Queue {
	return newQueue(client, keyPrefix, name)
}

func newQueue(client *redis.Client, prefix, name string) *Queue {
	if prefix == "" {
		prefix = "flowrt:"
	}
	if name == "" {
		name = "tasks"
	}
	return &Queue{client: client, prefix: prefix + name + ":"}
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) queueKey() string {
	return q.prefix + "queue"
}

func (q *Queue) processingKey() string {
	return q.prefix + "processing"
}

// Enqueue adds a task payload to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, payload task.Payload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return q.client.RPush(ctx, q.queueKey(), string(payloadJSON)).Err()
}

// Dequeue removes and returns the next payload (blocking up to timeout).
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*task.Payload, error) {
	result, err := q.client.BLPop(ctx, timeout, q.queueKey()).Result()
	if err == redis.Nil {
		return nil, nil // timeout, no job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var payload task.Payload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &payload, nil
}

// MarkProcessing adds idempotencyKey to the processing set with a deadline.
func (q *Queue) MarkProcessing(ctx context.Context, idempotencyKey string, deadline time.Time) error {
	return q.client.ZAdd(ctx, q.processingKey(), redis.Z{
		Score:  float64(deadline.Unix()),
		Member: idempotencyKey,
	}).Err()
}

// CompleteJob removes idempotencyKey from the processing set.
func (q *Queue) CompleteJob(ctx context.Context, idempotencyKey string) error {
	return q.client.ZRem(ctx, q.processingKey(), idempotencyKey).Err()
}

// FailJob marks a job as failed and optionally re-enqueues payload.
func (q *Queue) FailJob(ctx context.Context, idempotencyKey string, requeue bool, payload task.Payload) error {
	if err := q.CompleteJob(ctx, idempotencyKey); err != nil {
		return err
	}
	if !requeue {
		return nil
	}
	return q.Enqueue(ctx, payload)
}

// Depth returns the number of payloads waiting in the queue.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	depth, err := q.client.LLen(ctx, q.queueKey()).Result()
	if err != nil {
		return 0, err
	}
	return int(depth), nil
}

// IsProcessing checks if idempotencyKey is currently being processed.
func (q *Queue) IsProcessing(ctx context.Context, idempotencyKey string) (bool, error) {
	_, err := q.client.ZScore(ctx, q.processingKey(), idempotencyKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// WaitForJobCompletion polls until idempotencyKey leaves the processing
// set and checkStatus reports a terminal ledger status, or timeout.
func (q *Queue) WaitForJobCompletion(ctx context.Context, idempotencyKey string, timeout time.Duration, checkStatus func(string) (string, error)) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			inProcessing, err := q.IsProcessing(ctx, idempotencyKey)
			if err != nil {
				return fmt.Errorf("failed to check processing status: %w", err)
			}

			if !inProcessing {
				status, err := checkStatus(idempotencyKey)
				if err != nil {
					return fmt.Errorf("failed to get task status: %w", err)
				}
				switch status {
				case "SUCCEEDED":
					return nil
				case "FAILED":
					return fmt.Errorf("task failed")
				}
			}

			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for job completion")
			}
		}
	}
}
