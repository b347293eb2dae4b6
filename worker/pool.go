// Package worker provides a generic worker pool for processing
// background tasks: concurrent dequeue-process-ack loops over the
// task queue with a configurable worker count.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"flowrt.dev/task"
)

// Queue is the subset of queue/redis.Queue a worker needs.
type Queue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*task.Payload, error)
	MarkProcessing(ctx context.Context, idempotencyKey string, deadline time.Time) error
	CompleteJob(ctx context.Context, idempotencyKey string) error
	FailJob(ctx context.Context, idempotencyKey string, requeue bool, payload task.Payload) error
}

// Processor handles one dequeued payload to completion, matching
// task.Handler.Handle's signature.
type Processor interface {
	Handle(ctx context.Context, payload task.Payload) error
}

// Config configures the worker pool.
type Config struct {
	Count       int           // number of concurrent workers, default 5
	DequeueWait time.Duration // blocking dequeue timeout, default 5s
	TaskTimeout time.Duration // per-task execution timeout, default 30s
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{Count: 5, DequeueWait: 5 * time.Second, TaskTimeout: 30 * time.Second}
}

// Pool manages a set of workers draining the same task queue.
type Pool struct {
	workers []*Worker
	log     *logrus.Entry
}

// Worker represents a single worker processing tasks off the queue.
type Worker struct {
	id       int
	queue    Queue
	proc     Processor
	cfg      Config
	log      *logrus.Entry
	stopChan chan struct{}
}

// NewPool creates a new worker pool with config.Count workers
// (defaults applied for zero values).
func NewPool(queue Queue, processor Processor, config Config, log *logrus.Entry) *Pool {
	if config.Count <= 0 {
		config.Count = DefaultConfig().Count
	}
	if config.DequeueWait <= 0 {
		config.DequeueWait = DefaultConfig().DequeueWait
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = DefaultConfig().TaskTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	pool := &Pool{log: log}
	for i := 0; i < config.Count; i++ {
		pool.workers = append(pool.workers, &Worker{
			id:       i,
			queue:    queue,
			proc:     processor,
			cfg:      config,
			log:      log.WithField("worker_id", i),
			stopChan: make(chan struct{}),
		})
	}
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start() {
	p.log.Infof("starting worker pool with %d workers", len(p.workers))
	for _, w := range p.workers {
		go w.run()
	}
}

// Stop signals all workers to exit their loop. It does not wait for
// in-flight tasks to finish.
func (p *Pool) Stop() {
	p.log.Info("stopping worker pool")
	for _, w := range p.workers {
		close(w.stopChan)
	}
}

func (w *Worker) run() {
	w.log.Info("worker started")
	for {
		select {
		case <-w.stopChan:
			w.log.Info("worker stopped")
			return
		default:
			if err := w.processNext(); err != nil {
				w.log.WithError(err).Error("worker loop error")
				time.Sleep(time.Second)
			}
		}
	}
}

// processNext fetches and processes the next payload from the queue.
func (w *Worker) processNext() error {
	payload, err := w.queue.Dequeue(context.Background(), w.cfg.DequeueWait)
	if err != nil {
		return err
	}
	if payload == nil {
		return nil // timeout, nothing to do
	}

	jobLog := w.log.WithField("idempotency_key", payload.IdempotencyKey)

	deadline := time.Now().Add(w.cfg.TaskTimeout)
	if err := w.queue.MarkProcessing(context.Background(), payload.IdempotencyKey, deadline); err != nil {
		jobLog.WithError(err).Warn("failed to mark task processing")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.TaskTimeout)
	defer cancel()

	if err := w.proc.Handle(ctx, *payload); err != nil {
		jobLog.WithError(err).Error("task failed")
		if failErr := w.queue.FailJob(context.Background(), payload.IdempotencyKey, false, *payload); failErr != nil {
			jobLog.WithError(failErr).Error("failed to mark task as failed")
		}
		return nil
	}

	jobLog.Debug("task completed")
	if err := w.queue.CompleteJob(context.Background(), payload.IdempotencyKey); err != nil {
		jobLog.WithError(err).Error("failed to mark task as complete")
	}
	return nil
}
