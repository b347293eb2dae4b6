// Package cli also exposes a standalone "worker" command: the same
// background task pool runServer starts inline, runnable as its own
// process for deployments that scale API and worker replicas
// independently.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flowrt.dev/db"
	"flowrt.dev/idempotency"
	"flowrt.dev/logging"
	"flowrt.dev/node"
	"flowrt.dev/queue/redis"
	"flowrt.dev/session"
	"flowrt.dev/task"
	"flowrt.dev/worker"
)

func init() {
	RootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "run the background task worker pool standalone",
	Long: `Drain the Redis task queue and execute each dequeued task
through the idempotent task handler, without serving the HTTP API.

Use this when the API servers and task workers need to scale
separately from each other.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadRuntimeConfig()
		if err != nil {
			log.Fatalf("invalid configuration: %v", err)
		}
		WorkerStart(cfg)
	},
}

// WorkerStart connects to Postgres and Redis, starts the worker pool,
// and blocks until SIGINT/SIGTERM.
func WorkerStart(cfg *runtimeSettings) {
	logEntry := logging.New(cfg.service, cfg.logLevel, cfg.logFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pg, err := db.NewPostgresDB(ctx, cfg.postgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pg.Close()

	sessions := session.NewPostgresRepository(pg, nil, logEntry)
	revisionReader := func(ctx context.Context, sessionID string) (int64, bool, error) {
		s, err := sessions.GetByID(ctx, sessionID)
		if err != nil {
			return 0, false, err
		}
		if s == nil {
			return 0, false, nil
		}
		return s.Revision, true, nil
	}

	var ledger idempotency.Ledger
	if cfg.embeddedPath != "" {
		boltLedger, err := idempotency.OpenBoltLedger(cfg.embeddedPath, revisionReader)
		if err != nil {
			log.Fatalf("failed to open embedded idempotency ledger: %v", err)
		}
		defer boltLedger.Close()
		ledger = boltLedger
	} else {
		ledger = idempotency.NewPostgresLedger(pg, revisionReader)
	}
	nodeProc := node.NewProcessor(sessions, logEntry)
	handler := task.NewHandler(ledger, sessions, nodeProc, logEntry)

	queueCtx, queueCancel := context.WithTimeout(context.Background(), 10*time.Second)
	redisURL := fmt.Sprintf("redis://%s/%d", cfg.redisAddr, cfg.redisDB)
	q, err := redis.NewQueue(queueCtx, redis.Config{RedisURL: redisURL, Name: "flowrt"})
	queueCancel()
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer q.Close()

	pool := worker.NewPool(q, handler, worker.Config{
		Count:       cfg.workerCount,
		TaskTimeout: cfg.taskTimeout,
	}, logEntry)
	pool.Start()
	defer pool.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logEntry.Info("worker pool running, waiting for shutdown signal")
	<-sigChan

	logEntry.Info("shutting down worker pool")
}
