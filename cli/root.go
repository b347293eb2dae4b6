// Package cli provides the main command-line interface and HTTP server for
// the flow runtime. It orchestrates the complete application lifecycle:
// configuration loading, service wiring (Postgres, Redis task queue,
// idempotency ledger, engine, orchestrator), HTTP server setup, a
// background worker pool, and graceful shutdown.
//
// Architecture Overview:
//
//	CLI → Configuration → Services → HTTP Server (httpapi) + Worker Pool
//	          ↓                            ↓
//	      Postgres                    Redis task queue
//
// The server is designed for containerized deployment with 12-factor app
// principles: configuration via environment variables, flags, or an
// optional config file.
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
	"github.com/spf13/viper"

	"flowrt.dev/config"
	"flowrt.dev/db"
	"flowrt.dev/engine"
	"flowrt.dev/flow"
	"flowrt.dev/httpapi"
	"flowrt.dev/idempotency"
	"flowrt.dev/logging"
	"flowrt.dev/node"
	"flowrt.dev/orchestrator"
	"flowrt.dev/queue/redis"
	"flowrt.dev/session"
	"flowrt.dev/task"
	"flowrt.dev/worker"
)

// runtimeSettings is the flattened view of config.RuntimeConfig that
// runServer actually consumes, with command-line flags (via viper)
// layered on top where set.
type runtimeSettings struct {
	service      string
	logLevel     string
	logFormat    string
	port         string
	postgresDSN  string
	redisAddr    string
	redisDB      int
	cookieSecure bool
	csrfSecret   string
	corsOrigins  []string
	workerCount  int
	taskTimeout  time.Duration
	ratePerSec   float64
	embeddedPath string
}

func loadRuntimeConfig() (*runtimeSettings, error) {
	rc, err := config.LoadRuntimeConfig("FLOWRT")
	if err != nil {
		return nil, err
	}

	s := &runtimeSettings{
		service:      rc.Service.Name,
		logLevel:     rc.Service.LogLevel,
		logFormat:    rc.Service.LogFormat,
		port:         fmt.Sprintf("%d", rc.Server.Port),
		postgresDSN:  rc.PostgresDSN,
		redisAddr:    rc.RedisAddr,
		redisDB:      rc.RedisDB,
		cookieSecure: rc.CookieSecure,
		csrfSecret:   rc.CSRFSecret,
		corsOrigins:  rc.CORS.AllowedOrigins,
		workerCount:  rc.WorkerCount,
		taskTimeout:  rc.TaskTimeout,
	}

	if v := viper.GetString("server.port"); v != "" {
		s.port = v
	}
	if v := viper.GetString("postgres.dsn"); v != "" {
		s.postgresDSN = v
	}
	if v := viper.GetString("redis.addr"); v != "" {
		s.redisAddr = v
	}
	if v := viper.GetInt("worker.count"); v > 0 {
		s.workerCount = v
	}
	if viper.IsSet("cookie.secure") {
		s.cookieSecure = viper.GetBool("cookie.secure")
	}
	s.ratePerSec = viper.GetFloat64("server.rate_limit")
	s.embeddedPath = viper.GetString("embedded.path")

	return s, nil
}

// cfgFile holds the path to the configuration file specified via the
// --config flag.
//
// Configuration File Search Order (when cfgFile is empty):
//  1. $HOME/.flowrt.yaml
//  2. ./.flowrt.yaml
//  3. Environment variables (FLOWRT_ prefix, see config.LoadRuntimeConfig)
var cfgFile string

// RootCmd is the entry point for the flow runtime server.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags
//  2. Configuration file values
//  3. Environment variables (FLOWRT_ prefix)
//  4. Default values
var RootCmd = &cobra.Command{
	Use:   "flowrt",
	Short: "conversational flow runtime server",
	Long: `flowrt serves conversational flow definitions: a turn-based
execution engine that resolves variables, evaluates branch conditions,
runs typed nodes (message, question, condition, action, webhook,
composite, script), and dispatches idempotent background tasks over a
Redis-backed queue.

Session and flow state live in Postgres. The HTTP API exposes session
start, turn interaction, and session end, guarded by double-submit CSRF
protection on the interact route.`,
	Run: runServer,
}

// init registers persistent flags and binds them into Viper so flags,
// environment variables, and config file values all resolve through
// the same lookup.
func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flowrt.yaml)")

	RootCmd.PersistentFlags().String("port", "", "HTTP server port")
	RootCmd.PersistentFlags().String("postgres-dsn", "", "Postgres connection string")
	RootCmd.PersistentFlags().String("redis-addr", "", "Redis address (host:port)")
	RootCmd.PersistentFlags().Int("worker-count", 0, "number of background task workers")
	RootCmd.PersistentFlags().Bool("cookie-secure", true, "set Secure flag on session/CSRF cookies (disable only for local http development)")
	RootCmd.PersistentFlags().Float64("rate-limit", 0, "requests per second per client IP (0 disables the limiter)")
	RootCmd.PersistentFlags().String("embedded", "", "path to a bbolt file; when set, the idempotency ledger runs embedded instead of against Postgres")

	viper.BindPFlag("server.port", RootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("postgres.dsn", RootCmd.PersistentFlags().Lookup("postgres-dsn"))
	viper.BindPFlag("redis.addr", RootCmd.PersistentFlags().Lookup("redis-addr"))
	viper.BindPFlag("worker.count", RootCmd.PersistentFlags().Lookup("worker-count"))
	viper.BindPFlag("cookie.secure", RootCmd.PersistentFlags().Lookup("cookie-secure"))
	viper.BindPFlag("server.rate_limit", RootCmd.PersistentFlags().Lookup("rate-limit"))
	viper.BindPFlag("embedded.path", RootCmd.PersistentFlags().Lookup("embedded"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".flowrt")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// runServer wires every component and starts serving.
//
// Startup Sequence:
//  1. Load and validate runtime configuration
//  2. Open the Postgres pool, build the session/flow/idempotency stores
//  3. Connect the Redis task queue
//  4. Build the node processor, engine, orchestrator, and task handler
//  5. Start the background worker pool consuming the task queue
//  6. Start the httpapi server
//  7. Wait for SIGINT/SIGTERM, then shut both down with a timeout
func runServer(cmd *cobra.Command, args []string) {
	cfg, err := loadRuntimeConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logEntry := logging.New(cfg.service, cfg.logLevel, cfg.logFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pg, err := db.NewPostgresDB(ctx, cfg.postgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pg.Close()

	flows := flow.NewPostgresStore(pg)
	sessions := session.NewPostgresRepository(pg, flows, logEntry)
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
		logEntry.WithField("path", cfg.embeddedPath).Info("idempotency ledger running embedded (bbolt), not Postgres")
	} else {
		ledger = idempotency.NewPostgresLedger(pg, revisionReader)
	}

	queueCtx, queueCancel := context.WithTimeout(context.Background(), 10*time.Second)
	redisURL := fmt.Sprintf("redis://%s/%d", cfg.redisAddr, cfg.redisDB)
	taskQueue, err := redis.NewQueue(queueCtx, redis.Config{RedisURL: redisURL, Name: "flowrt"})
	queueCancel()
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer taskQueue.Close()

	nodeProc := node.NewProcessor(sessions, logEntry)
	eng := engine.New(flows, sessions, nodeProc, logEntry)
	orch := orchestrator.New(flows, sessions, eng, logEntry)
	handler := task.NewHandler(ledger, sessions, nodeProc, logEntry)

	pool := worker.NewPool(taskQueue, handler, worker.Config{
		Count:       cfg.workerCount,
		TaskTimeout: cfg.taskTimeout,
	}, logEntry)
	pool.Start()
	defer pool.Stop()

	server := httpapi.New(orch, httpapi.Config{
		SecureCookies:    cfg.cookieSecure,
		CORSOrigins:      cfg.corsOrigins,
		TokenSecret:      []byte(cfg.csrfSecret),
		RatePerSecond:    cfg.ratePerSec,
		MetricsNamespace: cfg.service,
	}, logEntry)

	go func() {
		logEntry.Infof("server starting on port %s", cfg.port)
		if err := server.Start(":" + cfg.port); err != nil {
			logEntry.WithError(err).Info("server stopped serving")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logEntry.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Echo().Shutdown(shutdownCtx); err != nil {
		log.Fatal(err)
	}
}
