package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"signage/internal/config"
	"signage/internal/database"
	"signage/internal/jobs"
	"signage/internal/logging"
	"signage/internal/mediasync"
	"signage/internal/metrics"
	"signage/internal/realtime"
	"signage/internal/sources"
	"signage/internal/tracing"
)

// WorkerServer handles background sync jobs
type WorkerServer struct {
	srv       *asynq.Server
	mux       *asynq.ServeMux
	dbManager *database.DatabaseManager
	redis     *redis.Client
	tracer    *tracing.Tracer
}

// NewWorkerServer creates a new worker server
func NewWorkerServer() (*WorkerServer, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.Redis.Enabled() {
		return nil, fmt.Errorf("worker requires redis.addr to be set")
	}

	logger := logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format)

	tracer, err := tracing.NewTracer(tracing.ServiceName+"-worker", cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	dbManager, err := database.NewDatabaseManager(&cfg.Database, logging.WithModule("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db := dbManager.GetGormDB()

	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.Timeout,
	})

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	repo := sources.NewRepository(db, sources.Config{
		Location:        cfg.Sync.Location(),
		FlashSaleWarmup: cfg.Sync.FlashSaleWarmup,
	}, *logging.WithModule("sources"))

	engine := mediasync.NewEngine(db, repo.Sources(), mediasync.EngineConfig{
		PreloadWindow: cfg.Sync.PreloadWindow,
		Metrics:       m,
		Notifier:      realtime.NewRedisNotifier(redisClient, *logging.WithModule("realtime")),
	})

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Queues: map[string]int{
				jobs.QueueCritical: 6, // device cleanup
				jobs.QueueDefault:  3, // plan change notifications
			},
			Concurrency: 10,
			Logger:      newAsynqLogger(),
		},
	)

	mux := asynq.NewServeMux()
	mux.Use(jobs.TracingMiddleware(), jobs.MetricsMiddleware(m, logger))
	jobs.NewSyncTaskHandler(engine).Register(mux)

	return &WorkerServer{
		srv:       srv,
		mux:       mux,
		dbManager: dbManager,
		redis:     redisClient,
		tracer:    tracer,
	}, nil
}

// Start starts processing jobs
func (w *WorkerServer) Start() error {
	logging.Info("Starting worker server...")

	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight jobs and releases connections
func (w *WorkerServer) Shutdown() {
	logging.Info("Shutting down worker server...")
	w.srv.Shutdown()

	if err := w.redis.Close(); err != nil {
		logging.WithError(err).Warn().Msg("Failed to close redis client")
	}
	if err := w.dbManager.Close(); err != nil {
		logging.WithError(err).Warn().Msg("Failed to close database")
	}
	if err := w.tracer.Shutdown(context.Background()); err != nil {
		logging.WithError(err).Warn().Msg("Failed to flush traces")
	}
}

func main() {
	worker, err := NewWorkerServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to create worker server:", err)
		os.Exit(1)
	}

	if err := worker.Start(); err != nil {
		logging.Fatalf("Worker server error: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logging.Info("Received shutdown signal")
	worker.Shutdown()
}
