package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"signage/internal/config"
	"signage/internal/database"
	"signage/internal/handlers"
	"signage/internal/health"
	"signage/internal/jobs"
	"signage/internal/logging"
	"signage/internal/mediasync"
	"signage/internal/metrics"
	"signage/internal/middleware"
	"signage/internal/realtime"
	"signage/internal/sources"
	"signage/internal/tracing"
)

// APIServer serves the device sync API
type APIServer struct {
	app       *fiber.App
	cfg       *config.AppConfig
	logger    *logging.Logger
	dbManager *database.DatabaseManager
	redis     *redis.Client
	queue     *asynq.Client
	hub       *realtime.Hub
	notifier  *realtime.RedisNotifier
	engine    *mediasync.Engine
	repo      *sources.Repository
	metrics   *metrics.Metrics
	limiter   *middleware.DeviceRateLimiter
}

// NewAPIServer wires the engine and its collaborators
func NewAPIServer(cfg *config.AppConfig, logger *logging.Logger, dbManager *database.DatabaseManager) *APIServer {
	db := dbManager.GetGormDB()
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	hub := realtime.NewHub()
	repo := sources.NewRepository(db, sources.Config{
		Location:        cfg.Sync.Location(),
		FlashSaleWarmup: cfg.Sync.FlashSaleWarmup,
	}, *logging.WithModule("sources"))

	var (
		redisClient *redis.Client
		queue       *asynq.Client
		notifier    *realtime.RedisNotifier
		engineCfg   = mediasync.EngineConfig{
			PreloadWindow: cfg.Sync.PreloadWindow,
			Metrics:       m,
			Notifier:      hub,
		}
	)
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.Timeout,
		})
		queue = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		// published events come back to this instance's hub through the relay
		notifier = realtime.NewRedisNotifier(redisClient, *logging.WithModule("realtime"))
		engineCfg.Notifier = notifier
	} else {
		logging.Warn("redis.addr is empty, running standalone: notifications stay in process and jobs run inline")
	}

	engine := mediasync.NewEngine(db, repo.Sources(), engineCfg)

	server := &APIServer{
		cfg:       cfg,
		logger:    logger,
		dbManager: dbManager,
		redis:     redisClient,
		queue:     queue,
		hub:       hub,
		notifier:  notifier,
		engine:    engine,
		repo:      repo,
		metrics:   m,
		limiter:   middleware.NewDeviceRateLimiter(cfg.Sync.ProgressRateLimit, cfg.Sync.ProgressRateBurst),
	}

	server.app = fiber.New(fiber.Config{
		AppName:      "Signage Sync API",
		ServerHeader: "Signage",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	server.app.Use(recover.New())
	server.app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	server.app.Use(tracing.FiberMiddleware())
	server.app.Use(logger.FiberLoggerMiddleware())
	server.app.Use(middleware.MetricsMiddleware(m))
	server.app.Use(cors.New())

	server.setupRoutes()

	return server
}

func (s *APIServer) setupRoutes() {
	var rdb redis.UniversalClient
	if s.redis != nil {
		rdb = s.redis
	}
	checker := health.NewChecker(s.dbManager, rdb, s.metrics)
	health.RegisterHealthRoutes(s.app, checker)
	s.app.Get("/metrics", handlers.NewMetricsHandler(prometheus.DefaultGatherer))

	syncHandler := handlers.NewSyncHandler(s.engine)
	eventsHandler := handlers.NewEventsHandler(s.hub, s.repo)

	devices := s.app.Group("/api/devices/:id")
	devices.Get("/sync-plan", syncHandler.GetSyncPlan)
	devices.Post("/sync-progress", s.limiter.Handler(), syncHandler.ReportProgress)
	devices.Post("/sync-ack", syncHandler.ReportAck)
	devices.Post("/sync-failure", syncHandler.ReportFailure)
	devices.Get("/sync-status", syncHandler.GetSyncStatus)
	devices.Get("/events", eventsHandler.Stream)

	var enqueuer handlers.JobEnqueuer
	if s.queue != nil {
		enqueuer = jobs.NewEnqueuer(s.queue)
	}
	adminHandler := handlers.NewAdminSyncHandler(s.engine, enqueuer)
	adminHandler.OnDeleted(s.limiter.Forget)

	admin := s.app.Group("/api/admin",
		middleware.RateLimiterForOperators(),
		middleware.OperatorAuth(s.cfg.Auth.OperatorSecret),
	)
	admin.Post("/sync-notify", adminHandler.NotifyDevices)
	admin.Post("/devices/:id/sync-notify", adminHandler.NotifyDevice)
	admin.Delete("/devices/:id/sync-state", adminHandler.DeleteSyncState)
}

// Start relays cluster events into the local hub and listens for requests
func (s *APIServer) Start(ctx context.Context) error {
	if s.notifier != nil {
		go s.relay(ctx)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	logging.Infof("Starting API server on %s", addr)
	return s.app.Listen(addr)
}

// relay forwards events published by any instance into the local hub,
// reconnecting until ctx ends
func (s *APIServer) relay(ctx context.Context) {
	for {
		err := s.notifier.Relay(ctx, s.hub)
		if ctx.Err() != nil {
			return
		}
		logging.WithModule("realtime").Warn().Err(err).Msg("Realtime relay stopped, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// Shutdown stops accepting requests and closes connections
func (s *APIServer) Shutdown() error {
	errs := []error{s.app.ShutdownWithTimeout(10 * time.Second)}
	if s.queue != nil {
		errs = append(errs, s.queue.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.dbManager.Close())
	return errors.Join(errs...)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	logger := logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format)
	if cfg.UsesDefaultOperatorSecret() {
		logging.Warn("auth.operator_secret is the shipped default, set SIGNAGE_AUTH_OPERATOR_SECRET")
	}

	tracer, err := tracing.NewTracer(tracing.ServiceName, cfg.Tracing)
	if err != nil {
		logging.Fatalf("Failed to initialize tracing: %v", err)
	}

	dbLogger := logging.WithModule("database")
	dbManager, err := database.NewDatabaseManager(&cfg.Database, dbLogger)
	if err != nil {
		logging.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.NewMigrationManager(dbManager.GetGormDB(), dbLogger).Migrate(); err != nil {
		logging.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := NewAPIServer(cfg, logger, dbManager)
	go func() {
		if err := server.Start(ctx); err != nil {
			logging.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logging.Info("Received shutdown signal")

	if err := server.Shutdown(); err != nil {
		logging.WithError(err).Error().Msg("Error during shutdown")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logging.WithError(err).Error().Msg("Failed to flush traces")
	}
}
