package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/virtual-queue/internal/api/http"
	"github.com/spec-kit/virtual-queue/internal/api/http/handlers"
	"github.com/spec-kit/virtual-queue/internal/auth"
	"github.com/spec-kit/virtual-queue/internal/cache"
	"github.com/spec-kit/virtual-queue/internal/config"
	"github.com/spec-kit/virtual-queue/internal/events"
	"github.com/spec-kit/virtual-queue/internal/observability"
	"github.com/spec-kit/virtual-queue/internal/persistence"
	"github.com/spec-kit/virtual-queue/internal/repository"
	"github.com/spec-kit/virtual-queue/internal/service"
	"github.com/spec-kit/virtual-queue/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	pool := pg.PoolHandle()
	if pool != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		queueRepo   repository.QueueRepository
		sessionRepo repository.SessionRepository
		tenantRepo  repository.TenantRepository
	)
	if pool != nil {
		queueRepo = repository.NewQueueRepository(pool)
		sessionRepo = repository.NewSessionRepository(pool)
		tenantRepo = repository.NewTenantRepository(pool)
	} else {
		queueRepo = repository.NewMemoryQueueRepository()
		sessionRepo = repository.NewMemorySessionRepository()
		tenantRepo = repository.NewMemoryTenantRepository()
	}

	var positionCache cache.PositionCache
	if redis.Available() {
		positionCache = cache.NewRedisPositionCache(redis.Client, cfg.Cache.PositionTTL())
	} else {
		positionCache = cache.NewMemoryPositionCache(cfg.Cache.PositionTTL())
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewAsyncDispatcher(cfg.Notification.EventBufferSize, logger)
	defer dispatcher.Stop()

	registry := service.NewQueueRegistry()
	admission := service.NewAdmissionService(service.AdmissionDependencies{
		QueueRepo:     queueRepo,
		SessionRepo:   sessionRepo,
		PositionCache: positionCache,
		Dispatcher:    dispatcher,
		Registry:      registry,
		Logger:        logger,
		Metrics:       metrics,
		RetryAttempts: cfg.Scheduler.RetryAttempts,
	})
	positions := service.NewPositionService(sessionRepo, positionCache, logger, metrics)
	queueAdmin := service.NewQueueAdminService(queueRepo, dispatcher, registry)
	tenants := service.NewTenantService(tenantRepo, cfg.Auth)

	notification := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	notification.RegisterHandlers()

	releaser := worker.NewReleaseWorker(worker.ReleaseWorkerConfig{
		TickInterval:      cfg.Scheduler.TickInterval(),
		ActiveSessionTTL:  time.Duration(cfg.Scheduler.ActiveSessionTTLMinutes) * time.Minute,
		WaitingSessionTTL: time.Duration(cfg.Scheduler.WaitingSessionTTLMinutes) * time.Minute,
	}, queueRepo, admission, logger, metrics)
	go releaser.Start(ctx)

	authMiddleware := auth.NewAuthMiddleware(tenants.TokenManager(), tenantRepo)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Tenants:        handlers.NewTenantsHandler(tenants),
		Queues:         handlers.NewQueuesHandler(queueAdmin, releaser),
		Sessions:       handlers.NewSessionsHandler(admission, positions),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
	releaser.Wait()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
