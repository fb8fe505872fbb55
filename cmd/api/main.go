package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/ticket-engine/internal/api/http"
	"github.com/spec-kit/ticket-engine/internal/api/http/handlers"
	"github.com/spec-kit/ticket-engine/internal/auth"
	"github.com/spec-kit/ticket-engine/internal/config"
	"github.com/spec-kit/ticket-engine/internal/events"
	"github.com/spec-kit/ticket-engine/internal/notify"
	"github.com/spec-kit/ticket-engine/internal/observability"
	"github.com/spec-kit/ticket-engine/internal/persistence"
	"github.com/spec-kit/ticket-engine/internal/repository"
	"github.com/spec-kit/ticket-engine/internal/service"
	"github.com/spec-kit/ticket-engine/internal/worker"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	migrateOnly := pflag.Bool("migrate-only", false, "apply store migrations and exit")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *migrateOnly); err != nil {
		logger.Fatal("ticket engine stopped", zap.Error(err))
	}
}

type storeBackend struct {
	store    repository.TicketStore
	checkers map[string]handlers.Checker
	close    func()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (*storeBackend, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pgCfg := cfg.Postgres
		pgCfg.RunMigrations = pgCfg.RunMigrations || migrate
		pg, err := persistence.NewPostgres(ctx, pgCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &storeBackend{
			store:    repository.NewPostgresStore(pg.Pool),
			checkers: map[string]handlers.Checker{"postgres": pg},
			close:    pg.Close,
		}, nil
	case config.StoreDriverSQLite:
		db, err := persistence.OpenSQLite(ctx, cfg.SQLite.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &storeBackend{
			store:    repository.NewSQLiteStore(db),
			checkers: map[string]handlers.Checker{"sqlite": handlers.CheckerFunc(db.PingContext)},
			close:    func() { _ = db.Close() },
		}, nil
	default:
		logger.Warn("using in-memory ticket store; tickets are lost on restart")
		return &storeBackend{
			store:    repository.NewMemoryStore(),
			checkers: map[string]handlers.Checker{},
			close:    func() {},
		}, nil
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrateOnly bool) error {
	backend, err := openStore(ctx, cfg, logger, migrateOnly)
	if err != nil {
		return err
	}
	defer backend.close()
	if migrateOnly {
		logger.Info("migrations applied", zap.String("store", cfg.Store.Driver))
		return nil
	}

	queueDefs, err := config.LoadQueues(cfg.QueuesFile)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	policy := auth.NewStaffPolicy(cfg.Roles.Staff)

	registry := service.NewQueueRegistry(backend.store, policy.Permission(), logger).WithMetrics(metrics)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("load queues: %w", err)
	}
	if err := registry.Seed(ctx, queueDefs.Queues); err != nil {
		return fmt.Errorf("seed queues: %w", err)
	}

	sinks := map[string]notify.Sink{"log": notify.NewLogSink(logger)}
	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	if redis != nil {
		defer redis.Close()
		sinks["redis"] = notify.NewRedisSink(redis.Client, cfg.Notification.MailboxPrefix)
		backend.checkers["redis"] = redis
	}

	dispatcher := events.NewQueuedDispatcher(events.QueuedOptions{
		BufferSize: cfg.Notification.BufferSize,
		Workers:    cfg.Notification.Workers,
	}, logger)
	notifications := service.NewNotificationService(dispatcher, sinks, logger, metrics, cfg.Notification)

	tickets := service.NewTicketService(service.TicketDependencies{
		Store:      backend.store,
		Queues:     registry,
		Templates:  service.NewStaticTemplates(queueDefs.Queues),
		Permission: policy.Permission(),
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	})
	authService := service.NewAuthService(cfg.Auth, logger)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, backend.checkers, metrics),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(tickets),
		Queues:         handlers.NewQueuesHandler(registry),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager()),
	})

	// Workers outlive the HTTP server so events published by in-flight
	// requests are still drained.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.StartNotificationWorker(workerCtx, dispatcher, notifications)
	})
	group.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("store", cfg.Store.Driver))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		defer stopWorkers()
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
