package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferbecerra/rifago/internal/config"
	"github.com/ferbecerra/rifago/internal/postgres"
	redisx "github.com/ferbecerra/rifago/internal/redis"
	postgresrepo "github.com/ferbecerra/rifago/internal/repository/postgres"
	redisrepo "github.com/ferbecerra/rifago/internal/repository/redis"
	"github.com/ferbecerra/rifago/internal/service"
	"github.com/ferbecerra/rifago/internal/service/allocation"
	"github.com/ferbecerra/rifago/internal/service/reservation"
	httpgin "github.com/ferbecerra/rifago/internal/transport/http/gin"
	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	scheduler  gocron.Scheduler
	services   *service.Services
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisx.NewRafflesPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "reservations", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize services
	services := service.NewServices(store, cache, pubsub, limiter, service.Config{
		Allocation: allocation.Config{
			MaxAttempts: cfg.Tickets.AllocMaxAttempts,
			InsertBatch: cfg.Tickets.AllocInsertBatch,
		},
		Reservation: reservation.Config{
			TTL: cfg.Tickets.ReservationTTL,
		},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, logger, httpgin.RouterConfig{
		MaxPerPurchase: cfg.Tickets.MaxPerPurchase,
	})

	// Scheduled expiration reaper
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	app := &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		scheduler: scheduler,
		services:  services,
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(cfg.Tickets.ReaperInterval),
		gocron.NewTask(func(ctx context.Context) {
			services.Reaper.Run(ctx, logger)
		}),
	); err != nil {
		return nil, fmt.Errorf("failed to schedule reaper: %w", err)
	}

	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	a.scheduler.Start()

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down")

		if err := a.scheduler.Shutdown(); err != nil {
			a.logger.Error("scheduler shutdown failed", "error", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
