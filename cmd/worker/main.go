package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mostrador/mostrador/internal/app"
	"github.com/mostrador/mostrador/internal/catalog"
	jobmetrics "github.com/mostrador/mostrador/internal/jobs"
	"github.com/mostrador/mostrador/internal/notify"
	"github.com/mostrador/mostrador/internal/platform/cache"
	"github.com/mostrador/mostrador/internal/platform/db"
	"github.com/mostrador/mostrador/internal/reminders"
	"github.com/mostrador/mostrador/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)

	// The relay skips notifications that carry an origin, so deliveries made here
	// never travel back to the API instances as new work.
	bus := notify.NewBus(logger)
	relay := notify.NewRedisRelay(redisClient, cfg.NotifyChannel, cfg.AppInstance)
	bus.Subscribe("log", notify.LogSubscriber{Logger: logger})
	bus.Subscribe("relay", relay)

	scheduler, err := reminders.NewScheduler(reminders.Config{
		Location:  cfg.ReminderLocation(),
		Marker:    reminders.NewRedisMarker(redisClient),
		Publisher: bus,
		Metrics:   metrics,
		Logger:    logger,
	},
		reminders.Entry{
			Check: reminders.StaleCurrencyCheck{Source: catalog.NewRepository(pool), MaxAge: cfg.CurrencyStaleAfter},
			Spec:  cfg.ReminderCurrencyCron,
		},
		reminders.Entry{
			Check: reminders.ExpiredReservationCheck{Source: reminders.NewRepository(pool)},
			Spec:  cfg.ReminderReservationCron,
		},
	)
	if err != nil {
		return err
	}

	deliver := &jobs.DeliverJob{Bus: bus, Logger: logger, Metrics: metrics}
	remind := &jobs.ReminderJob{Runner: scheduler, Logger: logger}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.Redis().Asynq(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: notify.TaskDeliver, Handler: deliver.Handle},
			{Type: jobs.TaskRunReminder, Handler: remind.Handle},
		},
	})
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return relay.Listen(gctx, bus) })
	if metricsServer.Addr != "" {
		g.Go(func() error {
			logger.Info("worker metrics listening", slog.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}
	logger.Info("worker started", slog.String("instance", cfg.AppInstance))
	return g.Wait()
}
