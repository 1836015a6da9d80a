package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/mostrador/mostrador/cmd/mostrador/cli"
	"github.com/mostrador/mostrador/internal/app"
	"github.com/mostrador/mostrador/internal/auth"
	"github.com/mostrador/mostrador/internal/catalog"
	"github.com/mostrador/mostrador/internal/history"
	"github.com/mostrador/mostrador/internal/notify"
	"github.com/mostrador/mostrador/internal/observability"
	"github.com/mostrador/mostrador/internal/platform/cache"
	"github.com/mostrador/mostrador/internal/platform/db"
	"github.com/mostrador/mostrador/internal/purchases"
	"github.com/mostrador/mostrador/internal/quotes"
	"github.com/mostrador/mostrador/internal/rbac"
	"github.com/mostrador/mostrador/internal/shared"
	"github.com/mostrador/mostrador/internal/stock"
	"github.com/mostrador/mostrador/jobs"
)

var reminderChecks = []string{"currency", "reservation"}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	os.Exit(run(os.Args[1:]))
}

// run dispatches the subcommand in args and returns the process exit code. Deferred
// cleanup inside run completes before main exits.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg)

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "currency-check":
		return currencyCheck(ctx, cfg, args)
	case "remind", "queue":
		err = jobsCommand(ctx, cfg, cmd, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (serve, migrate, currency-check, remind, queue)\n", cmd)
		return 2
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(cmd, slog.Any("error", err))
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.PGMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient := jobs.NewClient(cfg.Redis().Asynq())
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(cfg.Redis().Asynq())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	bus := notify.NewBus(logger)
	relay := notify.NewRedisRelay(redisClient, cfg.NotifyChannel, cfg.AppInstance)
	bus.Subscribe("log", notify.LogSubscriber{Logger: logger})
	bus.Subscribe("relay", relay)
	bus.Subscribe("worker", notify.TaskSubscriber{Enqueuer: jobClient, Queue: jobs.QueueDefault, Instance: cfg.AppInstance})

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, "mostrador_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	rbacService := rbac.NewService(pool)
	rbacMiddleware := rbac.Middleware{Source: rbacService, Logger: logger}

	catalogRepo := catalog.NewRepository(pool)
	coordinator := stock.NewCoordinator(logger)
	recorder := history.NewRecorder(history.NewRepository(pool), nil)

	quoteService := quotes.NewService(quotes.NewRepository(pool), catalogRepo, coordinator, recorder,
		quotes.ServiceConfig{TaxRate: cfg.TaxRateDecimal(), Publisher: bus}, logger, metrics)
	purchaseService := purchases.NewService(purchases.NewRepository(pool), catalogRepo, coordinator,
		cfg.TaxRateDecimal(), bus, logger)
	authService := auth.NewService(auth.NewRepository(pool))

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        auth.NewHandler(logger, authService, sessionManager, csrfManager, rbacService),
		QuotesHandler:      quotes.NewHandler(logger, quoteService, rbacMiddleware),
		PurchasesHandler:   purchases.NewHandler(logger, purchaseService, rbacMiddleware),
		StockHandler:       stock.NewHandler(logger, stock.NewRepository(pool)),
		JobHandler:         jobs.NewHandler(inspector, jobClient, reminderChecks, rbacMiddleware, logger),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		Metrics:            metrics,
		HealthChecks: map[string]app.HealthCheck{
			"postgres": func(r *http.Request) error { return pool.Ping(r.Context()) },
			"redis":    func(r *http.Request) error { return redisClient.Ping(r.Context()).Err() },
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("instance", cfg.AppInstance))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.Listen(gctx, bus)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 1})
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func currencyCheck(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("currency-check", flag.ExitOnError)
	maxAge := fs.Duration("max-age", cfg.CurrencyStaleAfter, "maximum age of an exchange rate")
	asJSON := fs.Bool("json", false, "print JSON")
	_ = fs.Parse(args)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		fmt.Fprintf(os.Stderr, "currency-check: %v\n", err)
		return 1
	}
	defer pool.Close()
	return cli.CurrencyCheck(ctx, catalog.NewRepository(pool), cli.CurrencyCheckOptions{
		MaxAge:     *maxAge,
		JSONOutput: *asJSON,
	})
}

func jobsCommand(ctx context.Context, cfg *app.Config, cmd string, args []string) error {
	client := jobs.NewClient(cfg.Redis().Asynq())
	defer client.Close()
	inspector := asynq.NewInspector(cfg.Redis().Asynq())
	defer inspector.Close()
	helpers := cli.NewJobsCLI(client, inspector, reminderChecks)

	if cmd == "queue" {
		stats, err := helpers.InspectQueue(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(stats)
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: mostrador remind <%s>", "currency|reservation")
	}
	info, err := helpers.Trigger(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "enqueued %s as %s\n", args[0], info.ID)
	return nil
}
