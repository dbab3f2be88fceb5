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

	"github.com/hibiken/asynq"
	"github.com/hugh/scanhub/internal/api"
	"github.com/hugh/scanhub/internal/app"
	"github.com/hugh/scanhub/internal/auth"
	"github.com/hugh/scanhub/internal/database"
	"github.com/hugh/scanhub/internal/events"
	"github.com/hugh/scanhub/internal/metrics"
	"github.com/hugh/scanhub/internal/scans"
	"github.com/hugh/scanhub/internal/tasks"
	"github.com/hugh/scanhub/pkg/config"
	"github.com/hugh/scanhub/pkg/queue"
	"github.com/hugh/scanhub/pkg/util"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting scanhub server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
		"scanner", cfg.Scanner.BaseURL,
	)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	sealer, err := app.NewSealer(&cfg.Encryption)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		os.Exit(1)
	}
	if sealer == nil {
		logger.Warn("ENCRYPTION_KEY not set, scan results are stored in plaintext")
	}

	backend, err := app.NewBackend(&cfg.Scanner)
	if err != nil {
		logger.Error("failed to create scanner client", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	redisClient := app.ConnectRedis(context.Background(), &cfg.Redis, logger)

	// With Redis, scans go to the worker through asynq and lifecycle events
	// come back over pub/sub. Without it, scans run in this process.
	var (
		asynqClient *asynq.Client
		dispatcher  scans.Dispatcher
		bus         interface {
			events.Publisher
			events.Subscriber
		}
	)
	if redisClient != nil {
		asynqClient = queue.NewClient(&cfg.Redis)
		dispatcher = tasks.NewAsynqDispatcher(asynqClient, backend.Timeout())
		bus = events.NewRedisBus(redisClient, logger)
		logger.Info("dispatching scans through the worker queue")
	} else {
		bus = events.NewHub()
		logger.Warn("dispatching scans inline; start Redis and the worker for durable dispatch")
	}

	manager := scans.NewManager(scans.NewGormStore(db, sealer), backend, scans.ManagerOptions{
		StaleAfter:  cfg.Scanner.StaleAfter(),
		Dispatcher:  dispatcher,
		Concurrency: cfg.Worker.Concurrency,
		Notifier:    bus,
		Metrics:     m,
		Logger:      logger,
	})

	// The worker's scheduler owns reconciliation when it is running.
	var reconciler *cron.Cron
	if dispatcher == nil {
		reconciler = startInlineReconciler(manager, cfg.Worker.ReconcileCron, logger)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService)

	router := api.NewRouter(api.RouterConfig{
		DB:             db,
		Redis:          redisClient,
		Logger:         logger,
		JWTService:     jwtService,
		AuthService:    authService,
		Scans:          manager,
		Events:         bus,
		Backend:        backend,
		Metrics:        m,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitReqs:  cfg.RateLimit.Requests,
		RateLimitSecs:  cfg.RateLimit.WindowSeconds,
		SecureCookies:  !cfg.Server.IsDevelopment(),
	})

	// No WriteTimeout: the events websocket is long-lived.
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	router.Close()

	if reconciler != nil {
		<-reconciler.Stop().Done()
	}

	// Inline scans finish on their own; the backend timeout bounds them.
	manager.Wait()

	if asynqClient != nil {
		_ = asynqClient.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := database.Close(db); err != nil {
		logger.Error("closing database", "error", err)
	}

	logger.Info("server stopped")
}

// startInlineReconciler fails lost scans on cron, after one pass at startup
// for scans left running by a previous process.
func startInlineReconciler(manager *scans.Manager, spec string, logger *slog.Logger) *cron.Cron {
	reconcile := func() {
		n, err := manager.ReconcileStale(context.Background())
		if err != nil {
			logger.Error("reconciling stale scans", "error", err)
			return
		}
		if n > 0 {
			logger.Info("failed stale scans", "count", n)
		}
	}
	reconcile()

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, reconcile); err != nil {
		logger.Error("invalid reconcile schedule", "cron", spec, "error", err)
		return nil
	}
	c.Start()
	return c
}
