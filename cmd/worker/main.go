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
	"github.com/hugh/scanhub/internal/app"
	"github.com/hugh/scanhub/internal/database"
	"github.com/hugh/scanhub/internal/events"
	"github.com/hugh/scanhub/internal/metrics"
	"github.com/hugh/scanhub/internal/scans"
	"github.com/hugh/scanhub/internal/tasks"
	"github.com/hugh/scanhub/pkg/config"
	"github.com/hugh/scanhub/pkg/queue"
	"github.com/hugh/scanhub/pkg/util"
	"github.com/joho/godotenv"
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

	logger.Info("starting scanhub worker",
		"concurrency", cfg.Worker.Concurrency,
		"scanner", cfg.Scanner.BaseURL,
		"reconcile_cron", cfg.Worker.ReconcileCron,
	)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	sealer, err := app.NewSealer(&cfg.Encryption)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		os.Exit(1)
	}

	backend, err := app.NewBackend(&cfg.Scanner)
	if err != nil {
		logger.Error("failed to create scanner client", "error", err)
		os.Exit(1)
	}

	redisClient := app.ConnectRedis(context.Background(), &cfg.Redis, logger)
	if redisClient == nil {
		logger.Error("the worker requires Redis")
		os.Exit(1)
	}

	m := metrics.New()
	manager := scans.NewManager(scans.NewGormStore(db, sealer), backend, scans.ManagerOptions{
		StaleAfter: cfg.Scanner.StaleAfter(),
		Notifier:   events.NewRedisBus(redisClient, logger),
		Metrics:    m,
		Logger:     logger,
	})

	srv := queue.NewServer(&cfg.Redis, cfg.Worker.Concurrency, logger)
	mux := asynq.NewServeMux()
	tasks.NewHandler(manager, logger).RegisterHandlers(mux)

	scheduler := queue.NewScheduler(&cfg.Redis, logger)
	if _, err := scheduler.Register(cfg.Worker.ReconcileCron, tasks.NewReconcileTask()); err != nil {
		logger.Error("failed to schedule reconciliation", "error", err)
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Worker.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "addr", cfg.Worker.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if err := srv.Start(mux); err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("scheduler error", "error", err)
		srv.Shutdown()
		os.Exit(1)
	}

	logger.Info("worker started, waiting for tasks...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")

	scheduler.Shutdown()
	srv.Shutdown()

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(ctx)
		cancel()
	}

	_ = redisClient.Close()
	if err := database.Close(db); err != nil {
		logger.Error("closing database", "error", err)
	}

	logger.Info("worker stopped")
}
