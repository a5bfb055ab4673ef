package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/possync/internal/app"
	"github.com/odyssey-erp/possync/internal/feed"
	"github.com/odyssey-erp/possync/internal/observability"
	"github.com/odyssey-erp/possync/internal/platform/cache"
	"github.com/odyssey-erp/possync/internal/platform/db"
	"github.com/odyssey-erp/possync/internal/possync"
	workerjobs "github.com/odyssey-erp/possync/jobs"
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

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.DBOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := possync.EnsureSchema(ctx, pool); err != nil {
		logger.Error("ensure schema", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	service := possync.NewService(possync.NewRepository(pool), logger, cfg.ServiceConfig())
	feeds := app.NewFeedFactory(cfg, feed.NewTokenStore(redisClient), logger)
	metrics := observability.NewMetrics()

	cycleJob := workerjobs.NewSyncCycleJob(service, feeds, logger, metrics.Jobs())
	pullJob := workerjobs.NewReceiptPullJob(service, feeds, feed.NewCheckpointStore(redisClient), logger, metrics.Jobs())

	cycleTask, err := workerjobs.NewSyncCycleTask(workerjobs.ProfileAll)
	if err != nil {
		logger.Error("build sync cycle task", slog.Any("error", err))
		os.Exit(1)
	}
	pullTask, err := workerjobs.NewReceiptPullTask(workerjobs.ProfileAll)
	if err != nil {
		logger.Error("build receipt pull task", slog.Any("error", err))
		os.Exit(1)
	}

	cronOpts := []asynq.Option{asynq.MaxRetry(3), asynq.Unique(workerjobs.UniqueWindow)}
	worker, err := workerjobs.NewWorker(workerjobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedis(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []workerjobs.TaskHandler{
			{Type: workerjobs.TaskSyncCycle, Handler: cycleJob.Handle},
			{Type: workerjobs.TaskReceiptPull, Handler: pullJob.Handle},
		},
		Cron: []workerjobs.CronRegistration{
			{Spec: cfg.SyncCron, Task: cycleTask, Options: cronOpts},
			{Spec: cfg.ReceiptCron, Task: pullTask, Options: cronOpts},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:        cfg.WorkerMetricsAddr,
			Handler:     app.NewRouter(app.RouterParams{Logger: logger, Config: cfg, Metrics: metrics}),
			ReadTimeout: cfg.AppReadTimeout,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			if err := metricsServer.Close(); err != nil {
				logger.Warn("worker metrics close", slog.Any("error", err))
			}
		}()
	}

	logger.Info("worker started", slog.String("sync_cron", cfg.SyncCron), slog.String("receipt_cron", cfg.ReceiptCron))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
