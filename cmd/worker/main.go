package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/refinery-erp/refinery-erp/internal/app"
	"github.com/refinery-erp/refinery-erp/internal/platform/db"
	"github.com/refinery-erp/refinery-erp/internal/procurement"
	"github.com/refinery-erp/refinery-erp/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The broker may come up after us. Probe with bounded retries and keep
	// serving in a degraded state if it never answers; events queued by the
	// catalog side are redelivered once the broker returns.
	if err := jobs.ConnectWithRetry(ctx, cfg.RedisAddr, cfg.BrokerConnectAttempts, cfg.BrokerConnectBackoff, logger); err != nil {
		logger.Warn("starting without broker connectivity", slog.Any("error", err))
	}

	procurementRepo := procurement.NewRepository(pool)
	reconciler := procurement.NewReconciler(procurementRepo, logger)
	handlers := jobs.NewCatalogEventHandlers(reconciler, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCatalogItemUpdated, Handler: handlers.HandleItemUpdated},
			{Type: jobs.TaskCatalogItemDiscontinued, Handler: handlers.HandleItemDiscontinued},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker listening for catalog events", slog.String("queue", jobs.QueueDefault))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
