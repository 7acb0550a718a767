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
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/commission-engine/internal/app"
	"github.com/odyssey-erp/commission-engine/internal/deals"
	"github.com/odyssey-erp/commission-engine/internal/events"
	jobmetrics "github.com/odyssey-erp/commission-engine/internal/jobs"
	"github.com/odyssey-erp/commission-engine/internal/observability"
	"github.com/odyssey-erp/commission-engine/internal/payments"
	"github.com/odyssey-erp/commission-engine/internal/platform/cache"
	"github.com/odyssey-erp/commission-engine/internal/platform/db"
	"github.com/odyssey-erp/commission-engine/internal/reconcile"
	"github.com/odyssey-erp/commission-engine/internal/shared"
	"github.com/odyssey-erp/commission-engine/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, "commission-worker")
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, "commission-worker")
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var publisher events.Publisher = events.Discard{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	dealRepo := deals.NewRepository(pool)
	paymentService := payments.NewService(payments.NewRepository(pool), dealRepo, shared.NewAuditLogger(pool), payments.ServiceConfig{
		Policy:    cfg.Policy(),
		Logger:    logger,
		Publisher: publisher,
		Locker:    shared.NewRedisLocker(redisClient, cfg.DealLockTTL),
	})
	reconcileService := reconcile.NewService(dealRepo, paymentService,
		reconcile.NewExternalRepository(pool, cfg.ExternalSource), cfg.Policy(), logger)

	registry := observability.NewMetrics()
	metrics := jobmetrics.NewMetrics(registry.Registerer())
	recomputeJob := jobs.NewRecomputeJob(paymentService, dealRepo, logger, metrics)
	scanJob := jobs.NewReconcileScanJob(reconcileService, logger, metrics)

	scanTask, err := jobs.NewReconcileScanTask()
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPaymentsRecompute, Handler: recomputeJob.Handle},
			{Type: jobs.TaskReconcileScan, Handler: scanJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: registry.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
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
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
