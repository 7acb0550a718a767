package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/commission-engine/cmd/commissiond/cli"
	"github.com/odyssey-erp/commission-engine/internal/app"
	"github.com/odyssey-erp/commission-engine/internal/deals"
	"github.com/odyssey-erp/commission-engine/internal/events"
	"github.com/odyssey-erp/commission-engine/internal/observability"
	"github.com/odyssey-erp/commission-engine/internal/payments"
	"github.com/odyssey-erp/commission-engine/internal/platform/cache"
	"github.com/odyssey-erp/commission-engine/internal/platform/db"
	"github.com/odyssey-erp/commission-engine/internal/reconcile"
	"github.com/odyssey-erp/commission-engine/internal/shared"
	"github.com/odyssey-erp/commission-engine/jobs"
)

const appName = "commissiond"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping commissiond startup")
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

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var code int
	switch cmd {
	case "serve":
		code = exitCode(logger, serve(ctx, cfg, logger))
	case "migrate":
		code = exitCode(logger, db.Migrate(cfg.PGDSN))
	case "validate":
		code = validate(ctx, cfg, logger, args)
	case "jobs":
		code = triggerJob(ctx, cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [serve|migrate|validate --deal ID|jobs recompute|reconcile [ids]]\n", appName)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	pool, err := db.New(ctx, cfg.PGDSN, appName)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, appName)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var publisher events.Publisher = events.Discard{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		publisher = kafkaPublisher
	} else {
		logger.Info("kafka brokers not configured, lifecycle events disabled")
	}

	metrics := observability.NewMetrics()
	dealRepo := deals.NewRepository(pool)
	paymentService := payments.NewService(payments.NewRepository(pool), dealRepo, shared.NewAuditLogger(pool), payments.ServiceConfig{
		Policy:    cfg.Policy(),
		Logger:    logger,
		Publisher: publisher,
		Locker:    shared.NewRedisLocker(redisClient, cfg.DealLockTTL),
		Observer:  metrics,
	})
	reconcileService := reconcile.NewService(dealRepo, paymentService,
		reconcile.NewExternalRepository(pool, cfg.ExternalSource), cfg.Policy(), logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		PaymentsHandler:  payments.NewHandler(logger, paymentService),
		ReconcileHandler: reconcile.NewHandler(logger, reconcileService),
		JobsHandler:      jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		Checks: map[string]app.Pinger{
			"postgres": pool,
			"redis":    app.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
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

func validate(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	var dealList string
	jsonOut := fs.Bool("json", false, "print reports as JSON")
	fs.StringVar(&dealList, "deal", "", "comma separated deal ids")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}
	ids, err := parseIDs(dealList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		return cli.ExitError
	}

	pool, err := db.New(ctx, cfg.PGDSN, appName+"-cli")
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		return cli.ExitError
	}
	defer pool.Close()

	dealRepo := deals.NewRepository(pool)
	paymentService := payments.NewService(payments.NewRepository(pool), dealRepo, nil, payments.ServiceConfig{
		Policy: cfg.Policy(),
		Logger: logger,
	})
	validator := reconcile.NewService(dealRepo, paymentService,
		reconcile.NewExternalRepository(pool, cfg.ExternalSource), cfg.Policy(), logger)
	return cli.NewValidateCLI(validator).ValidateCommand(ctx, cli.ValidateOptions{DealIDs: ids, JSONOutput: *jsonOut})
}

func triggerJob(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "jobs: job name required (recompute or reconcile)")
		return cli.ExitError
	}
	var ids []int64
	if len(args) > 1 {
		var err error
		if ids, err = parseIDs(strings.Join(args[1:], ",")); err != nil {
			fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
			return cli.ExitError
		}
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer jobsCLI.Close()
	info, err := jobsCLI.Trigger(ctx, args[0], ids...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return cli.ExitError
	}
	fmt.Fprintf(os.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	return cli.ExitClean
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid deal id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func exitCode(logger *slog.Logger, err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	logger.Error("commissiond", slog.Any("error", err))
	return 1
}
