package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/commission-engine/internal/jobs"
	"github.com/odyssey-erp/commission-engine/internal/reconcile"
)

// Scanner validates many deals.
type Scanner interface {
	Scan(ctx context.Context, dealIDs []int64, observe func(reconcile.Report)) (reconcile.ScanResult, error)
}

// ReconcileScanJob handles TaskReconcileScan.
type ReconcileScanJob struct {
	Scanner Scanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileScanJob constructs the scan handler.
func NewReconcileScanJob(scanner Scanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileScanJob {
	return &ReconcileScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle scans the deals in scope and exports issue counts as metrics.
func (j *ReconcileScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("reconcile scan: scanner not configured")
	}
	payload, err := decodeScope(t)
	if err != nil {
		return err
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskReconcileScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	dirty := 0
	res, err := j.Scanner.Scan(ctx, payload.DealIDs, func(rep reconcile.Report) {
		for kind, n := range rep.CountByKind() {
			j.metrics().AddDiscrepancies(string(kind), n)
		}
		if !rep.Clean() {
			dirty++
			logger.Warn("deal has commission discrepancies",
				slog.Int64("deal_id", rep.DealID),
				slog.Int("incorrect_rows", rep.IncorrectRows),
				slog.String("total_difference", reconcile.FormatUSD(rep.TotalDifference)),
				slog.Int("issues", len(rep.Issues)),
			)
		}
	})
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}
	for _, f := range res.Failed {
		j.metrics().ObserveRecord(TaskReconcileScan, errors.New(f.Error))
	}
	for range res.Succeeded {
		j.metrics().ObserveRecord(TaskReconcileScan, nil)
	}
	j.metrics().SetDirtyDeals(dirty)

	logger.Info("reconcile scan finished",
		slog.String("run_id", res.RunID),
		slog.Int("deals", res.Total),
		slog.Int("dirty", dirty),
		slog.Int("failed", len(res.Failed)),
		slog.Duration("duration", time.Since(start)),
	)
	if res.Stopped {
		resultErr = interrupted(ctx)
	}
	return resultErr
}

func (j *ReconcileScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcileScan))
	}
	return slog.Default().With(slog.String("job", TaskReconcileScan))
}

func (j *ReconcileScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
