package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/commission-engine/internal/batch"
	jobmetrics "github.com/odyssey-erp/commission-engine/internal/jobs"
)

// DealLister resolves the "all deals" scope.
type DealLister interface {
	ListDealIDs(ctx context.Context, includeLost bool) ([]int64, error)
}

// Recomputer runs UpdateAmounts over many deals.
type Recomputer interface {
	RecomputeDeals(ctx context.Context, dealIDs []int64, observe func(id int64, err error)) batch.Result
}

// RecomputeJob handles TaskPaymentsRecompute.
type RecomputeJob struct {
	Payments Recomputer
	Deals    DealLister
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewRecomputeJob constructs the recompute handler.
func NewRecomputeJob(payments Recomputer, deals DealLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecomputeJob {
	return &RecomputeJob{Payments: payments, Deals: deals, Logger: logger, Metrics: metrics}
}

// Handle recomputes every deal in scope. Individual deal failures are logged
// and counted; the task only fails when it could not run or was interrupted.
func (j *RecomputeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Payments == nil || j.Deals == nil {
		return errors.New("payments recompute: dependencies not configured")
	}
	payload, err := decodeScope(t)
	if err != nil {
		return err
	}

	tracker := j.metrics().Track(TaskPaymentsRecompute)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	ids, err := resolveScope(ctx, j.Deals, payload)
	if err != nil {
		resultErr = err
		j.logger().Error("resolve deals", slog.Any("error", err))
		return resultErr
	}
	res := j.Payments.RecomputeDeals(ctx, ids, func(_ int64, err error) {
		j.metrics().ObserveRecord(TaskPaymentsRecompute, err)
	})
	j.logger().Info("payments recompute finished",
		slog.String("run_id", res.RunID),
		slog.Int("deals", res.Total),
		slog.Int("succeeded", len(res.Succeeded)),
		slog.Int("failed", len(res.Failed)),
		slog.Duration("duration", res.Duration),
	)
	if res.Stopped {
		resultErr = interrupted(ctx)
	}
	return resultErr
}

func (j *RecomputeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPaymentsRecompute))
	}
	return slog.Default().With(slog.String("job", TaskPaymentsRecompute))
}

func (j *RecomputeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

func resolveScope(ctx context.Context, deals DealLister, payload DealScopePayload) ([]int64, error) {
	if !payload.All {
		return payload.DealIDs, nil
	}
	return deals.ListDealIDs(ctx, false)
}

// interrupted reports a stopped batch so asynq retries the remaining work.
func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.Canceled
}
