package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/commission-engine/internal/batch"
	jobmetrics "github.com/odyssey-erp/commission-engine/internal/jobs"
	"github.com/odyssey-erp/commission-engine/internal/reconcile"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubDeals struct{ ids []int64 }

func (s stubDeals) ListDealIDs(context.Context, bool) ([]int64, error) { return s.ids, nil }

type stubRecomputer struct {
	got     []int64
	failIDs map[int64]bool
	stopped bool
}

func (s *stubRecomputer) RecomputeDeals(_ context.Context, ids []int64, observe func(int64, error)) batch.Result {
	s.got = ids
	res := batch.Result{RunID: "run", Total: len(ids), Stopped: s.stopped}
	for _, id := range ids {
		var err error
		if s.failIDs[id] {
			err = errors.New("bad deal")
			res.Failed = append(res.Failed, batch.Failure{ID: id, Error: err.Error()})
		} else {
			res.Succeeded = append(res.Succeeded, id)
		}
		observe(id, err)
	}
	return res
}

func TestScopeTasks(t *testing.T) {
	task, err := NewPaymentsRecomputeTask(3, 4)
	require.NoError(t, err)
	require.Equal(t, TaskPaymentsRecompute, task.Type())
	require.JSONEq(t, `{"deal_ids":[3,4]}`, string(task.Payload()))

	task, err = NewReconcileScanTask()
	require.NoError(t, err)
	require.Equal(t, TaskReconcileScan, task.Type())
	require.JSONEq(t, `{"all":true}`, string(task.Payload()))

	_, err = NewPaymentsRecomputeTask(0)
	require.Error(t, err)
}

func TestDealScopeValidate(t *testing.T) {
	require.NoError(t, DealScopePayload{All: true}.Validate())
	require.NoError(t, DealScopePayload{DealIDs: []int64{1}}.Validate())
	require.ErrorIs(t, DealScopePayload{}.Validate(), errEmptyScope)
	require.Error(t, DealScopePayload{All: true, DealIDs: []int64{1}}.Validate())
	require.Error(t, DealScopePayload{DealIDs: []int64{-2}}.Validate())
}

func TestRecomputeJobAllDeals(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := &stubRecomputer{failIDs: map[int64]bool{2: true}}
	job := NewRecomputeJob(rec, stubDeals{ids: []int64{1, 2, 3}}, discard(), jobmetrics.NewMetrics(reg))

	task, err := NewPaymentsRecomputeTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{1, 2, 3}, rec.got)

	expected := `
# HELP commission_job_records_total Deals processed by batch jobs partitioned by outcome.
# TYPE commission_job_records_total counter
commission_job_records_total{job="payments:recompute",outcome="failed"} 1
commission_job_records_total{job="payments:recompute",outcome="ok"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "commission_job_records_total"))
}

func TestRecomputeJobExplicitDeals(t *testing.T) {
	rec := &stubRecomputer{}
	job := NewRecomputeJob(rec, stubDeals{ids: []int64{9}}, discard(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewPaymentsRecomputeTask(5)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{5}, rec.got)
}

func TestRecomputeJobStoppedIsRetried(t *testing.T) {
	rec := &stubRecomputer{stopped: true}
	job := NewRecomputeJob(rec, stubDeals{}, discard(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task, err := NewPaymentsRecomputeTask(5)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(ctx, task), context.Canceled)
}

func TestJobsSkipRetryOnBadPayload(t *testing.T) {
	rec := &stubRecomputer{}
	job := NewRecomputeJob(rec, stubDeals{}, discard(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), asynq.NewTask(TaskPaymentsRecompute, []byte(`{`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = job.Handle(context.Background(), asynq.NewTask(TaskPaymentsRecompute, []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Nil(t, rec.got)

	scan := NewReconcileScanJob(&stubScanner{}, discard(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.ErrorIs(t, scan.Handle(context.Background(), asynq.NewTask(TaskReconcileScan, []byte(`nope`))), asynq.SkipRetry)
}

type stubScanner struct {
	got     []int64
	reports []reconcile.Report
	failed  []batch.Failure
}

func (s *stubScanner) Scan(_ context.Context, ids []int64, observe func(reconcile.Report)) (reconcile.ScanResult, error) {
	s.got = ids
	res := reconcile.ScanResult{Result: batch.Result{RunID: "run", Total: len(s.reports) + len(s.failed), Failed: s.failed}}
	for _, rep := range s.reports {
		res.Succeeded = append(res.Succeeded, rep.DealID)
		res.Reports = append(res.Reports, rep)
		observe(rep)
	}
	return res, nil
}

func TestReconcileScanJobExportsIssues(t *testing.T) {
	reg := prometheus.NewRegistry()
	mismatch := reconcile.Issue{Kind: reconcile.IssueSplitMismatch, Difference: decimal.RequireFromString("0.5")}
	roster := reconcile.Issue{Kind: reconcile.IssueRosterIncomplete}
	scanner := &stubScanner{
		reports: []reconcile.Report{
			{DealID: 1, Issues: []reconcile.Issue{mismatch, mismatch}},
			{DealID: 2, Issues: []reconcile.Issue{roster}},
			{DealID: 3},
		},
		failed: []batch.Failure{{ID: 17, Error: "deal 17: number of payments must be positive"}},
	}
	job := NewReconcileScanJob(scanner, discard(), jobmetrics.NewMetrics(reg))

	task, err := NewReconcileScanTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Nil(t, scanner.got)

	expected := `
# HELP commission_reconcile_issues_total Reconciliation issues found by scans, by kind.
# TYPE commission_reconcile_issues_total counter
commission_reconcile_issues_total{kind="ROSTER_INCOMPLETE"} 1
commission_reconcile_issues_total{kind="SPLIT_MISMATCH"} 2
# HELP commission_reconcile_dirty_deals Deals with error severity issues in the most recent scan.
# TYPE commission_reconcile_dirty_deals gauge
commission_reconcile_dirty_deals 1
# HELP commission_job_records_total Deals processed by batch jobs partitioned by outcome.
# TYPE commission_job_records_total counter
commission_job_records_total{job="reconcile:scan",outcome="failed"} 1
commission_job_records_total{job="reconcile:scan",outcome="ok"} 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"commission_reconcile_issues_total", "commission_reconcile_dirty_deals", "commission_job_records_total"))
}

type captureEnqueuer struct {
	tasks []*asynq.Task
}

func (c *captureEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: QueueDefault}, nil
}

func (c *captureEnqueuer) Close() error { return nil }

func TestClientEnqueue(t *testing.T) {
	capture := &captureEnqueuer{}
	client := &Client{client: capture}

	info, err := client.EnqueueRecompute(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, TaskPaymentsRecompute, info.Type)

	_, err = client.EnqueueReconcileScan(context.Background())
	require.NoError(t, err)

	require.Len(t, capture.tasks, 2)
	var payload DealScopePayload
	require.NoError(t, json.Unmarshal(capture.tasks[1].Payload(), &payload))
	require.True(t, payload.All)
	require.NoError(t, client.Close())
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestJobsHealthHandler(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Failed: 1}}, discard()).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":4,"active":0,"retry":0,"failed":1}`, rec.Body.String())

	r = chi.NewRouter()
	NewHandler(stubInspector{err: errors.New("redis down")}, discard()).MountRoutes(r)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
