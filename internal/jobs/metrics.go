package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	records       *prometheus.CounterVec
	discrepancies *prometheus.CounterVec
	dirtyDeals    prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveRecord counts one deal processed by a batch job.
func (m *Metrics) ObserveRecord(job string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.records.WithLabelValues(job, outcome).Inc()
}

// AddDiscrepancies increments the reconciliation issue counter for a kind.
func (m *Metrics) AddDiscrepancies(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.discrepancies.WithLabelValues(kind).Add(float64(count))
}

// SetDirtyDeals records how many deals the last scan found with errors.
func (m *Metrics) SetDirtyDeals(n int) {
	if m == nil {
		return
	}
	m.dirtyDeals.Set(float64(n))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commission_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_job_records_total",
		Help: "Deals processed by batch jobs partitioned by outcome.",
	}, []string{"job", "outcome"})
	discrepancies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_reconcile_issues_total",
		Help: "Reconciliation issues found by scans, by kind.",
	}, []string{"kind"})
	dirty := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "commission_reconcile_dirty_deals",
		Help: "Deals with error severity issues in the most recent scan.",
	})
	registerer.MustRegister(runs, failures, duration, records, discrepancies, dirty)
	return &Metrics{
		runs:          runs,
		failures:      failures,
		duration:      duration,
		records:       records,
		discrepancies: discrepancies,
		dirtyDeals:    dirty,
	}
}
