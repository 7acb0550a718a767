// Package batch runs one operation over many deals sequentially. A failure on
// one record is captured and the run continues; cancellation stops the run
// between records without rolling back completed work.
package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Func processes one record.
type Func func(ctx context.Context, id int64) error

// Failure is one record that could not be processed.
type Failure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
	err   error
}

// Err returns the original error.
func (f Failure) Err() error { return f.err }

// Result summarises a run.
type Result struct {
	RunID     string        `json:"runId"`
	Total     int           `json:"total"`
	Succeeded []int64       `json:"succeeded"`
	Failed    []Failure     `json:"failed"`
	Stopped   bool          `json:"stopped"`
	Duration  time.Duration `json:"duration"`
}

// Processed counts records that ran, successfully or not.
func (r Result) Processed() int {
	return len(r.Succeeded) + len(r.Failed)
}

// Runner executes Funcs over id lists.
type Runner struct {
	Name   string
	Logger *slog.Logger
	// OnRecord, when set, observes each record outcome.
	OnRecord func(id int64, err error)
	now      func() time.Time
}

// NewRunner constructs a Runner.
func NewRunner(name string, logger *slog.Logger) *Runner {
	return &Runner{Name: name, Logger: logger, now: time.Now}
}

// Run applies fn to each id in order. The stop signal is ctx: it is checked
// before every record, and the record in flight is allowed to finish.
func (r *Runner) Run(ctx context.Context, ids []int64, fn Func) Result {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	started := now()
	res := Result{RunID: uuid.NewString(), Total: len(ids), Succeeded: []int64{}, Failed: []Failure{}}
	logger := r.log().With(slog.String("batch", r.Name), slog.String("run_id", res.RunID))

	for _, id := range ids {
		if ctx.Err() != nil {
			res.Stopped = true
			logger.Info("batch stopped", slog.Int("processed", res.Processed()), slog.Int("remaining", len(ids)-res.Processed()))
			break
		}
		err := r.runOne(context.WithoutCancel(ctx), id, fn)
		if err != nil {
			logger.Warn("batch record failed", slog.Int64("id", id), slog.Any("error", err))
			res.Failed = append(res.Failed, Failure{ID: id, Error: err.Error(), err: err})
		} else {
			res.Succeeded = append(res.Succeeded, id)
		}
		if r.OnRecord != nil {
			r.OnRecord(id, err)
		}
	}
	res.Duration = now().Sub(started)
	logger.Info("batch finished",
		slog.Int("total", res.Total),
		slog.Int("succeeded", len(res.Succeeded)),
		slog.Int("failed", len(res.Failed)),
		slog.Bool("stopped", res.Stopped),
		slog.Duration("duration", res.Duration),
	)
	return res
}

// runOne isolates a panic in one record as that record's failure.
func (r *Runner) runOne(ctx context.Context, id int64, fn Func) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{ID: id, Value: rec}
		}
	}()
	return fn(ctx, id)
}

func (r *Runner) log() *slog.Logger {
	if r == nil || r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
