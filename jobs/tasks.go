package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPaymentsRecompute re-derives payment amounts for a set of deals.
	TaskPaymentsRecompute = "payments:recompute"
	// TaskReconcileScan validates stored commission data for a set of deals.
	TaskReconcileScan = "reconcile:scan"
)

// errEmptyScope rejects payloads that name neither deals nor "all".
var errEmptyScope = errors.New("jobs: payload must list deal ids or set all")

// DealScopePayload selects the deals a batch task runs over.
type DealScopePayload struct {
	DealIDs []int64 `json:"deal_ids,omitempty"`
	All     bool    `json:"all,omitempty"`
}

// Validate checks the payload names a usable scope.
func (p DealScopePayload) Validate() error {
	if p.All {
		if len(p.DealIDs) > 0 {
			return errors.New("jobs: all and deal_ids are exclusive")
		}
		return nil
	}
	if len(p.DealIDs) == 0 {
		return errEmptyScope
	}
	for _, id := range p.DealIDs {
		if id <= 0 {
			return fmt.Errorf("jobs: invalid deal id %d", id)
		}
	}
	return nil
}

// NewPaymentsRecomputeTask builds a recompute task. No ids means every deal.
func NewPaymentsRecomputeTask(dealIDs ...int64) (*asynq.Task, error) {
	return newScopeTask(TaskPaymentsRecompute, dealIDs)
}

// NewReconcileScanTask builds a reconciliation scan task. No ids means every deal.
func NewReconcileScanTask(dealIDs ...int64) (*asynq.Task, error) {
	return newScopeTask(TaskReconcileScan, dealIDs)
}

func newScopeTask(typ string, dealIDs []int64) (*asynq.Task, error) {
	payload := DealScopePayload{DealIDs: dealIDs, All: len(dealIDs) == 0}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}

func decodeScope(t *asynq.Task) (DealScopePayload, error) {
	var payload DealScopePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err := payload.Validate(); err != nil {
		return payload, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return payload, nil
}
