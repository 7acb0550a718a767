// Package events publishes commission lifecycle notifications so downstream
// systems (invoicing, accounting sync) can react to payment changes.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle event.
type Type string

const (
	PaymentsGenerated     Type = "payments.generated"
	PaymentCreated        Type = "payments.created"
	PaymentAmountsUpdated Type = "payments.amounts_updated"
	PaymentOverridden     Type = "payments.overridden"
	PaymentsArchived      Type = "payments.archived"
	PaymentDeleted        Type = "payments.deleted"
	SplitUpdated          Type = "splits.updated"
	SplitDeleted          Type = "splits.deleted"
	DisbursementChanged   Type = "payments.disbursement_changed"
)

// Event is the message body written to the commission topic.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       Type           `json:"type"`
	DealID     int64          `json:"dealId"`
	PaymentID  int64          `json:"paymentId,omitempty"`
	SplitID    int64          `json:"splitId,omitempty"`
	Resync     bool           `json:"resyncRequired,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// New stamps an event with a fresh id.
func New(t Type, dealID int64, at time.Time) Event {
	return Event{ID: uuid.New(), Type: t, DealID: dealID, OccurredAt: at.UTC()}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evts ...Event) error
}

// Discard drops every event. Used when no broker is configured.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, ...Event) error { return nil }
