package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions written by the commission engine.
const (
	AuditPaymentsGenerated  = "payments.generate"
	AuditPaymentCreated     = "payments.create"
	AuditAmountsUpdated     = "payments.update_amounts"
	AuditPaymentsArchived   = "payments.archive"
	AuditPaymentDeleted     = "payments.delete"
	AuditAmountOverride     = "payments.amount_override"
	AuditReferralOverride   = "payments.referral_override"
	AuditPaymentReceived    = "payments.received"
	AuditReferralPaid       = "payments.referral_paid"
	AuditSplitPaid          = "splits.paid"
	AuditSplitPercents      = "splits.percents"
	AuditSplitDeleted       = "splits.delete"
	AuditEntityDeal         = "deal"
	AuditEntityPayment      = "payment"
	AuditEntityPaymentSplit = "payment_split"
)

// ErrAuditIncomplete is returned for entries missing action, entity or entity id.
var ErrAuditIncomplete = errors.New("shared: audit log requires action, entity and entity id")

// AuditLog represents a record stored in audit_logs. ActorID zero means the
// change was made by the system (batch jobs, cron).
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate checks required fields.
func (l AuditLog) Validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return ErrAuditIncomplete
	}
	return nil
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("shared: audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var actor *int64
	if log.ActorID != 0 {
		actor = &log.ActorID
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
