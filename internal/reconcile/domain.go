// Package reconcile recomputes expected commission values from deal terms
// and diffs them against stored payments, splits and an external system of
// record. It never writes.
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/commission-engine/internal/batch"
	"github.com/odyssey-erp/commission-engine/internal/commission"
)

// IssueKind classifies a discrepancy.
type IssueKind string

const (
	IssueSplitMismatch    IssueKind = "SPLIT_MISMATCH"
	IssuePaymentDrift     IssueKind = "PAYMENT_DRIFT"
	IssueRoundingMismatch IssueKind = "ROUNDING_MISMATCH"
	IssueRosterIncomplete IssueKind = "ROSTER_INCOMPLETE"
	IssueOverDisbursed    IssueKind = "OVER_DISBURSED"
	IssueExternalMismatch IssueKind = "EXTERNAL_MISMATCH"
	IssueUnknownBroker    IssueKind = "UNKNOWN_BROKER"
)

// Issue is one actionable discrepancy: where, expected vs actual, and the
// dollar difference.
type Issue struct {
	Kind       IssueKind       `json:"kind"`
	DealID     int64           `json:"dealId"`
	PaymentID  int64           `json:"paymentId,omitempty"`
	SplitID    int64           `json:"splitId,omitempty"`
	BrokerID   int64           `json:"brokerId,omitempty"`
	Field      string          `json:"field,omitempty"`
	Expected   decimal.Decimal `json:"expected"`
	Actual     decimal.Decimal `json:"actual"`
	Difference decimal.Decimal `json:"difference"`
	Message    string          `json:"message"`
}

// Amounts groups the dollar fields of one split.
type Amounts struct {
	Origination decimal.Decimal `json:"origination"`
	Site        decimal.Decimal `json:"site"`
	Deal        decimal.Decimal `json:"deal"`
	Total       decimal.Decimal `json:"total"`
}

// SplitRow compares one stored split with its recomputed value.
type SplitRow struct {
	PaymentID  int64           `json:"paymentId"`
	SplitID    int64           `json:"splitId"`
	BrokerID   int64           `json:"brokerId"`
	Expected   Amounts         `json:"expected"`
	Stored     Amounts         `json:"stored"`
	Difference decimal.Decimal `json:"difference"`
	Correct    bool            `json:"correct"`
	// LegacyFormula is set when the stored values match the ratio based
	// house cut formula instead of the current one.
	LegacyFormula bool             `json:"legacyFormula,omitempty"`
	External      *decimal.Decimal `json:"external,omitempty"`
}

// PaymentCheck compares a payment's stored derived fields with recomputed ones.
type PaymentCheck struct {
	PaymentID      int64              `json:"paymentId"`
	SequenceNumber int                `json:"sequenceNumber"`
	AmountOverride bool               `json:"amountOverride"`
	ExpectedAmount decimal.Decimal    `json:"expectedAmount"`
	StoredAmount   decimal.Decimal    `json:"storedAmount"`
	Expected       commission.Derived `json:"expected"`
	Stored         commission.Derived `json:"stored"`
	Correct        bool               `json:"correct"`
}

// ExternalTally counts split comparisons against the external system.
type ExternalTally struct {
	Matched    int `json:"matched"`
	Mismatched int `json:"mismatched"`
	Missing    int `json:"missing"`
}

// Report is the ValidationReport for one deal.
type Report struct {
	DealID          int64           `json:"dealId"`
	GeneratedAt     time.Time       `json:"generatedAt"`
	Payments        []PaymentCheck  `json:"payments"`
	Rows            []SplitRow      `json:"rows"`
	CorrectRows     int             `json:"correctRows"`
	IncorrectRows   int             `json:"incorrectRows"`
	TotalDifference decimal.Decimal `json:"totalDifference"`
	External        *ExternalTally  `json:"external,omitempty"`
	Issues          []Issue         `json:"issues"`
}

// Clean reports whether the deal has no error severity issues.
func (r Report) Clean() bool {
	for _, issue := range r.Issues {
		if issue.Kind.Severity() == SeverityError {
			return false
		}
	}
	return true
}

// CountByKind tallies issues per kind.
func (r Report) CountByKind() map[IssueKind]int {
	out := make(map[IssueKind]int)
	for _, issue := range r.Issues {
		out[issue.Kind]++
	}
	return out
}

// ScanResult is the outcome of a multi-deal scan. Failed deals appear in
// Result.Failed and have no report.
type ScanResult struct {
	batch.Result
	Reports []Report `json:"reports"`
}
