// Package payments owns the lifecycle of commission payments and their broker
// splits: generation from deal terms, recomputation when terms change,
// archival, deletion and disbursement tracking.
package payments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/commission-engine/internal/commission"
)

var (
	// ErrPaymentNotFound is returned when a payment id does not exist.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrSplitNotFound is returned when a split id does not exist.
	ErrSplitNotFound = errors.New("payments: split not found")
	// ErrArchived rejects mutations on an archived payment.
	ErrArchived = errors.New("payments: payment is archived")
	// ErrExternalReference guards destructive operations on synced records.
	ErrExternalReference = errors.New("payments: record is referenced by an external system")
	// ErrInvalidAmount rejects negative payment amounts.
	ErrInvalidAmount = errors.New("payments: amount must not be negative")
	// ErrInvalidPercent rejects percentages outside 0..100.
	ErrInvalidPercent = errors.New("payments: percent must be between 0 and 100")
	// ErrDuplicateSequence is raised by the store when (deal, sequence) already exists.
	ErrDuplicateSequence = errors.New("payments: sequence number already exists for deal")
)

// Payment is one installment of a deal's fee.
type Payment struct {
	ID             int64           `json:"id"`
	DealID         int64           `json:"dealId"`
	SequenceNumber int             `json:"sequenceNumber"`
	AmountOverride bool            `json:"amountOverride"`
	PaymentAmount  decimal.Decimal `json:"paymentAmount"`
	// ReferralFeePercentOverride wins over the deal level referral percentage.
	ReferralFeePercentOverride *decimal.Decimal `json:"referralFeePercentOverride,omitempty"`
	ReferralFeeUSD             decimal.Decimal  `json:"referralFeeUsd"`
	GCI                        decimal.Decimal  `json:"gci"`
	AGCI                       decimal.Decimal  `json:"agci"`
	PaymentReceived            bool             `json:"paymentReceived"`
	PaymentReceivedAt          *time.Time       `json:"paymentReceivedAt,omitempty"`
	ReferralPaid               bool             `json:"referralPaid"`
	ReferralPaidAt             *time.Time       `json:"referralPaidAt,omitempty"`
	IsActive                   bool             `json:"isActive"`
	DeletedAt                  *time.Time       `json:"deletedAt,omitempty"`
	InvoiceRef                 *string          `json:"invoiceRef,omitempty"`
	CreatedAt                  time.Time        `json:"createdAt"`
	UpdatedAt                  time.Time        `json:"updatedAt"`
	Splits                     []PaymentSplit   `json:"splits,omitempty"`
}

// Derived returns the derived money fields.
func (p Payment) Derived() commission.Derived {
	return commission.Derived{ReferralFeeUSD: p.ReferralFeeUSD, GCI: p.GCI, AGCI: p.AGCI}
}

func (p *Payment) apply(d commission.Derived) {
	p.ReferralFeeUSD = d.ReferralFeeUSD
	p.GCI = d.GCI
	p.AGCI = d.AGCI
}

// Archived reports whether the payment was archived.
func (p Payment) Archived() bool {
	return !p.IsActive || p.DeletedAt != nil
}

// PaymentSplit is one broker's share of one payment.
type PaymentSplit struct {
	ID                 int64           `json:"id"`
	PaymentID          int64           `json:"paymentId"`
	BrokerID           int64           `json:"brokerId"`
	OriginationPercent decimal.Decimal `json:"originationPercent"`
	SitePercent        decimal.Decimal `json:"sitePercent"`
	DealPercent        decimal.Decimal `json:"dealPercent"`
	OriginationUSD     decimal.Decimal `json:"originationUsd"`
	SiteUSD            decimal.Decimal `json:"siteUsd"`
	DealUSD            decimal.Decimal `json:"dealUsd"`
	BrokerTotal        decimal.Decimal `json:"brokerTotal"`
	Paid               bool            `json:"paid"`
	PaidAt             *time.Time      `json:"paidAt,omitempty"`
	ExternalRef        *string         `json:"externalRef,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Percents returns the split's category percentages.
func (s PaymentSplit) Percents() commission.CategoryPercents {
	return commission.CategoryPercents{Origination: s.OriginationPercent, Site: s.SitePercent, Deal: s.DealPercent}
}

func (s *PaymentSplit) apply(line commission.SplitLine) {
	s.OriginationPercent = line.OriginationPercent
	s.SitePercent = line.SitePercent
	s.DealPercent = line.DealPercent
	s.OriginationUSD = line.OriginationUSD
	s.SiteUSD = line.SiteUSD
	s.DealUSD = line.DealUSD
	s.BrokerTotal = line.BrokerTotal
}

func (s PaymentSplit) sameAmounts(o PaymentSplit) bool {
	return s.OriginationPercent.Equal(o.OriginationPercent) &&
		s.SitePercent.Equal(o.SitePercent) &&
		s.DealPercent.Equal(o.DealPercent) &&
		s.OriginationUSD.Equal(o.OriginationUSD) &&
		s.SiteUSD.Equal(o.SiteUSD) &&
		s.DealUSD.Equal(o.DealUSD) &&
		s.BrokerTotal.Equal(o.BrokerTotal)
}

// GenerateResult reports a Generate call. A second call on the same deal
// reports AlreadyExisted with Created zero.
type GenerateResult struct {
	Created        int     `json:"created"`
	AlreadyExisted bool    `json:"alreadyExisted"`
	SkippedBrokers []int64 `json:"skippedBrokers,omitempty"`
}

// UpdateResult reports an UpdateAmounts call.
type UpdateResult struct {
	Updated int `json:"updated"`
	// ResyncRequired lists payments already invoiced whose amounts changed.
	ResyncRequired []int64 `json:"resyncRequired,omitempty"`
	SplitsSeeded   int     `json:"splitsSeeded,omitempty"`
	SkippedBrokers []int64 `json:"skippedBrokers,omitempty"`
}

// ArchiveResult reports an Archive call.
type ArchiveResult struct {
	Archived int `json:"archived"`
}

// DeleteResult reports a delete. Warnings lists external references that
// were overridden with force.
type DeleteResult struct {
	Deleted  bool     `json:"deleted"`
	Warnings []string `json:"warnings,omitempty"`
}

// ReferenceConflictError lists the external references blocking a delete.
type ReferenceConflictError struct {
	Entity     string
	ID         int64
	References []string
}

func (e *ReferenceConflictError) Error() string {
	return fmt.Sprintf("payments: %s %d is referenced externally (%s); retry with force", e.Entity, e.ID, strings.Join(e.References, ", "))
}

// Unwrap lets callers match ErrExternalReference.
func (e *ReferenceConflictError) Unwrap() error {
	return ErrExternalReference
}

// CreateInput describes a manually added payment. A nil Amount uses the
// deal's installment amount.
type CreateInput struct {
	Amount                     *decimal.Decimal
	ReferralFeePercentOverride *decimal.Decimal
}

func validateAmount(v decimal.Decimal) error {
	if v.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

func validatePercent(v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(100)) {
		return ErrInvalidPercent
	}
	return nil
}

func validatePercents(p commission.CategoryPercents) error {
	for _, cat := range commission.Categories {
		if err := validatePercent(p.Get(cat)); err != nil {
			return fmt.Errorf("%w: %s", err, cat)
		}
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
