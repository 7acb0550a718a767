package payments

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository exposes persistence for payments and splits.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListPayments(ctx context.Context, dealID int64, includeArchived bool) ([]Payment, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
	ListSplits(ctx context.Context, paymentIDs ...int64) ([]PaymentSplit, error)
}

// TxRepository performs writes inside one transaction.
type TxRepository interface {
	// CountPayments counts every payment on the deal, archived included.
	CountPayments(ctx context.Context, dealID int64) (int, error)
	NextSequence(ctx context.Context, dealID int64) (int, error)
	ListActivePayments(ctx context.Context, dealID int64) ([]Payment, error)
	GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	UpdatePaymentAmounts(ctx context.Context, p Payment) error
	SetPaymentReceived(ctx context.Context, id int64, received bool, at *time.Time) error
	SetReferralPaid(ctx context.Context, id int64, paid bool, at *time.Time) error
	ArchivePayments(ctx context.Context, dealID int64, at time.Time) (int, error)
	DeletePayment(ctx context.Context, id int64) error

	ListSplits(ctx context.Context, paymentID int64) ([]PaymentSplit, error)
	GetSplitForUpdate(ctx context.Context, id int64) (PaymentSplit, error)
	InsertSplit(ctx context.Context, s PaymentSplit) (PaymentSplit, error)
	UpdateSplitAmounts(ctx context.Context, s PaymentSplit) error
	SetSplitPaid(ctx context.Context, id int64, paid bool, at *time.Time) error
	DeleteSplit(ctx context.Context, id int64) error
}

// amountFields lists the persisted money values of a payment for change detection.
func amountFields(p Payment) []decimal.Decimal {
	return []decimal.Decimal{p.PaymentAmount, p.ReferralFeeUSD, p.GCI, p.AGCI}
}

func amountsChanged(before, after Payment) bool {
	a, b := amountFields(before), amountFields(after)
	for i := range a {
		if !a[i].Equal(b[i]) {
			return true
		}
	}
	return false
}

func overridesChanged(before, after Payment) bool {
	if before.AmountOverride != after.AmountOverride {
		return true
	}
	a, b := before.ReferralFeePercentOverride, after.ReferralFeePercentOverride
	if a == nil || b == nil {
		return a != b
	}
	return !a.Equal(*b)
}
