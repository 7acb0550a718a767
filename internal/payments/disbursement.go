package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/commission-engine/internal/commission"
	"github.com/odyssey-erp/commission-engine/internal/events"
	"github.com/odyssey-erp/commission-engine/internal/shared"
)

// DisbursementTotals summarises what has been paid out of one payment.
type DisbursementTotals struct {
	PaymentID            int64           `json:"paymentId"`
	PaymentAmount        decimal.Decimal `json:"paymentAmount"`
	ReferralDisbursed    decimal.Decimal `json:"referralDisbursed"`
	BrokerDisbursed      decimal.Decimal `json:"brokerDisbursed"`
	TotalDisbursed       decimal.Decimal `json:"totalDisbursed"`
	RemainingBalance     decimal.Decimal `json:"remainingBalance"`
	CompletionPercentage decimal.Decimal `json:"completionPercentage"`
	IsOverDisbursed      bool            `json:"isOverDisbursed"`
	IsFullyDisbursed     bool            `json:"isFullyDisbursed"`
	Warnings             []string        `json:"warnings,omitempty"`
}

// ComputeTotals derives disbursement totals. The referral fee counts as
// disbursed once the payment is received; broker lines count when paid.
// Over-disbursement is reported, never clamped. A remaining balance under
// tol counts as fully disbursed.
func ComputeTotals(p Payment, splits []PaymentSplit, referralFeeUSD, tol decimal.Decimal) DisbursementTotals {
	out := DisbursementTotals{
		PaymentID:         p.ID,
		PaymentAmount:     p.PaymentAmount,
		ReferralDisbursed: decimal.Zero,
		BrokerDisbursed:   decimal.Zero,
	}
	if p.PaymentReceived && referralFeeUSD.IsPositive() {
		out.ReferralDisbursed = referralFeeUSD
	}
	for _, sp := range splits {
		if sp.Paid {
			out.BrokerDisbursed = out.BrokerDisbursed.Add(sp.BrokerTotal)
		}
	}
	out.TotalDisbursed = out.ReferralDisbursed.Add(out.BrokerDisbursed)
	out.RemainingBalance = p.PaymentAmount.Sub(out.TotalDisbursed)
	out.CompletionPercentage = decimal.Zero
	if p.PaymentAmount.IsPositive() {
		out.CompletionPercentage = commission.Round2(out.TotalDisbursed.Div(p.PaymentAmount).Mul(decimal.NewFromInt(100)))
	}
	out.IsOverDisbursed = out.TotalDisbursed.GreaterThan(p.PaymentAmount)
	out.IsFullyDisbursed = out.RemainingBalance.Abs().LessThan(tol)
	if out.IsOverDisbursed {
		out.Warnings = append(out.Warnings, fmt.Sprintf("over-disbursed by %s", out.TotalDisbursed.Sub(p.PaymentAmount).StringFixed(2)))
	}
	return out
}

// MarkReferralPaid records whether the payment's referral fee was paid out.
// It never re-derives amounts.
func (s *Service) MarkReferralPaid(ctx context.Context, paymentID int64, paid bool) error {
	return s.markPayment(ctx, paymentID, shared.AuditReferralPaid, paid, func(ctx context.Context, tx TxRepository, at *time.Time) error {
		return tx.SetReferralPaid(ctx, paymentID, paid, at)
	})
}

// MarkPaymentReceived records whether the installment was received.
func (s *Service) MarkPaymentReceived(ctx context.Context, paymentID int64, received bool) error {
	return s.markPayment(ctx, paymentID, shared.AuditPaymentReceived, received, func(ctx context.Context, tx TxRepository, at *time.Time) error {
		return tx.SetPaymentReceived(ctx, paymentID, received, at)
	})
}

// MarkSplitPaid records whether a broker split line was paid out.
func (s *Service) MarkSplitPaid(ctx context.Context, splitID int64, paid bool) error {
	now := s.now()
	var (
		split PaymentSplit
		p     Payment
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		split, err = tx.GetSplitForUpdate(ctx, splitID)
		if err != nil {
			return err
		}
		p, err = tx.GetPaymentForUpdate(ctx, split.PaymentID)
		if err != nil {
			return err
		}
		if p.Archived() {
			return ErrArchived
		}
		return tx.SetSplitPaid(ctx, splitID, paid, paidAt(paid, now))
	})
	if err != nil {
		return err
	}
	evt := events.New(events.DisbursementChanged, p.DealID, now)
	evt.PaymentID = p.ID
	evt.SplitID = split.ID
	evt.Data = map[string]any{"paid": paid}
	s.after(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   shared.AuditSplitPaid,
		Entity:   shared.AuditEntityPaymentSplit,
		EntityID: strconv.FormatInt(split.ID, 10),
		Meta:     map[string]any{"paid": paid, "payment_id": p.ID, "broker_total": split.BrokerTotal.StringFixed(2)},
		At:       now,
	}, evt)
	return nil
}

// Disbursement loads a payment and computes its totals.
func (s *Service) Disbursement(ctx context.Context, paymentID int64) (DisbursementTotals, error) {
	p, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return DisbursementTotals{}, err
	}
	totals := ComputeTotals(p, p.Splits, p.ReferralFeeUSD, s.policy.Tol())
	if totals.IsOverDisbursed {
		s.logger.Warn("payment over-disbursed",
			slog.Int64("payment_id", p.ID),
			slog.String("payment_amount", p.PaymentAmount.StringFixed(2)),
			slog.String("total_disbursed", totals.TotalDisbursed.StringFixed(2)))
	}
	return totals, nil
}

func (s *Service) markPayment(ctx context.Context, paymentID int64, action string, flag bool, write func(context.Context, TxRepository, *time.Time) error) error {
	now := s.now()
	var p Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		p, err = tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Archived() {
			return ErrArchived
		}
		return write(ctx, tx, paidAt(flag, now))
	})
	if err != nil {
		return err
	}
	evt := events.New(events.DisbursementChanged, p.DealID, now)
	evt.PaymentID = p.ID
	evt.Data = map[string]any{"action": action, "value": flag}
	s.after(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   shared.AuditEntityPayment,
		EntityID: strconv.FormatInt(p.ID, 10),
		Meta:     map[string]any{"value": flag},
		At:       now,
	}, evt)
	return nil
}

func paidAt(paid bool, now time.Time) *time.Time {
	if !paid {
		return nil
	}
	at := now
	return &at
}
