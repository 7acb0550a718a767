package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/commission-engine/internal/commission"
	"github.com/odyssey-erp/commission-engine/internal/events"
)

func TestComputeTotals(t *testing.T) {
	base := Payment{ID: 1, PaymentAmount: dec("5000"), ReferralFeeUSD: dec("500")}
	splits := []PaymentSplit{
		{ID: 1, BrokerTotal: dec("2000"), Paid: true},
		{ID: 2, BrokerTotal: dec("1500"), Paid: false},
		{ID: 3, BrokerTotal: dec("475"), Paid: true},
	}

	t.Run("referral waits for receipt", func(t *testing.T) {
		got := ComputeTotals(base, splits, base.ReferralFeeUSD, commission.Cent)
		requireDec(t, "0", got.ReferralDisbursed)
		requireDec(t, "2475", got.BrokerDisbursed)
		requireDec(t, "2475", got.TotalDisbursed)
		requireDec(t, "2525", got.RemainingBalance)
		requireDec(t, "49.5", got.CompletionPercentage)
		require.False(t, got.IsOverDisbursed)
		require.False(t, got.IsFullyDisbursed)
		require.Empty(t, got.Warnings)
	})

	t.Run("received payment disburses referral", func(t *testing.T) {
		p := base
		p.PaymentReceived = true
		all := append([]PaymentSplit(nil), splits...)
		all[1].Paid = true
		all[2].BrokerTotal = dec("999.995")
		got := ComputeTotals(p, all, p.ReferralFeeUSD, commission.Cent)
		requireDec(t, "500", got.ReferralDisbursed)
		requireDec(t, "4499.995", got.BrokerDisbursed)
		requireDec(t, "0.005", got.RemainingBalance)
		require.True(t, got.IsFullyDisbursed)
		require.False(t, got.IsOverDisbursed)
		requireDec(t, "100", got.CompletionPercentage)
	})

	t.Run("over disbursement is reported not clamped", func(t *testing.T) {
		p := base
		p.PaymentReceived = true
		over := []PaymentSplit{{BrokerTotal: dec("4600"), Paid: true}}
		got := ComputeTotals(p, over, p.ReferralFeeUSD, commission.Cent)
		requireDec(t, "5100", got.TotalDisbursed)
		requireDec(t, "-100", got.RemainingBalance)
		require.True(t, got.IsOverDisbursed)
		require.False(t, got.IsFullyDisbursed)
		requireDec(t, "102", got.CompletionPercentage)
		require.Equal(t, []string{"over-disbursed by 100.00"}, got.Warnings)
	})

	t.Run("zero amount payment", func(t *testing.T) {
		got := ComputeTotals(Payment{PaymentAmount: dec("0"), PaymentReceived: true}, nil, dec("0"), commission.Cent)
		requireDec(t, "0", got.CompletionPercentage)
		require.True(t, got.IsFullyDisbursed)
		require.False(t, got.IsOverDisbursed)
	})

	t.Run("fully disbursed within configured tolerance", func(t *testing.T) {
		p := base
		p.PaymentReceived = true
		paid := []PaymentSplit{{BrokerTotal: dec("4499.95"), Paid: true}}
		require.False(t, ComputeTotals(p, paid, p.ReferralFeeUSD, commission.Cent).IsFullyDisbursed)
		require.True(t, ComputeTotals(p, paid, p.ReferralFeeUSD, dec("0.10")).IsFullyDisbursed)
	})
}

func TestMarkReferralPaidNeverRederives(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Generate(ctx, 1)
	require.NoError(t, err)
	list, _ := f.svc.ListPayments(ctx, 1, false)
	id := list[0].ID
	before := f.repo.payment(id)

	require.NoError(t, f.svc.MarkReferralPaid(ctx, id, true))
	got := f.repo.payment(id)
	require.True(t, got.ReferralPaid)
	require.NotNil(t, got.ReferralPaidAt)
	require.Equal(t, testNow, *got.ReferralPaidAt)
	require.Equal(t, before.UpdatedAt, got.UpdatedAt)
	requireDec(t, before.AGCI.String(), got.AGCI)
	evt := f.pub.last()
	require.Equal(t, events.DisbursementChanged, evt.Type)
	require.Equal(t, id, evt.PaymentID)

	require.NoError(t, f.svc.MarkReferralPaid(ctx, id, false))
	got = f.repo.payment(id)
	require.False(t, got.ReferralPaid)
	require.Nil(t, got.ReferralPaidAt)

	require.ErrorIs(t, f.svc.MarkReferralPaid(ctx, 999, true), ErrPaymentNotFound)
}

func TestDisbursementFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Generate(ctx, 1)
	require.NoError(t, err)
	list, _ := f.svc.ListPayments(ctx, 1, false)
	p := list[0]

	require.NoError(t, f.svc.MarkPaymentReceived(ctx, p.ID, true))
	require.NoError(t, f.svc.MarkSplitPaid(ctx, p.Splits[0].ID, true))
	require.NotNil(t, f.repo.split(p.Splits[0].ID).PaidAt)

	totals, err := f.svc.Disbursement(ctx, p.ID)
	require.NoError(t, err)
	requireDec(t, "0", totals.ReferralDisbursed)
	requireDec(t, "113.44", totals.BrokerDisbursed)
	requireDec(t, "4886.56", totals.RemainingBalance)
	requireDec(t, "2.27", totals.CompletionPercentage)

	require.NoError(t, f.svc.MarkSplitPaid(ctx, p.Splits[0].ID, false))
	require.Nil(t, f.repo.split(p.Splits[0].ID).PaidAt)
	require.ErrorIs(t, f.svc.MarkSplitPaid(ctx, 12345, true), ErrSplitNotFound)
}

func TestDisbursementUsesPolicyTolerance(t *testing.T) {
	f := newFixture()
	policy := commission.DefaultPolicy()
	policy.Tolerance = dec("4900")
	f.svc = NewService(f.repo, f.terms, f.audit, ServiceConfig{Policy: policy, Publisher: f.pub})
	ctx := context.Background()
	_, err := f.svc.Generate(ctx, 1)
	require.NoError(t, err)
	list, _ := f.svc.ListPayments(ctx, 1, false)
	p := list[0]

	totals, err := f.svc.Disbursement(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, totals.IsFullyDisbursed)

	require.NoError(t, f.svc.MarkSplitPaid(ctx, p.Splits[0].ID, true))
	totals, err = f.svc.Disbursement(ctx, p.ID)
	require.NoError(t, err)
	requireDec(t, "4886.56", totals.RemainingBalance)
	require.True(t, totals.IsFullyDisbursed)
}
