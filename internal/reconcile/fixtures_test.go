package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/commission-engine/internal/commission"
	"github.com/odyssey-erp/commission-engine/internal/deals"
	"github.com/odyssey-erp/commission-engine/internal/payments"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

func intPtr(v int) *int { return &v }

// fullTerms has complete pools and a complete two broker roster.
func fullTerms(dealID int64) commission.DealTerms {
	return commission.DealTerms{
		DealID:           dealID,
		Fee:              dec("10000"),
		HouseCutPercent:  "45",
		NumberOfPayments: intPtr(2),
		Categories:       commission.CategoryPercents{Origination: dec("50"), Site: dec("30"), Deal: dec("20")},
		Template: []commission.TemplateRow{
			{BrokerID: 1, OriginationPercent: dec("60"), SitePercent: dec("50"), DealPercent: dec("50")},
			{BrokerID: 2, OriginationPercent: dec("40"), SitePercent: dec("50"), DealPercent: dec("50")},
		},
	}
}

// storedPayment builds a payment as the lifecycle would have persisted it.
func storedPayment(terms commission.DealTerms, id int64, seq int, amount decimal.Decimal, d commission.Derived) payments.Payment {
	p := payments.Payment{
		ID:             id,
		DealID:         terms.DealID,
		SequenceNumber: seq,
		PaymentAmount:  amount,
		ReferralFeeUSD: d.ReferralFeeUSD,
		GCI:            d.GCI,
		AGCI:           d.AGCI,
		IsActive:       true,
	}
	for i, row := range terms.Template {
		line := commission.ComputeSplit(d.AGCI, terms.Categories, row.Percents())
		p.Splits = append(p.Splits, payments.PaymentSplit{
			ID:                 id*10 + int64(i) + 1,
			PaymentID:          id,
			BrokerID:           row.BrokerID,
			OriginationPercent: row.OriginationPercent,
			SitePercent:        row.SitePercent,
			DealPercent:        row.DealPercent,
			OriginationUSD:     line.OriginationUSD,
			SiteUSD:            line.SiteUSD,
			DealUSD:            line.DealUSD,
			BrokerTotal:        line.BrokerTotal,
		})
	}
	return p
}

// generated returns every installment of a deal priced with the current formula.
func generated(terms commission.DealTerms) []payments.Payment {
	policy := commission.DefaultPolicy()
	amount, err := terms.InstallmentAmount()
	if err != nil {
		return nil
	}
	out := make([]payments.Payment, 0, *terms.NumberOfPayments)
	for seq := 1; seq <= *terms.NumberOfPayments; seq++ {
		id := terms.DealID*100 + int64(seq)
		out = append(out, storedPayment(terms, id, seq, amount, policy.Derive(amount, nil, terms)))
	}
	return out
}

type fakeTerms struct {
	deals  map[int64]commission.DealTerms
	roster commission.BrokerSet
}

func newFakeTerms(brokers ...int64) *fakeTerms {
	return &fakeTerms{deals: map[int64]commission.DealTerms{}, roster: commission.NewBrokerSet(brokers...)}
}

func (f *fakeTerms) LoadTerms(_ context.Context, dealID int64) (commission.DealTerms, error) {
	t, ok := f.deals[dealID]
	if !ok {
		return commission.DealTerms{}, deals.ErrDealNotFound
	}
	return t, nil
}

func (f *fakeTerms) ActiveBrokers(context.Context) (commission.BrokerSet, error) {
	return f.roster, nil
}

func (f *fakeTerms) ListDealIDs(_ context.Context, includeLost bool) ([]int64, error) {
	ids := make([]int64, 0, len(f.deals))
	for id, t := range f.deals {
		if t.Lost && !includeLost {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type fakePayments map[int64][]payments.Payment

func (f fakePayments) ListPayments(_ context.Context, dealID int64, includeArchived bool) ([]payments.Payment, error) {
	var out []payments.Payment
	for _, p := range f[dealID] {
		if includeArchived || !p.Archived() {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeExternal map[int64]map[int64]decimal.Decimal

func (f fakeExternal) SplitTotals(_ context.Context, dealID int64) (map[int64]decimal.Decimal, error) {
	return f[dealID], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
