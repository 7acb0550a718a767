package reconcile

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/commission-engine/internal/commission"
	"github.com/odyssey-erp/commission-engine/internal/payments"
)

// Severity separates discrepancies from advisory findings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Severity of an issue kind. Partial rosters and roster drift are advisory;
// every money mismatch is an error.
func (k IssueKind) Severity() Severity {
	switch k {
	case IssueRosterIncomplete, IssueUnknownBroker:
		return SeverityWarning
	}
	return SeverityError
}

var hundred = decimal.NewFromInt(100)

// Input is everything BuildReport needs for one deal.
type Input struct {
	Terms commission.DealTerms
	// Payments are the deal's payments with splits loaded. Archived
	// payments are ignored.
	Payments []payments.Payment
	Roster   commission.BrokerSet
	// External maps split id to the broker total recorded externally. Nil
	// means no external source is available for the deal.
	External map[int64]decimal.Decimal
}

// BuildReport recomputes the full cascade for one deal from its terms and
// compares it with stored values. It fails only when the deal cannot be
// priced at all.
func BuildReport(in Input, policy commission.Policy, now time.Time) (Report, error) {
	installment, err := in.Terms.InstallmentAmount()
	if err != nil {
		return Report{}, err
	}
	b := &builder{
		tol: policy.Tol(),
		rep: Report{
			DealID:          in.Terms.DealID,
			GeneratedAt:     now.UTC(),
			Payments:        []PaymentCheck{},
			Rows:            []SplitRow{},
			Issues:          []Issue{},
			TotalDifference: decimal.Zero,
		},
	}
	if in.External != nil {
		b.rep.External = &ExternalTally{}
	}

	template := commission.RosterCoverage(in.Terms.Template)
	b.checkRoster(0, in.Terms.Categories, template, nil)
	poolsFull := commission.Within(in.Terms.Categories.Sum(), hundred, b.tol)

	for _, p := range in.Payments {
		if p.Archived() {
			continue
		}
		amount := installment
		if p.AmountOverride {
			amount = p.PaymentAmount
		}
		expected := policy.Derive(amount, p.ReferralFeePercentOverride, in.Terms)
		legacy := policy.DeriveLegacy(amount, p.ReferralFeePercentOverride, in.Terms)
		b.checkPayment(p, amount, expected)

		shares := make([]commission.CategoryPercents, 0, len(p.Splits))
		sumRaw := decimal.Zero
		for _, sp := range p.Splits {
			line := commission.ComputeSplit(expected.AGCI, in.Terms.Categories, sp.Percents())
			b.checkSplit(p, sp, line, in.Terms, legacy)
			if !in.Roster.Has(sp.BrokerID) {
				b.issue(Issue{
					Kind:      IssueUnknownBroker,
					PaymentID: p.ID,
					SplitID:   sp.ID,
					BrokerID:  sp.BrokerID,
					Actual:    sp.BrokerTotal,
					Message:   fmt.Sprintf("broker %d is not in the active roster", sp.BrokerID),
				})
			}
			if in.External != nil {
				b.checkExternal(p, sp, in.External)
			}
			shares = append(shares, sp.Percents())
			sumRaw = sumRaw.Add(commission.ComputeSplit(p.AGCI, in.Terms.Categories, sp.Percents()).RawTotal)
		}
		if len(p.Splits) > 0 {
			// Split percentages are editable per payment, so coverage is
			// measured on the stored rows rather than the template.
			full := b.checkRoster(p.ID, in.Terms.Categories, commission.Coverage(shares...), &template)
			if full && poolsFull {
				b.checkConservation(p, sumRaw)
			}
		}

		totals := payments.ComputeTotals(p, p.Splits, p.ReferralFeeUSD, b.tol)
		if totals.IsOverDisbursed {
			b.issue(Issue{
				Kind:       IssueOverDisbursed,
				PaymentID:  p.ID,
				Field:      "totalDisbursed",
				Expected:   p.PaymentAmount,
				Actual:     totals.TotalDisbursed,
				Difference: p.PaymentAmount.Sub(totals.TotalDisbursed),
				Message:    fmt.Sprintf("payment %d disbursed %s of %s", p.SequenceNumber, FormatUSD(totals.TotalDisbursed), FormatUSD(p.PaymentAmount)),
			})
		}
	}
	return b.rep, nil
}

type builder struct {
	tol decimal.Decimal
	rep Report
}

func (b *builder) issue(i Issue) {
	i.DealID = b.rep.DealID
	b.rep.Issues = append(b.rep.Issues, i)
}

// checkRoster reports categories whose broker shares do not add to 100%.
// The shortfall is reported, never absorbed into a broker's share. For a
// payment, a category is only reported when it drifted from the template,
// since a short template is already reported once for the deal.
func (b *builder) checkRoster(paymentID int64, pools, coverage commission.CategoryPercents, template *commission.CategoryPercents) bool {
	full := true
	for _, cat := range commission.Categories {
		if !pools.Get(cat).IsPositive() {
			continue
		}
		got := coverage.Get(cat)
		if commission.Within(got, hundred, b.tol) {
			continue
		}
		full = false
		if template != nil && commission.Within(got, template.Get(cat), b.tol) {
			continue
		}
		msg := fmt.Sprintf("%s shares sum to %s%%", cat, got.String())
		if paymentID != 0 {
			msg = fmt.Sprintf("payment %d %s", paymentID, msg)
		}
		b.issue(Issue{
			Kind:       IssueRosterIncomplete,
			PaymentID:  paymentID,
			Field:      string(cat),
			Expected:   hundred,
			Actual:     got,
			Difference: hundred.Sub(got),
			Message:    msg,
		})
	}
	return full
}

func (b *builder) checkPayment(p payments.Payment, amount decimal.Decimal, expected commission.Derived) {
	check := PaymentCheck{
		PaymentID:      p.ID,
		SequenceNumber: p.SequenceNumber,
		AmountOverride: p.AmountOverride,
		ExpectedAmount: amount,
		StoredAmount:   p.PaymentAmount,
		Expected:       expected,
		Stored:         p.Derived(),
		Correct:        true,
	}
	fields := []struct {
		name       string
		want, have decimal.Decimal
	}{
		{"paymentAmount", amount, p.PaymentAmount},
		{"referralFeeUsd", expected.ReferralFeeUSD, p.ReferralFeeUSD},
		{"gci", expected.GCI, p.GCI},
		{"agci", expected.AGCI, p.AGCI},
	}
	for _, f := range fields {
		if commission.Within(f.want, f.have, b.tol) {
			continue
		}
		check.Correct = false
		b.issue(Issue{
			Kind:       IssuePaymentDrift,
			PaymentID:  p.ID,
			Field:      f.name,
			Expected:   f.want,
			Actual:     f.have,
			Difference: f.want.Sub(f.have),
			Message:    fmt.Sprintf("payment %d %s is %s, expected %s", p.SequenceNumber, f.name, FormatUSD(f.have), FormatUSD(f.want)),
		})
	}
	b.rep.Payments = append(b.rep.Payments, check)
}

func (b *builder) checkSplit(p payments.Payment, sp payments.PaymentSplit, line commission.SplitLine, terms commission.DealTerms, legacy commission.Derived) {
	row := SplitRow{
		PaymentID:  p.ID,
		SplitID:    sp.ID,
		BrokerID:   sp.BrokerID,
		Expected:   amountsOf(line),
		Stored:     Amounts{Origination: sp.OriginationUSD, Site: sp.SiteUSD, Deal: sp.DealUSD, Total: sp.BrokerTotal},
		Difference: line.BrokerTotal.Sub(sp.BrokerTotal),
	}
	row.Correct = b.same(row.Expected, row.Stored)
	b.rep.TotalDifference = b.rep.TotalDifference.Add(row.Difference)
	if row.Correct {
		b.rep.CorrectRows++
	} else {
		b.rep.IncorrectRows++
		legacyLine := commission.ComputeSplit(legacy.AGCI, terms.Categories, sp.Percents())
		row.LegacyFormula = b.same(amountsOf(legacyLine), row.Stored)
		msg := fmt.Sprintf("broker %d on payment %d has %s, expected %s", sp.BrokerID, p.SequenceNumber, FormatUSD(sp.BrokerTotal), FormatUSD(line.BrokerTotal))
		if row.LegacyFormula {
			msg += " (matches legacy house cut ratio formula)"
		}
		b.issue(Issue{
			Kind:       IssueSplitMismatch,
			PaymentID:  p.ID,
			SplitID:    sp.ID,
			BrokerID:   sp.BrokerID,
			Field:      "brokerTotal",
			Expected:   line.BrokerTotal,
			Actual:     sp.BrokerTotal,
			Difference: row.Difference,
			Message:    msg,
		})
	}
	b.rep.Rows = append(b.rep.Rows, row)
}

func (b *builder) checkExternal(p payments.Payment, sp payments.PaymentSplit, external map[int64]decimal.Decimal) {
	ext, ok := external[sp.ID]
	if !ok {
		b.rep.External.Missing++
		return
	}
	row := &b.rep.Rows[len(b.rep.Rows)-1]
	row.External = &ext
	if commission.Within(ext, sp.BrokerTotal, b.tol) {
		b.rep.External.Matched++
		return
	}
	b.rep.External.Mismatched++
	b.issue(Issue{
		Kind:       IssueExternalMismatch,
		PaymentID:  p.ID,
		SplitID:    sp.ID,
		BrokerID:   sp.BrokerID,
		Field:      "brokerTotal",
		Expected:   sp.BrokerTotal,
		Actual:     ext,
		Difference: sp.BrokerTotal.Sub(ext),
		Message:    fmt.Sprintf("external record for broker %d shows %s, stored %s", sp.BrokerID, FormatUSD(ext), FormatUSD(sp.BrokerTotal)),
	})
}

// checkConservation compares the unrounded allocation of the stored split
// percentages with payment AGCI. Each broker total is rounded on its own, so
// the rounded totals may drift from AGCI by half a cent per broker; drift in
// a stored row is reported by checkSplit instead.
func (b *builder) checkConservation(p payments.Payment, sumRaw decimal.Decimal) {
	diff := p.AGCI.Sub(sumRaw)
	if diff.Abs().LessThan(b.tol) {
		return
	}
	b.issue(Issue{
		Kind:       IssueRoundingMismatch,
		PaymentID:  p.ID,
		Field:      "agci",
		Expected:   p.AGCI,
		Actual:     sumRaw,
		Difference: diff,
		Message:    fmt.Sprintf("payment %d splits allocate %s against agci %s", p.SequenceNumber, FormatUSD(sumRaw), FormatUSD(p.AGCI)),
	})
}

func (b *builder) same(want, have Amounts) bool {
	return commission.Within(want.Origination, have.Origination, b.tol) &&
		commission.Within(want.Site, have.Site, b.tol) &&
		commission.Within(want.Deal, have.Deal, b.tol) &&
		commission.Within(want.Total, have.Total, b.tol)
}

func amountsOf(line commission.SplitLine) Amounts {
	return Amounts{Origination: line.OriginationUSD, Site: line.SiteUSD, Deal: line.DealUSD, Total: line.BrokerTotal}
}
