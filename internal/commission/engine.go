package commission

import "github.com/shopspring/decimal"

// DerivationInput carries already resolved rates for a single payment.
type DerivationInput struct {
	PaymentAmount   decimal.Decimal
	ReferralPercent decimal.Decimal
	HouseCutPercent decimal.Decimal
}

// Derived holds the payment level money fields.
type Derived struct {
	ReferralFeeUSD decimal.Decimal `json:"referralFeeUsd"`
	GCI            decimal.Decimal `json:"gci"`
	AGCI           decimal.Decimal `json:"agci"`
}

// DerivePayment computes referral fee, GCI and AGCI.
//
// The referral fee is rounded to cents, GCI is the exact difference of two
// cent values and AGCI is rounded once from the unrounded product.
func DerivePayment(in DerivationInput) Derived {
	referral := Round2(in.PaymentAmount.Mul(Pct(in.ReferralPercent)))
	gci := in.PaymentAmount.Sub(referral)
	agci := Round2(gci.Sub(gci.Mul(Pct(in.HouseCutPercent))))
	return Derived{ReferralFeeUSD: referral, GCI: gci, AGCI: agci}
}

// HouseCutRatio is the share of GCI that reaches the broker pool.
//
// With a deal level target AGCI the ratio is target / deal GCI, which is how
// payments were priced before the house cut percentage became authoritative.
// Otherwise it is 1 - houseCut/100.
func (p Policy) HouseCutRatio(terms DealTerms) decimal.Decimal {
	if terms.TargetAGCI != nil {
		referral := terms.Fee.Mul(Pct(p.ReferralPercent(nil, terms.ReferralFeePercent)))
		dealGCI := terms.Fee.Sub(referral)
		if dealGCI.IsPositive() {
			return terms.TargetAGCI.Div(dealGCI)
		}
	}
	return decimal.NewFromInt(1).Sub(Pct(p.HouseCut(terms.HouseCutPercent)))
}

// DeriveLegacy reproduces the ratio based formula for drift diagnosis.
func (p Policy) DeriveLegacy(amount decimal.Decimal, referralOverride *decimal.Decimal, terms DealTerms) Derived {
	referral := Round2(amount.Mul(Pct(p.ReferralPercent(referralOverride, terms.ReferralFeePercent))))
	gci := amount.Sub(referral)
	return Derived{
		ReferralFeeUSD: referral,
		GCI:            gci,
		AGCI:           Round2(gci.Mul(p.HouseCutRatio(terms))),
	}
}
