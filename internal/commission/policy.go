package commission

import "github.com/shopspring/decimal"

// Policy carries the fallbacks applied when deal input is missing or unusable.
type Policy struct {
	DefaultHouseCutPercent decimal.Decimal
	DefaultReferralPercent decimal.Decimal
	Tolerance              decimal.Decimal
}

// DefaultPolicy returns the brokerage defaults: 45% house cut, no referral, one cent tolerance.
func DefaultPolicy() Policy {
	return Policy{
		DefaultHouseCutPercent: decimal.NewFromInt(45),
		DefaultReferralPercent: decimal.Zero,
		Tolerance:              Cent,
	}
}

// normalized fills unusable fields so a partially built Policy still behaves.
// The zero Policy is unset and gets every default; once any field is set, a
// 0% house cut or referral is a configured value.
func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.unset() {
		return def
	}
	if !validPercent(p.DefaultHouseCutPercent) {
		p.DefaultHouseCutPercent = def.DefaultHouseCutPercent
	}
	if !validPercent(p.DefaultReferralPercent) {
		p.DefaultReferralPercent = def.DefaultReferralPercent
	}
	if !p.Tolerance.IsPositive() {
		p.Tolerance = def.Tolerance
	}
	return p
}

func (p Policy) unset() bool {
	return p.DefaultHouseCutPercent.IsZero() && p.DefaultReferralPercent.IsZero() && p.Tolerance.IsZero()
}

// Tol returns the comparison tolerance.
func (p Policy) Tol() decimal.Decimal {
	return p.normalized().Tolerance
}

// HouseCut resolves the raw house cut entered on a deal.
func (p Policy) HouseCut(raw string) decimal.Decimal {
	if v, ok := ParsePercent(raw); ok {
		return v
	}
	return p.normalized().DefaultHouseCutPercent
}

// ReferralPercent resolves override ?? deal level ?? default.
func (p Policy) ReferralPercent(override, dealLevel *decimal.Decimal) decimal.Decimal {
	if override != nil && validPercent(*override) {
		return *override
	}
	if dealLevel != nil && validPercent(*dealLevel) {
		return *dealLevel
	}
	return p.normalized().DefaultReferralPercent
}

// Derive resolves rates for one payment and runs DerivePayment.
func (p Policy) Derive(amount decimal.Decimal, referralOverride *decimal.Decimal, terms DealTerms) Derived {
	return DerivePayment(DerivationInput{
		PaymentAmount:   amount,
		ReferralPercent: p.ReferralPercent(referralOverride, terms.ReferralFeePercent),
		HouseCutPercent: p.HouseCut(terms.HouseCutPercent),
	})
}
