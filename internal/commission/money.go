package commission

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// Cent is the reconciliation tolerance used when no policy overrides it.
	Cent = decimal.New(1, -2)
)

// Round2 rounds a dollar amount to cents, half away from zero. Every stored
// money field passes through here exactly once.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Pct converts a 0-100 percentage into a ratio.
func Pct(v decimal.Decimal) decimal.Decimal {
	return v.Div(hundred)
}

// Within reports whether |a-b| is strictly below tol.
func Within(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(tol)
}

// ParsePercent reads a user supplied percentage such as "45", "45.5" or "45%".
// It returns false for blank, malformed or out of range input.
func ParsePercent(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if !validPercent(v) {
		return decimal.Zero, false
	}
	return v, true
}

func validPercent(v decimal.Decimal) bool {
	return !v.IsNegative() && v.LessThanOrEqual(hundred)
}
