package db

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Numeric columns are selected as ::text and written as strings so money
// never passes through float64.

// ParseNumeric converts a NUMERIC::text column value.
func ParseNumeric(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("platform/db: parse numeric %q: %w", raw, err)
	}
	return v, nil
}

// ParseNullableNumeric converts a nullable NUMERIC::text column value.
func ParseNullableNumeric(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := ParseNumeric(*raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// NumericArg renders a decimal for a NUMERIC parameter.
func NumericArg(v decimal.Decimal) string {
	return v.String()
}

// NullableNumericArg renders an optional decimal; nil becomes SQL NULL.
func NullableNumericArg(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}
