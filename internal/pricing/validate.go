package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput is returned by Validate when an input is out of range.
var ErrInvalidInput = errors.New("pricing: invalid input")

// Decimal places held by the stored columns.
const (
	PercentPlaces  int32 = 2
	QuantityPlaces int32 = 4
	AmountPlaces   int32 = 4
)

// ValidatePercent checks that v lies within [0, 100] with at most PercentPlaces decimals.
func ValidatePercent(name string, v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s must be between 0 and 100", ErrInvalidInput, name)
	}
	return ValidatePlaces(name, v, PercentPlaces)
}

// ValidatePlaces checks that v has no more than places significant decimals.
// Trailing zeros do not count.
func ValidatePlaces(name string, v decimal.Decimal, places int32) error {
	if !v.Equal(v.Truncate(places)) {
		return fmt.Errorf("%w: %s allows at most %d decimals", ErrInvalidInput, name, places)
	}
	return nil
}

// Validate rejects inputs Compute would otherwise accept silently. Adjustment may be
// negative.
func Validate(lines []Line, in Inputs) error {
	for i, l := range lines {
		if l.Quantity.IsNegative() {
			return fmt.Errorf("%w: line %d quantity is negative", ErrInvalidInput, i)
		}
		if l.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %d unit price is negative", ErrInvalidInput, i)
		}
		if err := ValidatePercent(fmt.Sprintf("line %d discount", i), l.LineDiscountPct); err != nil {
			return err
		}
	}
	checks := []struct {
		name string
		v    decimal.Decimal
	}{
		{"client discount", in.ClientDiscountPct},
		{"general discount", in.GeneralDiscountPct},
		{"surcharge", in.SurchargePct},
	}
	for _, c := range checks {
		if err := ValidatePercent(c.name, c.v); err != nil {
			return err
		}
	}
	if in.TaxRate.IsNegative() || in.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: tax rate must be in [0, 1)", ErrInvalidInput)
	}
	return nil
}
