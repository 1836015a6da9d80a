package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func TestComputeWorkedExample(t *testing.T) {
	lines := []Line{
		{Quantity: d("3"), UnitPrice: d("100")},
		{Quantity: d("1"), UnitPrice: d("50"), LineDiscountPct: d("10")},
	}
	totals := Compute(lines, Inputs{ClientDiscountPct: d("5"), TaxRate: d("0.21")})

	requireDecimal(t, "350", totals.Gross)
	requireDecimal(t, "345", totals.AfterLineDiscounts)
	requireDecimal(t, "327.75", totals.AfterClientDiscount)
	requireDecimal(t, "327.75", totals.Total)
	requireDecimal(t, "270.87", Round2(totals.SubtotalExTax))
	requireDecimal(t, "56.88", Round2(totals.Tax))
}

func TestComputeAppliesStepsInOrder(t *testing.T) {
	lines := []Line{{Quantity: d("2"), UnitPrice: d("100"), LineDiscountPct: d("10")}}
	in := Inputs{
		ClientDiscountPct:  d("10"),
		GeneralDiscountPct: d("5"),
		SurchargePct:       d("10"),
		Adjustment:         d("-20"),
		TaxRate:            d("0.21"),
	}
	totals := Compute(lines, in)

	requireDecimal(t, "200", totals.Gross)
	requireDecimal(t, "180", totals.AfterLineDiscounts)
	requireDecimal(t, "162", totals.AfterClientDiscount)
	requireDecimal(t, "153.9", totals.AfterGeneralDiscount)
	requireDecimal(t, "169.29", totals.BeforeAdjustment)
	requireDecimal(t, "149.29", totals.Total)

	// Adjusting before the surcharge would give (153.9 - 20) * 1.1 = 147.29.
	swapped := totals.AfterGeneralDiscount.Add(in.Adjustment).Mul(d("1.1"))
	requireDecimal(t, "147.29", swapped)
	require.False(t, swapped.Equal(totals.Total))

	// The adjustment is added after every percentage step.
	require.True(t, totals.Total.Sub(totals.BeforeAdjustment).Equal(in.Adjustment))
}

func TestComputeEmptyLines(t *testing.T) {
	totals := Compute(nil, Inputs{Adjustment: d("15"), SurchargePct: d("10"), TaxRate: d("0.21")})
	require.True(t, totals.Total.IsZero())
	require.True(t, totals.SubtotalExTax.IsZero())
	require.True(t, totals.Tax.IsZero())
	require.True(t, totals.Gross.IsZero())
}

func TestSplitTaxIsExact(t *testing.T) {
	rate := d("0.21")
	for _, raw := range []string{"0", "0.01", "1", "327.75", "99999.99", "12345.6789", "1000000"} {
		total := d(raw)
		sub, tax := SplitTax(total, rate)
		require.Truef(t, sub.Add(tax).Equal(total), "total %s: %s + %s", raw, sub, tax)
		expected := total.Sub(total.DivRound(d("1.21"), divisionPrecision))
		require.Truef(t, tax.Equal(expected), "tax for %s", raw)
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	ok := []Line{{Quantity: d("1"), UnitPrice: d("10")}}
	require.NoError(t, Validate(ok, Inputs{ClientDiscountPct: d("100"), TaxRate: d("0.21"), Adjustment: d("-5")}))

	require.ErrorIs(t, Validate(ok, Inputs{GeneralDiscountPct: d("100.01")}), ErrInvalidInput)
	require.ErrorIs(t, Validate(ok, Inputs{SurchargePct: d("-1")}), ErrInvalidInput)
	require.ErrorIs(t, Validate(ok, Inputs{TaxRate: d("1")}), ErrInvalidInput)
	require.ErrorIs(t, Validate([]Line{{Quantity: d("-1"), UnitPrice: d("1")}}, Inputs{}), ErrInvalidInput)
	require.ErrorIs(t, Validate([]Line{{Quantity: d("1"), UnitPrice: d("1"), LineDiscountPct: d("101")}}, Inputs{}), ErrInvalidInput)
}

func TestValidatePlaces(t *testing.T) {
	require.NoError(t, ValidatePlaces("quantity", d("12.3400"), QuantityPlaces))
	require.NoError(t, ValidatePlaces("quantity", d("-3.25000000"), QuantityPlaces))
	require.ErrorIs(t, ValidatePlaces("quantity", d("1.00001"), QuantityPlaces), ErrInvalidInput)

	require.NoError(t, ValidatePercent("discount", d("12.50")))
	require.ErrorIs(t, ValidatePercent("discount", d("12.345")), ErrInvalidInput)
	require.ErrorIs(t, Validate([]Line{{Quantity: d("1"), UnitPrice: d("1"), LineDiscountPct: d("0.005")}}, Inputs{}), ErrInvalidInput)
}

func TestFormatRoundsForDisplay(t *testing.T) {
	require.Equal(t, "1,234.57", Format(language.English, d("1234.5678")))
	require.Equal(t, "270.87", Format(language.English, d("270.8677685950")))
}
