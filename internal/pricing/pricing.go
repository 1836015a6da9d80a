// Package pricing computes sales totals for quotes.
//
// Amounts are tax-inclusive. Steps are applied in a fixed order: line discounts,
// client tier discount, general discount, payment surcharge, flat adjustment. Tax is
// then back-calculated from the final total. No intermediate value is rounded.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Line is one priced quantity.
type Line struct {
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	LineDiscountPct decimal.Decimal
}

// Inputs are the header-level pricing parameters of a quote.
type Inputs struct {
	ClientDiscountPct  decimal.Decimal
	GeneralDiscountPct decimal.Decimal
	SurchargePct       decimal.Decimal
	Adjustment         decimal.Decimal
	TaxRate            decimal.Decimal
}

// Totals exposes each intermediate step alongside the final figures.
type Totals struct {
	Gross                decimal.Decimal
	AfterLineDiscounts   decimal.Decimal
	AfterClientDiscount  decimal.Decimal
	AfterGeneralDiscount decimal.Decimal
	BeforeAdjustment     decimal.Decimal
	Total                decimal.Decimal
	SubtotalExTax        decimal.Decimal
	Tax                  decimal.Decimal
}

// Compute returns the totals for lines under in. Inputs must already be validated;
// Compute does not clamp percentages.
func Compute(lines []Line, in Inputs) Totals {
	if len(lines) == 0 {
		return Totals{
			Gross:                decimal.Zero,
			AfterLineDiscounts:   decimal.Zero,
			AfterClientDiscount:  decimal.Zero,
			AfterGeneralDiscount: decimal.Zero,
			BeforeAdjustment:     decimal.Zero,
			Total:                decimal.Zero,
			SubtotalExTax:        decimal.Zero,
			Tax:                  decimal.Zero,
		}
	}

	gross := decimal.Zero
	afterLines := decimal.Zero
	for _, l := range lines {
		amount := l.Quantity.Mul(l.UnitPrice)
		gross = gross.Add(amount)
		afterLines = afterLines.Add(discount(amount, l.LineDiscountPct))
	}

	t := Totals{Gross: gross, AfterLineDiscounts: afterLines}
	t.AfterClientDiscount = discount(t.AfterLineDiscounts, in.ClientDiscountPct)
	t.AfterGeneralDiscount = discount(t.AfterClientDiscount, in.GeneralDiscountPct)
	t.BeforeAdjustment = t.AfterGeneralDiscount.Mul(decimal.NewFromInt(1).Add(in.SurchargePct.Div(hundred)))
	t.Total = t.BeforeAdjustment.Add(in.Adjustment)
	t.SubtotalExTax, t.Tax = SplitTax(t.Total, in.TaxRate)
	return t
}

// SplitTax back-calculates the tax embedded in a tax-inclusive total. The two results
// always add up to total exactly.
func SplitTax(total, rate decimal.Decimal) (subtotal, tax decimal.Decimal) {
	if total.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	subtotal = total.DivRound(decimal.NewFromInt(1).Add(rate), divisionPrecision)
	return subtotal, total.Sub(subtotal)
}

// divisionPrecision keeps back-calculated subtotals far below display precision.
const divisionPrecision = 10

func discount(amount, pct decimal.Decimal) decimal.Decimal {
	if pct.IsZero() {
		return amount
	}
	return amount.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred)))
}

// Round2 rounds to cents for presentation. Stored totals are never rounded.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
