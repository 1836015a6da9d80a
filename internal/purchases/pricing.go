package purchases

import "github.com/shopspring/decimal"

const divisionPrecision = 10

var hundred = decimal.NewFromInt(100)

// Totals of a purchase. Costs already include tax, so the surcharge is applied to
// the tax-inclusive sum and tax is only split out afterwards.
type Totals struct {
	Gross         decimal.Decimal
	Total         decimal.Decimal
	SubtotalExTax decimal.Decimal
	Tax           decimal.Decimal
}

// ComputeTotals prices purchase lines. Purchases carry no line, client or general
// discounts.
func ComputeTotals(lines []Line, surchargePct, taxRate decimal.Decimal) Totals {
	gross := decimal.Zero
	for _, l := range lines {
		gross = gross.Add(l.Quantity.Mul(l.UnitCost))
	}
	total := gross.Add(gross.Mul(surchargePct).Div(hundred))
	subtotal := total.DivRound(decimal.NewFromInt(1).Add(taxRate), divisionPrecision)
	return Totals{
		Gross:         gross,
		Total:         total,
		SubtotalExTax: subtotal,
		Tax:           total.Sub(subtotal),
	}
}
