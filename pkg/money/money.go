// Package money holds the rounding rules for monetary amounts.
package money

import "github.com/shopspring/decimal"

// Places is the number of fractional digits kept for amounts.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Round rounds half away from zero to two places, which is half-up for the
// non-negative amounts used throughout billing.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Percent returns pct percent of amount, rounded.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// LineTotal returns unit * qty, rounded.
func LineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return Round(unit.Mul(decimal.NewFromInt(int64(qty))))
}

// Sum adds amounts without intermediate rounding.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Totals derives discount, total and balance the way invoices store them.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

// Compute returns the invoice totals for the given line totals and discount
// percentage.
func Compute(lineTotals []decimal.Decimal, discountPct decimal.Decimal) Totals {
	subtotal := Round(Sum(lineTotals...))
	discount := Percent(subtotal, discountPct)
	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Total:          subtotal.Sub(discount),
	}
}
