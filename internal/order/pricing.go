package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// totalTolerance is the largest accepted difference between a caller's total
// and the computed one.
var totalTolerance = decimal.New(5, -3)

type totals struct {
	Subtotal decimal.Decimal
	Total    decimal.Decimal
}

func computeTotals(items []Item, shippingCost, tax float64) totals {
	subtotal := decimal.Zero
	for _, it := range items {
		line := decimal.NewFromFloat(it.UnitPrice).Mul(decimal.NewFromInt(int64(it.Quantity)))
		subtotal = subtotal.Add(line)
	}
	subtotal = subtotal.Round(2)
	total := subtotal.Add(decimal.NewFromFloat(shippingCost)).Add(decimal.NewFromFloat(tax)).Round(2)
	return totals{Subtotal: subtotal, Total: total}
}

func checkTotal(computed decimal.Decimal, supplied float64) error {
	diff := computed.Sub(decimal.NewFromFloat(supplied)).Abs()
	if diff.GreaterThan(totalTolerance) {
		return fmt.Errorf("%w: computed %s, got %s", ErrInvalidTotal, computed.StringFixed(2), decimal.NewFromFloat(supplied).String())
	}
	return nil
}

// VerifyTotals checks that the stored monetary fields agree with each other.
func (o *Order) VerifyTotals() error {
	t := computeTotals(o.Items, o.ShippingCost, o.Tax)
	if t.Subtotal.Sub(decimal.NewFromFloat(o.Subtotal)).Abs().GreaterThan(totalTolerance) {
		return fmt.Errorf("%w: subtotal %v does not match items", ErrInvalidTotal, o.Subtotal)
	}
	return checkTotal(t.Total, o.Total)
}
