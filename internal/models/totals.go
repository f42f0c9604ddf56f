package models

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ComputeLineTotals fills Subtotal and Total from UnitPrice, Quantity and Discount.
func ComputeLineTotals(line *OrderLine) {
	line.Subtotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2)
	line.Total = line.Subtotal.Sub(line.Discount).Round(2)
}

// ComputeOrderTotals recomputes Tax and Total from Subtotal using taxRate.
// Client-supplied totals are never trusted; callers set Subtotal, Discount and
// ShippingCost and let this derive the rest.
func ComputeOrderTotals(order *Order, taxRate decimal.Decimal) {
	order.Subtotal = order.Subtotal.Round(2)
	order.Tax = order.Subtotal.Mul(taxRate).Round(2)
	order.Total = order.Subtotal.Add(order.Tax).Add(order.ShippingCost).Sub(order.Discount).Round(2)
}

// ToMinorUnits converts an amount to integer cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts integer cents back to a two-place decimal amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
