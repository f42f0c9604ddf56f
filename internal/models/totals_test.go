package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeLineTotals(t *testing.T) {
	line := &OrderLine{Quantity: 3, UnitPrice: d("19.99"), Discount: d("5.00")}

	ComputeLineTotals(line)

	assert.True(t, d("59.97").Equal(line.Subtotal), line.Subtotal.String())
	assert.True(t, d("54.97").Equal(line.Total), line.Total.String())
}

func TestComputeOrderTotals(t *testing.T) {
	order := &Order{
		Subtotal:     d("70.00"),
		Discount:     d("0"),
		ShippingCost: d("0"),
		Total:        d("1.00"), // ignored
	}

	ComputeOrderTotals(order, d("0.13"))

	assert.True(t, d("9.10").Equal(order.Tax), order.Tax.String())
	assert.True(t, d("79.10").Equal(order.Total), order.Total.String())
}

func TestComputeOrderTotals_ShippingAndDiscount(t *testing.T) {
	order := &Order{
		Subtotal:     d("100.00"),
		Discount:     d("10.00"),
		ShippingCost: d("15.50"),
	}

	ComputeOrderTotals(order, d("0.13"))

	assert.True(t, d("13.00").Equal(order.Tax))
	assert.True(t, d("118.50").Equal(order.Total))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(7910), ToMinorUnits(d("79.10")))
	assert.Equal(t, int64(1), ToMinorUnits(d("0.005")))
	assert.True(t, d("79.10").Equal(FromMinorUnits(7910)))
}

func TestIsSupportedCurrency(t *testing.T) {
	assert.True(t, IsSupportedCurrency("BOB"))
	assert.True(t, IsSupportedCurrency("USD"))
	assert.False(t, IsSupportedCurrency("usd"))
	assert.False(t, IsSupportedCurrency("GBP"))
}
