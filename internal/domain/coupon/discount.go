package coupon

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Discount calculates the price reduction this coupon grants on orderAmount.
// Free shipping coupons report zero; the caller adjusts shipping itself.
func (c *Coupon) Discount(orderAmount decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal

	switch c.Type {
	case TypePercentage:
		amount = orderAmount.Mul(c.Value).Div(hundred)
		if c.MaximumDiscount != nil {
			amount = decimal.Min(amount, *c.MaximumDiscount)
		}
	case TypeFixedAmount:
		amount = decimal.Min(c.Value, orderAmount)
	default:
		amount = decimal.Zero
	}

	return floorAtZero(amount).Round(2)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
