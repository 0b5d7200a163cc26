package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func dp(v string) *decimal.Decimal {
	x := d(v)
	return &x
}

func TestCoupon_Discount(t *testing.T) {
	tests := []struct {
		name   string
		coupon Coupon
		amount decimal.Decimal
		want   decimal.Decimal
	}{
		{
			name:   "percentage capped by maximum discount",
			coupon: Coupon{Type: TypePercentage, Value: d("50"), MaximumDiscount: dp("20")},
			amount: d("100"),
			want:   d("20"),
		},
		{
			name:   "percentage without cap",
			coupon: Coupon{Type: TypePercentage, Value: d("50")},
			amount: d("100"),
			want:   d("50"),
		},
		{
			name:   "percentage below cap is not raised",
			coupon: Coupon{Type: TypePercentage, Value: d("10"), MaximumDiscount: dp("20")},
			amount: d("100"),
			want:   d("10"),
		},
		{
			name:   "percentage rounds to cents",
			coupon: Coupon{Type: TypePercentage, Value: d("15")},
			amount: d("29.97"),
			// 29.97 * 15 / 100 = 4.4955
			want: d("4.50"),
		},
		{
			name:   "fixed amount below order total",
			coupon: Coupon{Type: TypeFixedAmount, Value: d("9")},
			amount: d("100"),
			want:   d("9"),
		},
		{
			name:   "fixed amount clamped to order total",
			coupon: Coupon{Type: TypeFixedAmount, Value: d("30")},
			amount: d("10"),
			want:   d("10"),
		},
		{
			name:   "fixed amount ignores maximum discount",
			coupon: Coupon{Type: TypeFixedAmount, Value: d("30"), MaximumDiscount: dp("5")},
			amount: d("100"),
			want:   d("30"),
		},
		{
			name:   "free shipping has no price discount",
			coupon: Coupon{Type: TypeFreeShipping, Value: d("100")},
			amount: d("80"),
			want:   decimal.Zero,
		},
		{
			name:   "zero order amount",
			coupon: Coupon{Type: TypePercentage, Value: d("25")},
			amount: decimal.Zero,
			want:   decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.coupon.Discount(tt.amount)
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
		})
	}
}
