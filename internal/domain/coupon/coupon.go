package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercentage takes a percentage of the order amount, optionally capped.
	TypePercentage Type = "percentage"
	// TypeFixedAmount takes a fixed amount, never more than the order amount.
	TypeFixedAmount Type = "fixed_amount"
	// TypeFreeShipping waives shipping; the engine reports a zero price discount.
	TypeFreeShipping Type = "free_shipping"
)

// Valid reports whether t is one of the known coupon types.
func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeFixedAmount, TypeFreeShipping:
		return true
	default:
		return false
	}
}

var (
	// ErrNotFound is returned when no coupon matches the given code or id.
	ErrNotFound = errors.New("coupon not found")
	// ErrUsageLimitReached is returned when a redemption would push usage past the limit.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrCodeTaken is returned when creating or renaming a coupon onto an existing code.
	ErrCodeTaken = errors.New("coupon code already exists")
	// ErrInvalidAmount is returned when an order amount is negative or
	// above MaxAmount.
	ErrInvalidAmount = errors.New("order amount is out of range")
)

// Coupon is a redeemable discount code together with its constraints and
// usage tracking.
type Coupon struct {
	ID                 string
	Code               string
	Type               Type
	Value              decimal.Decimal
	MinimumOrderAmount decimal.Decimal
	// MaximumDiscount caps percentage coupons. Nil means uncapped.
	MaximumDiscount *decimal.Decimal
	// UsageLimit is the number of allowed redemptions. Nil means unlimited.
	UsageLimit *int
	UsageCount int
	ExpiresAt  time.Time
	Active     bool
	CreatedAt  time.Time
}

// Exhausted reports whether the coupon has no redemptions left.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

// Fields are the mutable coupon attributes written by an admin update.
// UsageCount and CreatedAt are deliberately absent.
type Fields struct {
	Code               string
	Type               Type
	Value              decimal.Decimal
	MinimumOrderAmount decimal.Decimal
	MaximumDiscount    *decimal.Decimal
	UsageLimit         *int
	ExpiresAt          time.Time
	Active             bool
}

// Store is the persistence boundary for coupons.
type Store interface {
	// FindByCode returns the coupon whose code equals the given uppercase code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id string) (*Coupon, error)
	Insert(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, id string, f Fields) error
	// IncrementUsage adds one redemption, refusing with ErrUsageLimitReached
	// when the stored count already meets the limit.
	IncrementUsage(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Coupon, error)
}

// MaxAmount is the largest money amount the store can hold.
var MaxAmount = decimal.RequireFromString("9999999999.99")

// Caller-supplied amounts outside this shape are refused before any
// comparison, since decimal arithmetic rescales operands by their exponent.
const (
	minAmountExponent = -8
	maxAmountExponent = 12
	maxAmountDigits   = 20
)

func amountInRange(d decimal.Decimal) bool {
	if exp := d.Exponent(); exp < minAmountExponent || exp > maxAmountExponent {
		return false
	}
	if d.NumDigits() > maxAmountDigits {
		return false
	}
	return !d.Abs().GreaterThan(MaxAmount)
}

// CheckAmount returns ErrInvalidAmount unless d is between zero and
// MaxAmount.
func CheckAmount(d decimal.Decimal) error {
	if d.IsNegative() || !amountInRange(d) {
		return ErrInvalidAmount
	}
	return nil
}

// NormalizeCode returns the canonical storage form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
