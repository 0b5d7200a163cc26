package coupon

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Reason classifies why a coupon was rejected.
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonInactive      Reason = "inactive"
	ReasonExpired       Reason = "expired"
	ReasonUsageExceeded Reason = "usage_exceeded"
	ReasonBelowMinimum  Reason = "below_minimum"
)

// Rejection describes a failed business rule. It is returned as part of a
// Validation, and also satisfies error so callers that abort on a rejected
// coupon can propagate it unchanged.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func rejectNotFound() *Rejection {
	return &Rejection{Reason: ReasonNotFound, Message: "Invalid coupon code."}
}

func rejectInactive() *Rejection {
	return &Rejection{Reason: ReasonInactive, Message: "This coupon is no longer active."}
}

func rejectExpired() *Rejection {
	return &Rejection{Reason: ReasonExpired, Message: "This coupon has expired."}
}

func rejectUsageExceeded() *Rejection {
	return &Rejection{Reason: ReasonUsageExceeded, Message: "This coupon has reached its usage limit."}
}

func rejectBelowMinimum(minimum decimal.Decimal) *Rejection {
	return &Rejection{
		Reason:  ReasonBelowMinimum,
		Message: fmt.Sprintf("Minimum order amount of $%s required.", minimum.String()),
	}
}

// Validation is the outcome of checking a code against an order amount.
// Exactly one of Coupon and Rejection is set.
type Validation struct {
	Coupon   *Coupon
	Discount decimal.Decimal
	// Rejection is set when the coupon cannot be used.
	Rejection *Rejection
}

// Valid reports whether the coupon can be applied.
func (v Validation) Valid() bool {
	return v.Coupon != nil
}

func accepted(c *Coupon, discount decimal.Decimal) Validation {
	return Validation{Coupon: c, Discount: discount}
}

func rejected(r *Rejection) Validation {
	return Validation{Rejection: r}
}
