package coupon

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Draft carries caller-supplied coupon attributes for Create and Update.
// It has no usage count: new coupons always start unused.
type Draft struct {
	Code               string
	Type               Type
	Value              decimal.Decimal
	MinimumOrderAmount decimal.Decimal
	MaximumDiscount    *decimal.Decimal
	UsageLimit         *int
	ExpiresAt          time.Time
	Active             bool
}

// DraftError reports an unacceptable draft attribute.
type DraftError struct {
	Field  string
	Reason string
}

func (e *DraftError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// fields validates the draft and returns its normalized form.
func (d Draft) fields() (Fields, error) {
	code := NormalizeCode(d.Code)
	switch {
	case code == "":
		return Fields{}, &DraftError{Field: "code", Reason: "must not be empty"}
	case !d.Type.Valid():
		return Fields{}, &DraftError{Field: "type", Reason: fmt.Sprintf("unsupported coupon type %q", d.Type)}
	}

	if err := checkDraftAmount("value", d.Value); err != nil {
		return Fields{}, err
	}
	if d.Type == TypePercentage && d.Value.GreaterThan(hundred) {
		return Fields{}, &DraftError{Field: "value", Reason: "percentage must not exceed 100"}
	}
	if err := checkDraftAmount("minimumOrderAmount", d.MinimumOrderAmount); err != nil {
		return Fields{}, err
	}
	if d.MaximumDiscount != nil {
		if err := checkDraftAmount("maximumDiscount", *d.MaximumDiscount); err != nil {
			return Fields{}, err
		}
	}

	switch {
	case d.UsageLimit != nil && *d.UsageLimit < 0:
		return Fields{}, &DraftError{Field: "usageLimit", Reason: "must not be negative"}
	case d.ExpiresAt.IsZero():
		return Fields{}, &DraftError{Field: "expirationDate", Reason: "is required"}
	}

	maxDiscount := d.MaximumDiscount
	if d.Type != TypePercentage {
		maxDiscount = nil
	}

	return Fields{
		Code:               code,
		Type:               d.Type,
		Value:              d.Value,
		MinimumOrderAmount: d.MinimumOrderAmount,
		MaximumDiscount:    maxDiscount,
		UsageLimit:         d.UsageLimit,
		ExpiresAt:          d.ExpiresAt,
		Active:             d.Active,
	}, nil
}

// checkDraftAmount accepts amounts the store keeps exactly: non-negative, at
// most MaxAmount and with no more than two decimal places.
func checkDraftAmount(field string, v decimal.Decimal) error {
	switch {
	case v.IsNegative():
		return &DraftError{Field: field, Reason: "must not be negative"}
	case !amountInRange(v):
		return &DraftError{Field: field, Reason: "must not exceed " + MaxAmount.StringFixed(2)}
	case !v.Equal(v.Round(2)):
		return &DraftError{Field: field, Reason: "must have at most 2 decimal places"}
	}
	return nil
}
