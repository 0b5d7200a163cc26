package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine validates coupon codes against order amounts and administers the
// coupon records behind them. It holds no coupon state of its own: every call
// re-reads the store.
type Engine struct {
	store Store
	now   func() time.Time
	newID func() string
}

// NewEngine creates an Engine backed by the given Store.
func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Validate looks up the coupon for code and checks, in order, that it exists,
// is active, has not expired, has redemptions left and that orderAmount meets
// its minimum. The first failing rule is reported as a Rejection. Validate
// never changes usage; call IncrementUsage once the order is placed.
//
// The returned error is only non-nil when the store fails.
func (e *Engine) Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (Validation, error) {
	if err := CheckAmount(orderAmount); err != nil {
		return Validation{}, err
	}

	c, err := e.store.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected(rejectNotFound()), nil
		}
		return Validation{}, errors.Wrap(err, "lookup coupon")
	}

	switch {
	case !c.Active:
		return rejected(rejectInactive()), nil
	case e.now().After(c.ExpiresAt):
		return rejected(rejectExpired()), nil
	case c.Exhausted():
		return rejected(rejectUsageExceeded()), nil
	case orderAmount.LessThan(c.MinimumOrderAmount):
		return rejected(rejectBelowMinimum(c.MinimumOrderAmount)), nil
	}

	return accepted(c, c.Discount(orderAmount)), nil
}

// IncrementUsage records one redemption of the coupon with the given id.
// It returns ErrNotFound for unknown ids and ErrUsageLimitReached when the
// coupon has no redemptions left.
func (e *Engine) IncrementUsage(ctx context.Context, id string) error {
	c, err := e.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "lookup coupon")
	}
	if c.Exhausted() {
		return ErrUsageLimitReached
	}

	if err := e.store.IncrementUsage(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUsageLimitReached) {
			return err
		}
		return errors.Wrap(err, "increment coupon usage")
	}
	return nil
}

// Create stores a new coupon built from d. The code is uppercased and the
// usage count starts at zero.
func (e *Engine) Create(ctx context.Context, d Draft) (*Coupon, error) {
	f, err := d.fields()
	if err != nil {
		return nil, err
	}

	c := &Coupon{
		ID:                 e.newID(),
		Code:               f.Code,
		Type:               f.Type,
		Value:              f.Value,
		MinimumOrderAmount: f.MinimumOrderAmount,
		MaximumDiscount:    f.MaximumDiscount,
		UsageLimit:         f.UsageLimit,
		UsageCount:         0,
		ExpiresAt:          f.ExpiresAt,
		Active:             f.Active,
		CreatedAt:          e.now(),
	}
	if err := e.store.Insert(ctx, c); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			return nil, ErrCodeTaken
		}
		return nil, errors.Wrap(err, "insert coupon")
	}
	return c, nil
}

// Update replaces every mutable field of the coupon with the values in d.
// The usage count and creation time are preserved.
func (e *Engine) Update(ctx context.Context, id string, d Draft) (*Coupon, error) {
	f, err := d.fields()
	if err != nil {
		return nil, err
	}

	if err := e.store.Update(ctx, id, f); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCodeTaken) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update coupon")
	}

	c, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "reload coupon")
	}
	return c, nil
}

// Delete removes the coupon with the given id.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "delete coupon")
	}
	return nil
}

// Get returns the coupon with the given id.
func (e *Engine) Get(ctx context.Context, id string) (*Coupon, error) {
	c, err := e.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get coupon")
	}
	return c, nil
}

// List returns all coupons.
func (e *Engine) List(ctx context.Context) ([]Coupon, error) {
	coupons, err := e.store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return coupons, nil
}
