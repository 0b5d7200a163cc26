// Package reward implements the spin-wheel game: daily spin eligibility,
// prize issuance as single-use coupons or loyalty points, and customer
// rankings by delivered order spend.
package reward

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-rewards/internal/domain/coupon"
	"github.com/xenking/kart-rewards/internal/domain/order"
)

// PrizeType enumerates spin-wheel outcomes.
type PrizeType string

const (
	PrizeEmpty              PrizeType = "empty"
	PrizePoints             PrizeType = "points"
	PrizeDiscountPercentage PrizeType = "discount_percentage"
	PrizeDiscountFixed      PrizeType = "discount_fixed"
	PrizeFreeShipping       PrizeType = "free_shipping"
)

// Valid reports whether t is a known prize type.
func (t PrizeType) Valid() bool {
	switch t {
	case PrizeEmpty, PrizePoints, PrizeDiscountPercentage, PrizeDiscountFixed, PrizeFreeShipping:
		return true
	default:
		return false
	}
}

// CouponType maps a discount prize to the coupon type it issues.
// The second result is false for prizes that do not issue coupons.
func (t PrizeType) CouponType() (coupon.Type, bool) {
	switch t {
	case PrizeDiscountPercentage:
		return coupon.TypePercentage, true
	case PrizeDiscountFixed:
		return coupon.TypeFixedAmount, true
	case PrizeFreeShipping:
		return coupon.TypeFreeShipping, true
	default:
		return "", false
	}
}

var (
	// ErrSpinUnavailable is returned by Spin when the user already spun in
	// the last 24 hours.
	ErrSpinUnavailable = errors.New("spin is not available yet")
	// ErrNoPrizes is returned by Spin when the prize catalog is empty.
	ErrNoPrizes = errors.New("prize catalog is empty")
)

// Prize is a spin-wheel catalog entry.
type Prize struct {
	ID    string
	Name  string
	Type  PrizeType
	Value decimal.Decimal
	// CouponCode is the code template for discount prizes.
	CouponCode string
	Color      string
}

// GameResult records a single spin. It is written once and never updated
// by the engine.
type GameResult struct {
	ID         string
	UserID     string
	PrizeID    string
	PrizeName  string
	PrizeValue decimal.Decimal
	PrizeType  PrizeType
	CouponCode string
	CreatedAt  time.Time
	Redeemed   bool
}

// Profile is the public part of a customer record.
type Profile struct {
	FirstName string
	LastName  string
	PhotoURL  string
}

// Rank is a customer's position among all customers by delivered spend.
type Rank struct {
	// Position is 1-based.
	Position   int
	CustomerID string
	TotalSpent decimal.Decimal
	OrderCount int
	Profile    *Profile
}

// Store is the persistence boundary for game data.
type Store interface {
	// FindGameResults returns the user's results created strictly after
	// since. A zero since returns every result.
	FindGameResults(ctx context.Context, userID string, since time.Time) ([]GameResult, error)
	InsertGameResult(ctx context.Context, r *GameResult) error
	// InsertSpin stores r unless the user already has a result created
	// strictly after since, in which case it returns ErrSpinUnavailable.
	// The check and the insert are atomic per user.
	InsertSpin(ctx context.Context, r *GameResult, since time.Time) error
	ListPrizes(ctx context.Context) ([]Prize, error)
	FindDeliveredOrders(ctx context.Context) ([]order.Order, error)
	// FindCustomerProfile returns nil without error for unknown users.
	FindCustomerProfile(ctx context.Context, userID string) (*Profile, error)
}

// PointsCreditor adds loyalty points to a customer balance.
type PointsCreditor interface {
	CreditPoints(ctx context.Context, userID string, points int64) error
}

// CouponIssuer creates coupons for discount prizes. It is satisfied by
// *coupon.Engine.
type CouponIssuer interface {
	Create(ctx context.Context, d coupon.Draft) (*coupon.Coupon, error)
}

// BestEffort reports the outcome of a follow-up step that never fails the
// operation it belongs to.
type BestEffort struct {
	Err error
}

// OK reports whether the follow-up step succeeded or was not needed.
func (b BestEffort) OK() bool {
	return b.Err == nil
}

// Outcome is the result of saving a spin.
type Outcome struct {
	Result *GameResult
	// Coupon is the coupon issued for a discount prize.
	Coupon *coupon.Coupon
	// Points is the number of points credited for a points prize.
	Points   int64
	FollowUp BestEffort
}
