package reward

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-rewards/internal/domain/auth"
	"github.com/xenking/kart-rewards/internal/domain/coupon"
)

const (
	// SpinCooldown is the sliding window during which a user may spin once.
	SpinCooldown = 24 * time.Hour
	// RewardCouponTTL is how long an issued prize coupon stays valid.
	RewardCouponTTL = 30 * 24 * time.Hour
)

// Engine runs the spin-wheel game on top of the reward store.
type Engine struct {
	store   Store
	coupons CouponIssuer
	points  PointsCreditor
	users   auth.Provider

	now        func() time.Time
	newID      func() string
	draw       func(n int) (int, error)
	codeSuffix func() (string, error)
}

// NewEngine creates an Engine with the given collaborators.
func NewEngine(store Store, coupons CouponIssuer, points PointsCreditor, users auth.Provider) *Engine {
	return &Engine{
		store:      store,
		coupons:    coupons,
		points:     points,
		users:      users,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
		draw:       secureRandomInt,
		codeSuffix: newCodeSuffix,
	}
}

// CanSpin reports whether the user has no recorded spin within the last
// SpinCooldown.
func (e *Engine) CanSpin(ctx context.Context, userID string) (bool, error) {
	since := e.now().Add(-SpinCooldown)
	results, err := e.store.FindGameResults(ctx, userID, since)
	if err != nil {
		return false, errors.Wrap(err, "find game results")
	}
	for _, r := range results {
		if r.CreatedAt.After(since) {
			return false, nil
		}
	}
	return true, nil
}

// SaveGameResult records a spin for the current user and then issues its
// prize. The result is persisted for every prize type, including empty
// ones. Prize issuance is best-effort: its failure is logged and reported
// in Outcome.FollowUp, and SaveGameResult still succeeds.
func (e *Engine) SaveGameResult(ctx context.Context, r GameResult) (*Outcome, error) {
	userID, err := auth.RequireUser(ctx, e.users)
	if err != nil {
		return nil, err
	}

	e.stamp(&r, userID)
	if err := e.store.InsertGameResult(ctx, &r); err != nil {
		return nil, errors.Wrap(err, "insert game result")
	}
	return e.issuePrize(ctx, &r), nil
}

func (e *Engine) stamp(r *GameResult, userID string) {
	r.ID = e.newID()
	r.UserID = userID
	r.CreatedAt = e.now()
}

// issuePrize runs the follow-up step for a persisted result.
func (e *Engine) issuePrize(ctx context.Context, r *GameResult) *Outcome {
	out := &Outcome{Result: r}
	lg := zctx.From(ctx).With(
		zap.String("user_id", r.UserID),
		zap.String("game_result_id", r.ID),
		zap.String("prize_type", string(r.PrizeType)),
	)

	if typ, ok := r.PrizeType.CouponType(); ok {
		if r.CouponCode == "" {
			return out
		}
		singleUse := 1
		c, err := e.coupons.Create(ctx, coupon.Draft{
			Code:       r.CouponCode,
			Type:       typ,
			Value:      r.PrizeValue,
			UsageLimit: &singleUse,
			ExpiresAt:  r.CreatedAt.Add(RewardCouponTTL),
			Active:     true,
		})
		if err != nil {
			lg.Warn("Failed to issue prize coupon", zap.Error(err))
			out.FollowUp = BestEffort{Err: errors.Wrap(err, "issue prize coupon")}
			return out
		}
		out.Coupon = c
		return out
	}

	if r.PrizeType == PrizePoints {
		points := r.PrizeValue.Floor().IntPart()
		if err := e.points.CreditPoints(ctx, r.UserID, points); err != nil {
			lg.Warn("Failed to credit prize points", zap.Int64("points", points), zap.Error(err))
			out.FollowUp = BestEffort{Err: errors.Wrap(err, "credit prize points")}
			return out
		}
		out.Points = points
	}
	return out
}

// Prizes returns the spin-wheel catalog.
func (e *Engine) Prizes(ctx context.Context) ([]Prize, error) {
	prizes, err := e.store.ListPrizes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list prizes")
	}
	return prizes, nil
}

// Spin draws a prize for the current user and saves the result. Discount
// prizes get a unique coupon code derived from the prize template. The
// eligibility check is repeated atomically by the store, so concurrent spins
// of one user yield a single result.
func (e *Engine) Spin(ctx context.Context) (*Outcome, error) {
	userID, err := auth.RequireUser(ctx, e.users)
	if err != nil {
		return nil, err
	}

	ok, err := e.CanSpin(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSpinUnavailable
	}

	prizes, err := e.Prizes(ctx)
	if err != nil {
		return nil, err
	}
	if len(prizes) == 0 {
		return nil, ErrNoPrizes
	}

	idx, err := e.draw(len(prizes))
	if err != nil {
		return nil, errors.Wrap(err, "draw prize")
	}
	p := prizes[idx]

	r := GameResult{
		PrizeID:    p.ID,
		PrizeName:  p.Name,
		PrizeValue: p.Value,
		PrizeType:  p.Type,
	}
	if _, issues := p.Type.CouponType(); issues && p.CouponCode != "" {
		suffix, err := e.codeSuffix()
		if err != nil {
			return nil, errors.Wrap(err, "generate coupon code")
		}
		r.CouponCode = coupon.NormalizeCode(p.CouponCode + "-" + suffix)
	}

	e.stamp(&r, userID)
	if err := e.store.InsertSpin(ctx, &r, r.CreatedAt.Add(-SpinCooldown)); err != nil {
		if errors.Is(err, ErrSpinUnavailable) {
			return nil, ErrSpinUnavailable
		}
		return nil, errors.Wrap(err, "insert game result")
	}
	return e.issuePrize(ctx, &r), nil
}

// History returns the current user's spins, newest first.
func (e *Engine) History(ctx context.Context) ([]GameResult, error) {
	userID, err := auth.RequireUser(ctx, e.users)
	if err != nil {
		return nil, err
	}

	results, err := e.store.FindGameResults(ctx, userID, time.Time{})
	if err != nil {
		return nil, errors.Wrap(err, "find game results")
	}
	slices.SortStableFunc(results, func(a, b GameResult) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return results, nil
}
