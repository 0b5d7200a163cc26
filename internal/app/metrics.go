package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kart-rewards/internal/domain/coupon"
	"github.com/xenking/kart-rewards/internal/domain/reward"
)

const instrumentationName = "github.com/xenking/kart-rewards"

// Metrics holds the business counters exported by the API server.
type Metrics struct {
	tracer trace.Tracer

	validations metric.Int64Counter
	redemptions metric.Int64Counter
	spins       metric.Int64Counter
}

// NewMetrics registers counters on the given providers.
func NewMetrics(meters metric.MeterProvider, tracers trace.TracerProvider) (*Metrics, error) {
	meter := meters.Meter(instrumentationName)
	m := &Metrics{tracer: tracers.Tracer(instrumentationName)}

	var err error
	if m.validations, err = meter.Int64Counter("rewards.coupon.validations",
		metric.WithDescription("Coupon validations by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "validations counter")
	}
	if m.redemptions, err = meter.Int64Counter("rewards.coupon.redemptions",
		metric.WithDescription("Coupon usage increments by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "redemptions counter")
	}
	if m.spins, err = meter.Int64Counter("rewards.spins",
		metric.WithDescription("Spin-wheel draws by prize type"),
	); err != nil {
		return nil, errors.Wrap(err, "spins counter")
	}
	return m, nil
}

func (m *Metrics) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// instrumentedCoupons records validation and redemption outcomes.
type instrumentedCoupons struct {
	*coupon.Engine
	m *Metrics
}

func (c *instrumentedCoupons) Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (coupon.Validation, error) {
	ctx, span := c.m.start(ctx, "coupon.Validate")
	v, err := c.Engine.Validate(ctx, code, orderAmount)
	defer finish(span, err)
	if err != nil {
		return v, err
	}

	outcome := "accepted"
	if !v.Valid() {
		outcome = string(v.Rejection.Reason)
	}
	span.SetAttributes(attribute.String("coupon.outcome", outcome))
	c.m.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return v, nil
}

func (c *instrumentedCoupons) IncrementUsage(ctx context.Context, id string) error {
	ctx, span := c.m.start(ctx, "coupon.IncrementUsage")
	err := c.Engine.IncrementUsage(ctx, id)
	defer finish(span, err)

	outcome := "ok"
	switch {
	case errors.Is(err, coupon.ErrUsageLimitReached):
		outcome = "limit_reached"
	case err != nil:
		outcome = "error"
	}
	c.m.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return err
}

// instrumentedRewards records spin outcomes.
type instrumentedRewards struct {
	*reward.Engine
	m *Metrics
}

func (r *instrumentedRewards) Spin(ctx context.Context) (*reward.Outcome, error) {
	ctx, span := r.m.start(ctx, "reward.Spin")
	out, err := r.Engine.Spin(ctx)
	defer finish(span, err)
	if err != nil {
		return nil, err
	}

	prize := string(out.Result.PrizeType)
	span.SetAttributes(
		attribute.String("reward.prize_type", prize),
		attribute.Bool("reward.fulfilled", out.FollowUp.OK()),
	)
	r.m.spins.Add(ctx, 1, metric.WithAttributes(
		attribute.String("prize_type", prize),
		attribute.Bool("fulfilled", out.FollowUp.OK()),
	))
	return out, nil
}
