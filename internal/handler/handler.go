// Package handler exposes the coupon, checkout and reward engines over HTTP.
package handler

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-rewards/internal/domain/auth"
	"github.com/xenking/kart-rewards/internal/domain/coupon"
	"github.com/xenking/kart-rewards/internal/domain/order"
	"github.com/xenking/kart-rewards/internal/domain/product"
	"github.com/xenking/kart-rewards/internal/domain/reward"
)

// CouponService validates and administers coupons.
type CouponService interface {
	Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (coupon.Validation, error)
	Create(ctx context.Context, d coupon.Draft) (*coupon.Coupon, error)
	Update(ctx context.Context, id string, d coupon.Draft) (*coupon.Coupon, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	List(ctx context.Context) ([]coupon.Coupon, error)
}

// OrderService places orders and moves them through fulfilment.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	UpdateStatus(ctx context.Context, id string, status order.Status) error
}

// RewardService runs the spin-wheel game.
type RewardService interface {
	Prizes(ctx context.Context) ([]reward.Prize, error)
	CanSpin(ctx context.Context, userID string) (bool, error)
	Spin(ctx context.Context) (*reward.Outcome, error)
	History(ctx context.Context) ([]reward.GameResult, error)
	UserRank(ctx context.Context, userID string) (*reward.Rank, error)
	Leaderboard(ctx context.Context, limit int) ([]reward.Rank, error)
}

// PointsReader reads loyalty point balances.
type PointsReader interface {
	Points(ctx context.Context, userID string) (int64, error)
}

// Config holds non-dependency handler settings.
type Config struct {
	// ImageBaseURL is prepended to relative product image paths.
	ImageBaseURL string
	// LeaderboardSize caps the leaderboard when the client asks for more.
	LeaderboardSize int
}

// Handler serves the JSON API.
type Handler struct {
	coupons  CouponService
	products product.Repository
	orders   OrderService
	rewards  RewardService
	points   PointsReader
	users    auth.Provider
	validate *validator.Validate

	imageBaseURL    string
	leaderboardSize int
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	coupons CouponService,
	products product.Repository,
	orders OrderService,
	rewards RewardService,
	points PointsReader,
	users auth.Provider,
) *Handler {
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = 10
	}
	return &Handler{
		coupons:         coupons,
		products:        products,
		orders:          orders,
		rewards:         rewards,
		points:          points,
		users:           users,
		validate:        newValidator(),
		imageBaseURL:    cfg.ImageBaseURL,
		leaderboardSize: cfg.LeaderboardSize,
	}
}

// Routes mounts the API on r. authn resolves bearer tokens into principals;
// throttle guards coupon validation against code guessing and spins against
// retry storms.
func (h *Handler) Routes(r chi.Router, authn, throttle func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Use(authn)

		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)

		r.With(throttle).Post("/coupons/validate", h.ValidateCoupon)

		r.Post("/orders", h.PlaceOrder)

		r.Route("/rewards", func(r chi.Router) {
			r.Get("/prizes", h.ListPrizes)
			r.Get("/eligibility", h.SpinEligibility)
			r.With(throttle).Post("/spin", h.Spin)
			r.Get("/history", h.SpinHistory)
			r.Get("/points", h.Points)
			r.Get("/rank", h.Rank)
			r.Get("/leaderboard", h.Leaderboard)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)

			r.Get("/coupons", h.ListCoupons)
			r.Post("/coupons", h.CreateCoupon)
			r.Get("/coupons/{id}", h.GetCoupon)
			r.Put("/coupons/{id}", h.UpdateCoupon)
			r.Delete("/coupons/{id}", h.DeleteCoupon)

			r.Patch("/orders/{id}", h.UpdateOrderStatus)
		})
	})
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.RequireAdmin(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError maps domain errors to HTTP status codes. Unrecognized errors
// are logged and reported as 500 without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rejection *coupon.Rejection
		draftErr  *coupon.DraftError
		qtyErr    *order.InvalidQuantityError
		missing   *order.ProductNotFoundError
		invalid   validator.ValidationErrors
	)

	switch {
	case errors.Is(err, auth.ErrUserUnavailable):
		writeErrorBody(w, http.StatusUnauthorized, auth.ErrUserUnavailable.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeErrorBody(w, http.StatusForbidden, err.Error())
	case errors.As(err, &rejection):
		writeErrorBody(w, http.StatusUnprocessableEntity, rejection.Message)
	case errors.As(err, &qtyErr), errors.As(err, &missing):
		writeErrorBody(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &draftErr):
		writeErrorBody(w, http.StatusBadRequest, draftErr.Error())
	case errors.As(err, &invalid):
		writeErrorBody(w, http.StatusBadRequest, validationMessage(invalid))
	case errors.Is(err, errBadRequest),
		errors.Is(err, coupon.ErrInvalidAmount),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidStatus):
		writeErrorBody(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, product.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, err.Error())
	case errors.Is(err, coupon.ErrCodeTaken),
		errors.Is(err, coupon.ErrUsageLimitReached),
		errors.Is(err, reward.ErrSpinUnavailable):
		writeErrorBody(w, http.StatusConflict, rootMessage(err))
	case errors.Is(err, reward.ErrNoPrizes):
		writeErrorBody(w, http.StatusServiceUnavailable, err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErrorBody(w, http.StatusInternalServerError, "internal server error")
	}
}

// rootMessage hides wrapping context from client-facing conflict messages.
func rootMessage(err error) string {
	for _, target := range []error{coupon.ErrCodeTaken, coupon.ErrUsageLimitReached, reward.ErrSpinUnavailable} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func validationMessage(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "invalid request"
	}
	fe := errs[0]
	return "invalid " + fe.Field() + ": failed " + fe.Tag() + " check"
}
