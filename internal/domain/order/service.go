package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-rewards/internal/domain/auth"
	"github.com/xenking/kart-rewards/internal/domain/coupon"
	"github.com/xenking/kart-rewards/internal/domain/product"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems    = errors.New("items required")
	ErrInvalidStatus = errors.New("unknown order status")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// CouponRedeemer validates coupon codes and records their redemption.
// It is satisfied by *coupon.Engine.
type CouponRedeemer interface {
	Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (coupon.Validation, error)
	IncrementUsage(ctx context.Context, id string) error
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Items      []OrderItem
	CouponCode string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Products []product.Product
}

// Config holds checkout pricing settings.
type Config struct {
	// ShippingFee is charged on every order unless a free shipping coupon applies.
	ShippingFee decimal.Decimal
}

// Service encapsulates order placement business logic.
type Service struct {
	products    product.Repository
	coupons     CouponRedeemer
	orders      Repository
	users       auth.Provider
	shippingFee decimal.Decimal
	now         func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	cfg Config,
	products product.Repository,
	coupons CouponRedeemer,
	orders Repository,
	users auth.Provider,
) *Service {
	return &Service{
		products:    products,
		coupons:     coupons,
		orders:      orders,
		users:       users,
		shippingFee: cfg.ShippingFee,
		now:         time.Now,
	}
}

// PlaceOrder validates items, fetches products in a single batch, applies the
// coupon, persists the order and then redeems the coupon.
//
// A rejected coupon aborts the order with the *coupon.Rejection. A failed
// redemption is returned after the order has been stored.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	customerID, err := auth.RequireUser(ctx, s.users)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	products := make([]product.Product, 0, len(req.Items))
	subtotal := decimal.Zero
	for _, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		products = append(products, p)
		subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	shipping := s.shippingFee
	discount := decimal.Zero
	var applied *coupon.Coupon
	if req.CouponCode != "" {
		v, err := s.coupons.Validate(ctx, req.CouponCode, subtotal)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		if !v.Valid() {
			return nil, v.Rejection
		}
		applied = v.Coupon
		discount = v.Discount
		if applied.Type == coupon.TypeFreeShipping {
			shipping = decimal.Zero
		}
	}

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	o := &Order{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Items:      req.Items,
		Subtotal:   subtotal.Round(2),
		Shipping:   shipping.Round(2),
		Discounts:  discount.Round(2),
		Total:      total.Add(shipping).Round(2),
		Status:     StatusPending,
		CreatedAt:  s.now(),
	}
	if applied != nil {
		o.CouponID = applied.ID
		o.CouponCode = applied.Code
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	result := &PlaceOrderResult{
		Order:    o,
		Products: products,
	}
	if applied == nil {
		return result, nil
	}

	if err := s.coupons.IncrementUsage(ctx, applied.ID); err != nil {
		zctx.From(ctx).Error("Coupon redemption failed after order was stored",
			zap.String("order_id", o.ID),
			zap.String("coupon_id", applied.ID),
			zap.Error(err),
		)
		return result, errors.Wrap(err, "redeem coupon")
	}
	return result, nil
}

// UpdateStatus moves an order to the given status.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if err := s.orders.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "update order status")
	}
	return nil
}
