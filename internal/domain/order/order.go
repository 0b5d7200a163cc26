package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is a placed customer order with pricing and discount details.
// Only delivered orders count towards customer rankings.
type Order struct {
	ID         string
	CustomerID string
	Items      []OrderItem
	Subtotal   decimal.Decimal
	Shipping   decimal.Decimal
	Discounts  decimal.Decimal
	Total      decimal.Decimal
	CouponID   string
	CouponCode string
	Status     Status
	CreatedAt  time.Time
}

// OrderItem represents a single line item in an order.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	// UpdateStatus returns ErrNotFound when no order has the given id.
	UpdateStatus(ctx context.Context, id string, status Status) error
}
