package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-rewards/internal/domain/auth"
	"github.com/xenking/kart-rewards/internal/domain/coupon"
	"github.com/xenking/kart-rewards/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]*product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockCoupons struct {
	validation  coupon.Validation
	validateErr error
	incErr      error
	amounts     []decimal.Decimal
	redeemed    []string
}

func (m *mockCoupons) Validate(_ context.Context, _ string, amount decimal.Decimal) (coupon.Validation, error) {
	m.amounts = append(m.amounts, amount)
	return m.validation, m.validateErr
}

func (m *mockCoupons) IncrementUsage(_ context.Context, id string) error {
	m.redeemed = append(m.redeemed, id)
	return m.incErr
}

type mockOrderRepo struct {
	lastOrder *Order
	statuses  map[string]Status
	err       error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.lastOrder = o
	return m.err
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, status Status) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.statuses[id]; !ok {
		return ErrNotFound
	}
	m.statuses[id] = status
	return nil
}

type staticUser string

func (u staticUser) CurrentUserID(context.Context) (string, bool) {
	return string(u), u != ""
}

// --- Helpers ---

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestProduct(id, name string, price decimal.Decimal) product.Product {
	return product.Product{
		ID:       id,
		Name:     name,
		Price:    price,
		Category: "test",
		Image: product.Image{
			Thumbnail: "thumb.jpg",
			Mobile:    "mobile.jpg",
			Tablet:    "tablet.jpg",
			Desktop:   "desktop.jpg",
		},
	}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID}
}

func newTestService(products *mockProductRepo, coupons *mockCoupons, orders *mockOrderRepo) *Service {
	return NewService(Config{ShippingFee: dec("4.99")}, products, coupons, orders, staticUser("cust-1"))
}

func accepted(c *coupon.Coupon, discount string) coupon.Validation {
	return coupon.Validation{Coupon: c, Discount: dec(discount)}
}

// --- Tests ---

func TestPlaceOrder_RequiresUser(t *testing.T) {
	svc := NewService(Config{}, newProductRepo(), &mockCoupons{}, &mockOrderRepo{}, staticUser(""))

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []OrderItem{{ProductID: "p1", Quantity: 1}},
	})
	require.ErrorIs(t, err, auth.ErrUserUnavailable)
}

func TestPlaceOrder_EmptyItems(t *testing.T) {
	svc := newTestService(newProductRepo(), &mockCoupons{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", decimal.NewFromInt(10))
	svc := newTestService(newProductRepo(p1), &mockCoupons{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []OrderItem{{ProductID: "p1", Quantity: 0}},
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	svc := newTestService(newProductRepo(), &mockCoupons{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []OrderItem{{ProductID: "missing", Quantity: 1}},
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
}

func TestPlaceOrder_NoCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("10.00"))
	p2 := newTestProduct("p2", "Gadget", dec("20.00"))
	orders := &mockOrderRepo{}
	coupons := &mockCoupons{}
	svc := newTestService(newProductRepo(p1, p2), coupons, orders)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []OrderItem{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	})

	require.NoError(t, err)
	assert.True(t, dec("40.00").Equal(result.Order.Subtotal))
	assert.True(t, dec("44.99").Equal(result.Order.Total))
	assert.True(t, decimal.Zero.Equal(result.Order.Discounts))
	assert.Equal(t, "cust-1", result.Order.CustomerID)
	assert.Equal(t, StatusPending, result.Order.Status)
	assert.Len(t, result.Products, 2)
	assert.Same(t, result.Order, orders.lastOrder)
	assert.Empty(t, coupons.amounts)
	assert.Empty(t, coupons.redeemed)
}

func TestPlaceOrder_WithCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("10.00"))
	p2 := newTestProduct("p2", "Gadget", dec("20.00"))
	c := &coupon.Coupon{ID: "c-5", Code: "SAVE5", Type: coupon.TypeFixedAmount, Value: dec("5")}
	coupons := &mockCoupons{validation: accepted(c, "5.00")}
	svc := newTestService(newProductRepo(p1, p2), coupons, &mockOrderRepo{})

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []OrderItem{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
		CouponCode: "save5",
	})

	require.NoError(t, err)
	assert.True(t, dec("39.99").Equal(result.Order.Total))
	assert.True(t, dec("5.00").Equal(result.Order.Discounts))
	assert.Equal(t, "c-5", result.Order.CouponID)
	assert.Equal(t, "SAVE5", result.Order.CouponCode)
	require.Len(t, coupons.amounts, 1)
	assert.True(t, dec("40").Equal(coupons.amounts[0]), "coupon validated against subtotal")
	assert.Equal(t, []string{"c-5"}, coupons.redeemed)
}

func TestPlaceOrder_FreeShippingCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("10.00"))
	c := &coupon.Coupon{ID: "c-fs", Code: "FREESHIP", Type: coupon.TypeFreeShipping}
	svc := newTestService(newProductRepo(p1), &mockCoupons{validation: accepted(c, "0")}, &mockOrderRepo{})

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []OrderItem{{ProductID: "p1", Quantity: 3}},
		CouponCode: "FREESHIP",
	})

	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(result.Order.Shipping))
	assert.True(t, dec("30").Equal(result.Order.Total))
}

func TestPlaceOrder_RejectedCoupon(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("10.00"))
	rejection := &coupon.Rejection{Reason: coupon.ReasonExpired, Message: "This coupon has expired."}
	orders := &mockOrderRepo{}
	coupons := &mockCoupons{validation: coupon.Validation{Rejection: rejection}}
	svc := newTestService(newProductRepo(p1), coupons, orders)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []OrderItem{{ProductID: "p1", Quantity: 1}},
		CouponCode: "OLD",
	})

	var got *coupon.Rejection
	require.ErrorAs(t, err, &got)
	assert.Equal(t, coupon.ReasonExpired, got.Reason)
	assert.Nil(t, orders.lastOrder)
	assert.Empty(t, coupons.redeemed)
}

func TestPlaceOrder_CouponLookupError(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("10.00"))
	coupons := &mockCoupons{validateErr: errors.New("timeout")}
	svc := newTestService(newProductRepo(p1), coupons, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []OrderItem{{ProductID: "p1", Quantity: 1}},
		CouponCode: "ANY",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate coupon")
}

func TestPlaceOrder_DiscountFlooredAtZero(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("10.00"))
	c := &coupon.Coupon{ID: "c-huge", Code: "HUGE", Type: coupon.TypeFixedAmount}
	svc := newTestService(newProductRepo(p1), &mockCoupons{validation: accepted(c, "999.00")}, &mockOrderRepo{})

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []OrderItem{{ProductID: "p1", Quantity: 1}},
		CouponCode: "HUGE",
	})

	require.NoError(t, err)
	assert.True(t, dec("4.99").Equal(result.Order.Total), "only shipping remains")
	assert.True(t, dec("999.00").Equal(result.Order.Discounts))
}

func TestPlaceOrder_OrderCreateError(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", decimal.NewFromInt(10))
	c := &coupon.Coupon{ID: "c-1", Code: "SAVE5", Type: coupon.TypeFixedAmount}
	coupons := &mockCoupons{validation: accepted(c, "5")}
	svc := newTestService(newProductRepo(p1), coupons, &mockOrderRepo{err: errors.New("db write failed")})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []OrderItem{{ProductID: "p1", Quantity: 1}},
		CouponCode: "SAVE5",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
	assert.Empty(t, coupons.redeemed, "coupon is only redeemed after the order is stored")
}

func TestPlaceOrder_RedemptionFailure(t *testing.T) {
	p1 := newTestProduct("p1", "Widget", dec("10.00"))
	c := &coupon.Coupon{ID: "c-1", Code: "ONCE", Type: coupon.TypeFixedAmount}
	orders := &mockOrderRepo{}
	coupons := &mockCoupons{validation: accepted(c, "1"), incErr: coupon.ErrUsageLimitReached}
	svc := newTestService(newProductRepo(p1), coupons, orders)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items:      []OrderItem{{ProductID: "p1", Quantity: 1}},
		CouponCode: "ONCE",
	})

	require.ErrorIs(t, err, coupon.ErrUsageLimitReached)
	assert.Contains(t, err.Error(), "redeem coupon")
	require.NotNil(t, result)
	assert.Same(t, orders.lastOrder, result.Order)
}

func TestPlaceOrder_ProductLookupError(t *testing.T) {
	repo := newProductRepo()
	repo.getErr = errors.New("connection refused")
	svc := newTestService(repo, &mockCoupons{}, &mockOrderRepo{})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		Items: []OrderItem{{ProductID: "p1", Quantity: 1}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "get products")
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		status  Status
		wantErr error
	}{
		{name: "delivered", id: "o1", status: StatusDelivered},
		{name: "unknown status", id: "o1", status: "lost", wantErr: ErrInvalidStatus},
		{name: "missing order", id: "nope", status: StatusShipped, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &mockOrderRepo{statuses: map[string]Status{"o1": StatusPending}}
			svc := newTestService(newProductRepo(), &mockCoupons{}, orders)

			err := svc.UpdateStatus(context.Background(), tt.id, tt.status)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, orders.statuses[tt.id])
		})
	}
}

func TestUpdateStatus_StoreError(t *testing.T) {
	orders := &mockOrderRepo{err: errors.New("broken pipe")}
	svc := newTestService(newProductRepo(), &mockCoupons{}, orders)

	err := svc.UpdateStatus(context.Background(), "o1", StatusShipped)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update order status")
}
