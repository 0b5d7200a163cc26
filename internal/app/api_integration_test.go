//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/kart-rewards/internal/domain/coupon"
	"github.com/xenking/kart-rewards/internal/domain/product"
	"github.com/xenking/kart-rewards/internal/domain/reward"
	"github.com/xenking/kart-rewards/internal/handler"
	"github.com/xenking/kart-rewards/internal/storage/postgres"
)

const integrationSecret = "integration-secret"

var (
	baseURL    string
	httpClient = &http.Client{Timeout: 10 * time.Second}
	authn      = handler.NewAuthenticator([]byte(integrationSecret))
)

// Response shapes are declared locally so the suite only depends on the wire
// format.

type productResponse struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type orderResponse struct {
	ID         string  `json:"id"`
	Subtotal   float64 `json:"subtotal"`
	Shipping   float64 `json:"shipping"`
	Discounts  float64 `json:"discounts"`
	Total      float64 `json:"total"`
	CouponCode string  `json:"couponCode"`
}

type validateResponse struct {
	Valid    bool    `json:"valid"`
	Discount float64 `json:"discount"`
	Reason   string  `json:"reason"`
	Message  string  `json:"message"`
}

type spinResponse struct {
	Result struct {
		PrizeType  string `json:"prizeType"`
		CouponCode string `json:"couponCode"`
	} `json:"result"`
	Fulfilled bool `json:"fulfilled"`
}

type rankResponse struct {
	Position   int     `json:"position"`
	CustomerID string  `json:"customerId"`
	TotalSpent float64 `json:"totalSpent"`
	FirstName  string  `json:"firstName"`
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "rewards",
				"POSTGRES_PASSWORD": "rewards",
				"POSTGRES_DB":       "rewards",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := ctr.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	pool, err := postgres.NewPool(ctx, fmt.Sprintf("postgres://rewards:rewards@%s:%s/rewards?sslmode=disable", host, port.Port()))
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if err := seed(ctx, pool); err != nil {
		log.Fatalf("seed: %v", err)
	}

	cfg := &Config{
		JWTSecret: integrationSecret,
		Checkout:  CheckoutConfig{ShippingFee: "4.99"},
		Rewards:   RewardsConfig{LeaderboardSize: 10},
		RateLimit: RateLimitConfig{Rate: 100, Burst: 100, Idle: time.Minute},
		CORS:      CORSConfig{Origins: []string{"*"}},
		Health: HealthConfig{
			MaxGoroutines:   10000,
			MaxGCPause:      time.Second,
			DatabaseTimeout: 5 * time.Second,
		},
	}
	srv, err := newServer(pool, metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider(), cfg)
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	srv.monitor.Sweep(ctx)
	srv.monitor.SetReady(true)

	ts := httptest.NewServer(srv.handler)
	defer ts.Close()
	baseURL = ts.URL

	return m.Run()
}

func seed(ctx context.Context, pool *pgxpool.Pool) error {
	products := postgres.NewProductRepository(pool)
	for _, p := range []product.Product{
		{ID: "1", Name: "Chicken Waffle", Price: decimal.RequireFromString("6.5"), Category: "Waffle"},
		{ID: "2", Name: "Crème Brûlée", Price: decimal.NewFromInt(100), Category: "Crème Brûlée"},
	} {
		if err := products.Upsert(ctx, p); err != nil {
			return err
		}
	}

	customers := postgres.NewCustomerRepository(pool)
	if err := customers.Upsert(ctx, "ada", reward.Profile{FirstName: "Ada", LastName: "Lovelace"}); err != nil {
		return err
	}

	maxDiscount := decimal.NewFromInt(15)
	engine := coupon.NewEngine(postgres.NewCouponRepository(pool))
	if _, err := engine.Create(ctx, coupon.Draft{
		Code:            "welcome20",
		Type:            coupon.TypePercentage,
		Value:           decimal.NewFromInt(20),
		MaximumDiscount: &maxDiscount,
		ExpiresAt:       time.Now().Add(24 * time.Hour),
		Active:          true,
	}); err != nil {
		return err
	}

	return postgres.NewRewardRepository(pool).UpsertPrize(ctx, reward.Prize{
		ID: "points-50", Name: "50 points", Type: reward.PrizePoints, Value: decimal.NewFromInt(50),
	}, 0)
}

func token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	tok, err := authn.Issue(userID, admin, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, method, path string, body any, tok string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, baseURL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		resp := do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestProducts(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/products", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	products := decode[[]productResponse](t, resp)
	require.Len(t, products, 2)
	assert.Equal(t, 6.5, products[0].Price)

	resp = do(t, http.MethodGet, "/api/products/999", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlaceOrder_Errors(t *testing.T) {
	tok := token(t, "ada", false)
	tests := []struct {
		name string
		body any
		tok  string
		code int
	}{
		{name: "anonymous", body: map[string]any{"items": []map[string]any{{"productId": "1", "quantity": 1}}}, code: http.StatusUnauthorized},
		{name: "empty items", body: map[string]any{"items": []any{}}, tok: tok, code: http.StatusBadRequest},
		{name: "unknown product", body: map[string]any{"items": []map[string]any{{"productId": "999", "quantity": 1}}}, tok: tok, code: http.StatusUnprocessableEntity},
		{name: "zero quantity", body: map[string]any{"items": []map[string]any{{"productId": "1", "quantity": 0}}}, tok: tok, code: http.StatusUnprocessableEntity},
		{name: "unknown coupon", body: map[string]any{"items": []map[string]any{{"productId": "1", "quantity": 1}}, "couponCode": "NOPE"}, tok: tok, code: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, "/api/orders", tt.body, tt.tok)
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestCouponCheckoutAndRank(t *testing.T) {
	tok := token(t, "ada", false)

	resp := do(t, http.MethodPost, "/api/coupons/validate", map[string]any{"code": "WELCOME20", "orderAmount": 200}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[validateResponse](t, resp)
	assert.True(t, v.Valid)
	assert.Equal(t, 15.0, v.Discount)

	resp = do(t, http.MethodPost, "/api/orders", map[string]any{
		"items":      []map[string]any{{"productId": "2", "quantity": 2}},
		"couponCode": "welcome20",
	}, tok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	o := decode[orderResponse](t, resp)
	assert.Equal(t, 200.0, o.Subtotal)
	assert.Equal(t, 15.0, o.Discounts)
	assert.Equal(t, 4.99, o.Shipping)
	assert.Equal(t, 189.99, o.Total)
	assert.Equal(t, "WELCOME20", o.CouponCode)

	resp = do(t, http.MethodGet, "/api/admin/coupons", nil, token(t, "admin", true))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	coupons := decode[[]struct {
		Code       string `json:"code"`
		UsageCount int    `json:"usageCount"`
	}](t, resp)
	require.Len(t, coupons, 1)
	assert.Equal(t, 1, coupons[0].UsageCount)

	resp = do(t, http.MethodPatch, "/api/admin/orders/"+o.ID, map[string]string{"status": "delivered"}, tok)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = do(t, http.MethodPatch, "/api/admin/orders/"+o.ID, map[string]string{"status": "delivered"}, token(t, "admin", true))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, "/api/rewards/rank", nil, tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rank := decode[rankResponse](t, resp)
	assert.Equal(t, 1, rank.Position)
	assert.Equal(t, 189.99, rank.TotalSpent)
	assert.Equal(t, "Ada", rank.FirstName)
}

func TestSpinOncePerDay(t *testing.T) {
	tok := token(t, "spinner", false)

	resp := do(t, http.MethodPost, "/api/rewards/spin", nil, tok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decode[spinResponse](t, resp)
	assert.Equal(t, "points", out.Result.PrizeType)
	assert.True(t, out.Fulfilled)

	resp = do(t, http.MethodPost, "/api/rewards/spin", nil, tok)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodGet, "/api/rewards/eligibility", nil, tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]bool{"canSpin": false}, decode[map[string]bool](t, resp))

	resp = do(t, http.MethodGet, "/api/rewards/points", nil, tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int64{"points": 50}, decode[map[string]int64](t, resp))

	resp = do(t, http.MethodGet, "/api/rewards/history", nil, tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]map[string]any](t, resp), 1)
}
