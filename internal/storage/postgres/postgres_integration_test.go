//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kart-rewards/internal/domain/coupon"
	"github.com/xenking/kart-rewards/internal/domain/order"
	"github.com/xenking/kart-rewards/internal/domain/reward"
)

var testPool *pgxpool.Pool

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
				"POSTGRES_USER":     "kart",
				"POSTGRES_PASSWORD": "kart",
				"POSTGRES_DB":       "kart",
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

	dsn := fmt.Sprintf("postgres://kart:kart@%s:%s/kart?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	// Migrations must be re-runnable.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate twice: %v", err)
	}

	return m.Run()
}

func newCoupon(id, code string, limit *int) *coupon.Coupon {
	return &coupon.Coupon{
		ID:                 id,
		Code:               code,
		Type:               coupon.TypePercentage,
		Value:              decimal.NewFromInt(20),
		MinimumOrderAmount: decimal.Zero,
		UsageLimit:         limit,
		ExpiresAt:          time.Now().Add(24 * time.Hour).UTC().Truncate(time.Microsecond),
		Active:             true,
		CreatedAt:          time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestCouponRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(testPool)

	maxDiscount := decimal.NewFromInt(15)
	c := newCoupon("rt-1", "ROUNDTRIP", nil)
	c.MaximumDiscount = &maxDiscount
	require.NoError(t, repo.Insert(ctx, c))

	got, err := repo.FindByCode(ctx, "ROUNDTRIP")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, coupon.TypePercentage, got.Type)
	require.NotNil(t, got.MaximumDiscount)
	assert.True(t, maxDiscount.Equal(*got.MaximumDiscount))
	assert.Nil(t, got.UsageLimit)
	assert.True(t, c.ExpiresAt.Equal(got.ExpiresAt))

	_, err = repo.FindByCode(ctx, "MISSING")
	require.ErrorIs(t, err, coupon.ErrNotFound)

	require.ErrorIs(t, repo.Insert(ctx, newCoupon("rt-2", "ROUNDTRIP", nil)), coupon.ErrCodeTaken)

	limit := 3
	require.NoError(t, repo.Update(ctx, "rt-1", coupon.Fields{
		Code:       "ROUNDTRIP2",
		Type:       coupon.TypeFixedAmount,
		Value:      decimal.NewFromInt(5),
		UsageLimit: &limit,
		ExpiresAt:  c.ExpiresAt,
		Active:     false,
	}))
	got, err = repo.FindByID(ctx, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "ROUNDTRIP2", got.Code)
	assert.Nil(t, got.MaximumDiscount)
	require.NotNil(t, got.UsageLimit)
	assert.Equal(t, 3, *got.UsageLimit)
	assert.False(t, got.Active)

	require.ErrorIs(t, repo.Update(ctx, "nope", coupon.Fields{Code: "X", Type: coupon.TypeFixedAmount}), coupon.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, "rt-1"))
	require.ErrorIs(t, repo.Delete(ctx, "rt-1"), coupon.ErrNotFound)
}

func TestCouponRepository_IncrementUsageNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(testPool)

	limit := 5
	require.NoError(t, repo.Insert(ctx, newCoupon("race-1", "RACE", &limit)))

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		limited   int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.IncrementUsage(ctx, "race-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, coupon.ErrUsageLimitReached):
				limited++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, succeeded)
	assert.Equal(t, workers-limit, limited)

	got, err := repo.FindByID(ctx, "race-1")
	require.NoError(t, err)
	assert.Equal(t, limit, got.UsageCount)

	require.ErrorIs(t, repo.IncrementUsage(ctx, "missing"), coupon.ErrNotFound)
}

func TestRewardRepository(t *testing.T) {
	ctx := context.Background()
	rewards := NewRewardRepository(testPool)
	orders := NewOrderRepository(testPool)
	customers := NewCustomerRepository(testPool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, rewards.InsertGameResult(ctx, &reward.GameResult{
		ID: "g-old", UserID: "u-int", PrizeID: "p1", PrizeName: "Old", PrizeType: reward.PrizeEmpty,
		CreatedAt: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, rewards.InsertGameResult(ctx, &reward.GameResult{
		ID: "g-new", UserID: "u-int", PrizeID: "p2", PrizeName: "New", PrizeType: reward.PrizePoints,
		PrizeValue: decimal.NewFromInt(50), CreatedAt: now.Add(-time.Hour),
	}))

	recent, err := rewards.FindGameResults(ctx, "u-int", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "g-new", recent[0].ID)

	all, err := rewards.FindGameResults(ctx, "u-int", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.ErrorIs(t, rewards.InsertSpin(ctx, &reward.GameResult{
		ID: "g-blocked", UserID: "u-int", PrizeID: "p1", PrizeName: "Blocked", PrizeType: reward.PrizeEmpty,
		CreatedAt: now,
	}, now.Add(-24*time.Hour)), reward.ErrSpinUnavailable)

	require.NoError(t, rewards.UpsertPrize(ctx, reward.Prize{ID: "pz-2", Name: "Second", Type: reward.PrizeEmpty}, 2))
	require.NoError(t, rewards.UpsertPrize(ctx, reward.Prize{
		ID: "pz-1", Name: "First", Type: reward.PrizeDiscountFixed, Value: decimal.NewFromInt(5), CouponCode: "WIN5",
	}, 1))
	prizes, err := rewards.ListPrizes(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(prizes), 2)
	assert.Equal(t, "pz-1", prizes[0].ID)

	require.NoError(t, customers.CreditPoints(ctx, "u-int", 30))
	require.NoError(t, customers.CreditPoints(ctx, "u-int", 20))
	points, err := customers.Points(ctx, "u-int")
	require.NoError(t, err)
	assert.Equal(t, int64(50), points)

	require.NoError(t, customers.Upsert(ctx, "u-int", reward.Profile{FirstName: "Ada"}))
	profile, err := rewards.FindCustomerProfile(ctx, "u-int")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Ada", profile.FirstName)
	points, err = customers.Points(ctx, "u-int")
	require.NoError(t, err)
	assert.Equal(t, int64(50), points, "upsert keeps the balance")

	missing, err := rewards.FindCustomerProfile(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	o := &order.Order{
		ID: "o-int", CustomerID: "u-int",
		Items:    []order.OrderItem{{ProductID: "p1", Quantity: 2}},
		Subtotal: decimal.NewFromInt(20), Total: decimal.NewFromInt(20),
		Status: order.StatusPending, CreatedAt: now,
	}
	require.NoError(t, orders.Create(ctx, o))
	require.NoError(t, orders.UpdateStatus(ctx, "o-int", order.StatusDelivered))
	require.ErrorIs(t, orders.UpdateStatus(ctx, "o-missing", order.StatusDelivered), order.ErrNotFound)

	delivered, err := rewards.FindDeliveredOrders(ctx)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, o.Items, delivered[0].Items)
	assert.True(t, decimal.NewFromInt(20).Equal(delivered[0].Total))
}

func TestRewardRepository_InsertSpinConcurrent(t *testing.T) {
	ctx := context.Background()
	rewards := NewRewardRepository(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	const spinners = 8
	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	errs := make(chan error, spinners)
	for i := range spinners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := rewards.InsertSpin(ctx, &reward.GameResult{
				ID:        fmt.Sprintf("g-race-%d", i),
				UserID:    "u-race",
				PrizeID:   "p1",
				PrizeName: "Race",
				PrizeType: reward.PrizeEmpty,
				CreatedAt: now,
			}, now.Add(-24*time.Hour))
			switch {
			case err == nil:
				won.Add(1)
			case !errors.Is(err, reward.ErrSpinUnavailable):
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), won.Load())

	results, err := rewards.FindGameResults(ctx, "u-race", time.Time{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
