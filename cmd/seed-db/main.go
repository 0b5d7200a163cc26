// Command seed-db loads demo catalog, customers, coupons and the spin-wheel
// prize catalog. It is idempotent and can be re-run against a live database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-rewards/internal/domain/coupon"
	"github.com/xenking/kart-rewards/internal/domain/product"
	"github.com/xenking/kart-rewards/internal/domain/reward"
	"github.com/xenking/kart-rewards/internal/handler"
	"github.com/xenking/kart-rewards/internal/storage/postgres"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Image    struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

type customerSeed struct {
	ID      string
	Profile reward.Profile
}

var customers = []customerSeed{
	{ID: "customer-ada", Profile: reward.Profile{FirstName: "Ada", LastName: "Lovelace"}},
	{ID: "customer-alan", Profile: reward.Profile{FirstName: "Alan", LastName: "Turing"}},
	{ID: "customer-grace", Profile: reward.Profile{FirstName: "Grace", LastName: "Hopper"}},
}

func seedCoupons(now time.Time) []coupon.Draft {
	maxWelcome := decimal.NewFromInt(15)
	expires := now.AddDate(1, 0, 0)
	return []coupon.Draft{
		{
			Code:            "WELCOME20",
			Type:            coupon.TypePercentage,
			Value:           decimal.NewFromInt(20),
			MaximumDiscount: &maxWelcome,
			ExpiresAt:       expires,
			Active:          true,
		},
		{
			Code:               "SAVE10",
			Type:               coupon.TypeFixedAmount,
			Value:              decimal.NewFromInt(10),
			MinimumOrderAmount: decimal.NewFromInt(50),
			ExpiresAt:          expires,
			Active:             true,
		},
		{
			Code:      "FREESHIP",
			Type:      coupon.TypeFreeShipping,
			ExpiresAt: expires,
			Active:    true,
		},
	}
}

var prizes = []reward.Prize{
	{ID: "prize-try-again", Name: "Try again", Type: reward.PrizeEmpty, Color: "#9E9E9E"},
	{ID: "prize-points-50", Name: "50 points", Type: reward.PrizePoints, Value: decimal.NewFromInt(50), Color: "#FFC107"},
	{ID: "prize-pct-10", Name: "10% off", Type: reward.PrizeDiscountPercentage, Value: decimal.NewFromInt(10), CouponCode: "SPIN10", Color: "#4CAF50"},
	{ID: "prize-points-100", Name: "100 points", Type: reward.PrizePoints, Value: decimal.NewFromInt(100), Color: "#FF9800"},
	{ID: "prize-fixed-5", Name: "$5 off", Type: reward.PrizeDiscountFixed, Value: decimal.NewFromInt(5), CouponCode: "SPIN5OFF", Color: "#2196F3"},
	{ID: "prize-free-shipping", Name: "Free shipping", Type: reward.PrizeFreeShipping, CouponCode: "SPINSHIP", Color: "#9C27B0"},
}

func main() {
	var (
		databaseURL  string
		productsFile string
		jwtSecret    string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "print demo bearer tokens signed with this secret (or REWARDS_JWT_SECRET env)")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("REWARDS_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	if jwtSecret != "" {
		if err := printTokens(lg, []byte(jwtSecret)); err != nil {
			lg.Fatal("Issue demo tokens", zap.Error(err))
		}
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, lg, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	customerRepo := postgres.NewCustomerRepository(pool)
	for _, c := range customers {
		if err := customerRepo.Upsert(ctx, c.ID, c.Profile); err != nil {
			return err
		}
	}
	lg.Info("Upserted customers", zap.Int("count", len(customers)))

	engine := coupon.NewEngine(postgres.NewCouponRepository(pool))
	for _, d := range seedCoupons(time.Now()) {
		c, err := engine.Create(ctx, d)
		switch {
		case errors.Is(err, coupon.ErrCodeTaken):
			lg.Info("Coupon exists", zap.String("code", d.Code))
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", d.Code)
		default:
			lg.Info("Created coupon", zap.String("code", c.Code), zap.String("id", c.ID))
		}
	}

	rewardRepo := postgres.NewRewardRepository(pool)
	for i, p := range prizes {
		if err := rewardRepo.UpsertPrize(ctx, p, i); err != nil {
			return err
		}
	}
	lg.Info("Upserted prizes", zap.Int("count", len(prizes)))
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *postgres.ProductRepository, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	for _, p := range products {
		if err := repo.Upsert(ctx, product.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Category: p.Category,
			Image: product.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
		}); err != nil {
			return err
		}
	}
	lg.Info("Upserted products", zap.Int("count", len(products)), zap.String("path", path))
	return nil
}

func printTokens(lg *zap.Logger, secret []byte) error {
	authn := handler.NewAuthenticator(secret)
	for _, c := range customers {
		tok, err := authn.Issue(c.ID, false, 7*24*time.Hour)
		if err != nil {
			return err
		}
		lg.Info("Customer token", zap.String("customer_id", c.ID), zap.String("token", tok))
	}
	tok, err := authn.Issue("admin", true, 24*time.Hour)
	if err != nil {
		return err
	}
	lg.Info("Admin token", zap.String("token", tok))
	return nil
}
