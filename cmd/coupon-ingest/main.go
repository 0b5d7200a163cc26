// Command coupon-ingest bulk-creates coupons from gzip-compressed code lists.
//
// A code is imported when it appears in at least -min-files of the inputs.
// Every imported coupon shares the template given by flags and goes through
// the regular coupon engine, so codes are normalized and validated exactly as
// admin-created ones.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-rewards/internal/domain/coupon"
	"github.com/xenking/kart-rewards/internal/storage/postgres"
)

type options struct {
	databaseURL string
	minFiles    int
	workers     int

	typ         string
	value       string
	minOrder    string
	maxDiscount string
	usageLimit  int
	ttl         time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.minFiles, "min-files", 2, "number of files a code must appear in")
	flag.IntVar(&opts.workers, "workers", 8, "concurrent coupon inserts")
	flag.StringVar(&opts.typ, "type", string(coupon.TypePercentage), "coupon type: percentage, fixed_amount or free_shipping")
	flag.StringVar(&opts.value, "value", "10", "discount value")
	flag.StringVar(&opts.minOrder, "min-order", "0", "minimum order amount")
	flag.StringVar(&opts.maxDiscount, "max-discount", "", "maximum discount for percentage coupons (empty for none)")
	flag.IntVar(&opts.usageLimit, "usage-limit", 1, "redemptions per code (0 for unlimited)")
	flag.DurationVar(&opts.ttl, "ttl", 30*24*time.Hour, "coupon lifetime")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if flag.NArg() == 0 {
		lg.Fatal("At least one input file is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts, flag.Args()); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
	lg.Info("Coupon ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options, files []string) error {
	template, err := opts.draft(time.Now())
	if err != nil {
		return errors.Wrap(err, "coupon template")
	}
	if opts.minFiles < 1 {
		return errors.Errorf("min-files must be positive, got %d", opts.minFiles)
	}

	s := &scanner{
		lg:            lg,
		minFiles:      opts.minFiles,
		minLen:        4,
		maxLen:        32,
		capacity:      10_000_000,
		fpRate:        0.001,
		progressEvery: 1_000_000,
	}
	codes, err := s.Scan(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Codes qualified", zap.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(pool)
	existing, err := repo.Codes(ctx)
	if err != nil {
		return errors.Wrap(err, "load existing codes")
	}

	w := &writer{
		lg:       lg,
		coupons:  coupon.NewEngine(repo),
		template: template,
		workers:  opts.workers,
	}
	stats, err := w.Write(ctx, codes, existing)
	if err != nil {
		return err
	}
	lg.Info("Coupons written",
		zap.Int64("created", stats.created.Load()),
		zap.Int64("skipped", stats.skipped.Load()),
	)
	return nil
}

func (o options) draft(now time.Time) (coupon.Draft, error) {
	d := coupon.Draft{
		Type:      coupon.Type(o.typ),
		ExpiresAt: now.Add(o.ttl),
		Active:    true,
	}
	var err error
	if d.Value, err = decimal.NewFromString(o.value); err != nil {
		return d, errors.Wrap(err, "value")
	}
	if d.MinimumOrderAmount, err = decimal.NewFromString(o.minOrder); err != nil {
		return d, errors.Wrap(err, "min-order")
	}
	if o.maxDiscount != "" {
		v, err := decimal.NewFromString(o.maxDiscount)
		if err != nil {
			return d, errors.Wrap(err, "max-discount")
		}
		d.MaximumDiscount = &v
	}
	if o.usageLimit > 0 {
		limit := o.usageLimit
		d.UsageLimit = &limit
	}
	return d, nil
}

// creator is satisfied by *coupon.Engine.
type creator interface {
	Create(ctx context.Context, d coupon.Draft) (*coupon.Coupon, error)
}

type writeStats struct {
	created atomic.Int64
	skipped atomic.Int64
}

type writer struct {
	lg       *zap.Logger
	coupons  creator
	template coupon.Draft
	workers  int
}

// Write creates a coupon per code. Codes already in existing, or taken by a
// concurrent writer, are skipped.
func (w *writer) Write(ctx context.Context, codes, existing []string) (*writeStats, error) {
	taken := make(map[string]struct{}, len(existing))
	for _, code := range existing {
		taken[code] = struct{}{}
	}

	stats := &writeStats{}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(w.workers, 1))
	for _, code := range codes {
		if _, ok := taken[code]; ok {
			stats.skipped.Add(1)
			continue
		}
		g.Go(func() error {
			d := w.template
			d.Code = code
			_, err := w.coupons.Create(ctx, d)
			var draftErr *coupon.DraftError
			switch {
			case err == nil:
				stats.created.Add(1)
			case errors.Is(err, coupon.ErrCodeTaken):
				stats.skipped.Add(1)
			case errors.As(err, &draftErr):
				w.lg.Warn("Rejected code", zap.String("code", code), zap.Error(err))
				stats.skipped.Add(1)
			default:
				return errors.Wrapf(err, "create coupon %s", code)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}
