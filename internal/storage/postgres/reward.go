package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-rewards/internal/domain/order"
	"github.com/xenking/kart-rewards/internal/domain/reward"
)

const (
	gameResultColumns = `id, user_id, prize_id, prize_name, prize_value, prize_type,
		coupon_code, redeemed, created_at`

	findGameResultsSQL = `SELECT ` + gameResultColumns + ` FROM game_results
		WHERE user_id = $1 AND created_at > $2
		ORDER BY created_at DESC`

	insertGameResultSQL = `INSERT INTO game_results (` + gameResultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	lockUserSpinsSQL = `SELECT pg_advisory_xact_lock(hashtextextended('game_results:' || $1, 0))`

	insertSpinSQL = `INSERT INTO game_results (` + gameResultColumns + `)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::numeric, $6::text, $7::text, $8::boolean, $9::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM game_results WHERE user_id = $2 AND created_at > $10
		)`

	prizeColumns = `id, name, type, value, coupon_code, color`

	listPrizesSQL = `SELECT ` + prizeColumns + ` FROM prizes ORDER BY position, id`

	upsertPrizeSQL = `INSERT INTO prizes (` + prizeColumns + `, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type,
			value = EXCLUDED.value, coupon_code = EXCLUDED.coupon_code,
			color = EXCLUDED.color, position = EXCLUDED.position`
)

var _ reward.Store = (*RewardRepository)(nil)

// RewardRepository implements reward.Store backed by PostgreSQL.
type RewardRepository struct {
	pool      *pgxpool.Pool
	orders    *OrderRepository
	customers *CustomerRepository
}

// NewRewardRepository returns a RewardRepository that uses the given pool.
func NewRewardRepository(pool *pgxpool.Pool) *RewardRepository {
	return &RewardRepository{
		pool:      pool,
		orders:    NewOrderRepository(pool),
		customers: NewCustomerRepository(pool),
	}
}

// FindGameResults returns the user's results created after since, newest first.
func (r *RewardRepository) FindGameResults(ctx context.Context, userID string, since time.Time) ([]reward.GameResult, error) {
	rows, err := r.pool.Query(ctx, findGameResultsSQL, userID, since)
	if err != nil {
		return nil, errors.Wrapf(err, "find game results for %q", userID)
	}
	return pgx.CollectRows(rows, scanGameResult)
}

// InsertGameResult stores a spin.
func (r *RewardRepository) InsertGameResult(ctx context.Context, g *reward.GameResult) error {
	_, err := r.pool.Exec(ctx, insertGameResultSQL,
		g.ID, g.UserID, g.PrizeID, g.PrizeName, g.PrizeValue, string(g.PrizeType),
		g.CouponCode, g.Redeemed, g.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert game result %q", g.ID)
	}
	return nil
}

// InsertSpin stores a spin unless the user already spun after since. A
// per-user advisory lock serializes concurrent spins of the same user.
func (r *RewardRepository) InsertSpin(ctx context.Context, g *reward.GameResult, since time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockUserSpinsSQL, g.UserID); err != nil {
			return errors.Wrapf(err, "lock spins for %q", g.UserID)
		}
		tag, err := tx.Exec(ctx, insertSpinSQL,
			g.ID, g.UserID, g.PrizeID, g.PrizeName, g.PrizeValue, string(g.PrizeType),
			g.CouponCode, g.Redeemed, g.CreatedAt, since,
		)
		if err != nil {
			return errors.Wrapf(err, "insert spin %q", g.ID)
		}
		if tag.RowsAffected() == 0 {
			return reward.ErrSpinUnavailable
		}
		return nil
	})
}

// ListPrizes returns the prize catalog in wheel order.
func (r *RewardRepository) ListPrizes(ctx context.Context) ([]reward.Prize, error) {
	rows, err := r.pool.Query(ctx, listPrizesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list prizes")
	}
	return pgx.CollectRows(rows, scanPrize)
}

// UpsertPrize inserts or replaces a catalog entry at the given wheel position.
func (r *RewardRepository) UpsertPrize(ctx context.Context, p reward.Prize, position int) error {
	_, err := r.pool.Exec(ctx, upsertPrizeSQL,
		p.ID, p.Name, string(p.Type), p.Value, p.CouponCode, p.Color, position,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert prize %q", p.ID)
	}
	return nil
}

// FindDeliveredOrders returns every delivered order.
func (r *RewardRepository) FindDeliveredOrders(ctx context.Context) ([]order.Order, error) {
	return r.orders.ListByStatus(ctx, order.StatusDelivered)
}

// FindCustomerProfile returns the customer's profile or nil.
func (r *RewardRepository) FindCustomerProfile(ctx context.Context, userID string) (*reward.Profile, error) {
	return r.customers.Profile(ctx, userID)
}

func scanGameResult(row pgx.CollectableRow) (reward.GameResult, error) {
	var (
		g         reward.GameResult
		prizeType string
	)
	err := row.Scan(
		&g.ID, &g.UserID, &g.PrizeID, &g.PrizeName, &g.PrizeValue, &prizeType,
		&g.CouponCode, &g.Redeemed, &g.CreatedAt,
	)
	g.PrizeType = reward.PrizeType(prizeType)
	return g, err
}

func scanPrize(row pgx.CollectableRow) (reward.Prize, error) {
	var (
		p   reward.Prize
		typ string
	)
	err := row.Scan(&p.ID, &p.Name, &typ, &p.Value, &p.CouponCode, &p.Color)
	p.Type = reward.PrizeType(typ)
	return p, err
}
