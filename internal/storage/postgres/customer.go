package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-rewards/internal/domain/reward"
)

const (
	getCustomerProfileSQL = `SELECT first_name, last_name, photo_url FROM customers WHERE id = $1`

	getCustomerPointsSQL = `SELECT reward_points FROM customers WHERE id = $1`

	creditPointsSQL = `INSERT INTO customers (id, reward_points) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET reward_points = customers.reward_points + EXCLUDED.reward_points`

	upsertCustomerSQL = `INSERT INTO customers (id, first_name, last_name, photo_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name, photo_url = EXCLUDED.photo_url`
)

var _ reward.PointsCreditor = (*CustomerRepository)(nil)

// CustomerRepository stores customer profiles and loyalty balances.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// CreditPoints adds points to the customer's balance, creating the customer
// row when it does not exist yet.
func (r *CustomerRepository) CreditPoints(ctx context.Context, userID string, points int64) error {
	if _, err := r.pool.Exec(ctx, creditPointsSQL, userID, points); err != nil {
		return errors.Wrapf(err, "credit %d points to %q", points, userID)
	}
	return nil
}

// Points returns the customer's balance. Unknown customers have zero points.
func (r *CustomerRepository) Points(ctx context.Context, userID string) (int64, error) {
	var points int64
	err := r.pool.QueryRow(ctx, getCustomerPointsSQL, userID).Scan(&points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "get points for %q", userID)
	}
	return points, nil
}

// Profile returns the customer's public profile, or nil for unknown customers.
func (r *CustomerRepository) Profile(ctx context.Context, userID string) (*reward.Profile, error) {
	var p reward.Profile
	err := r.pool.QueryRow(ctx, getCustomerProfileSQL, userID).Scan(&p.FirstName, &p.LastName, &p.PhotoURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get profile for %q", userID)
	}
	return &p, nil
}

// Upsert creates or renames a customer without touching the points balance.
func (r *CustomerRepository) Upsert(ctx context.Context, id string, p reward.Profile) error {
	if _, err := r.pool.Exec(ctx, upsertCustomerSQL, id, p.FirstName, p.LastName, p.PhotoURL); err != nil {
		return errors.Wrapf(err, "upsert customer %q", id)
	}
	return nil
}
