package reward

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// UserRank returns the user's position by total delivered spend, or nil when
// the user has no delivered orders.
//
// Every call aggregates all delivered orders.
func (e *Engine) UserRank(ctx context.Context, userID string) (*Rank, error) {
	ranks, err := e.ranks(ctx)
	if err != nil {
		return nil, err
	}

	i := slices.IndexFunc(ranks, func(r Rank) bool { return r.CustomerID == userID })
	if i < 0 {
		return nil, nil
	}
	rank := ranks[i]
	if rank.Profile, err = e.store.FindCustomerProfile(ctx, userID); err != nil {
		return nil, errors.Wrap(err, "find customer profile")
	}
	return &rank, nil
}

// Leaderboard returns the top limit customers by total delivered spend.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]Rank, error) {
	ranks, err := e.ranks(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ranks) > limit {
		ranks = ranks[:limit]
	}
	for i := range ranks {
		p, err := e.store.FindCustomerProfile(ctx, ranks[i].CustomerID)
		if err != nil {
			return nil, errors.Wrapf(err, "find profile for %s", ranks[i].CustomerID)
		}
		ranks[i].Profile = p
	}
	return ranks, nil
}

// ranks aggregates delivered orders per customer, ordered by total spend
// descending with ties broken by customer id.
func (e *Engine) ranks(ctx context.Context) ([]Rank, error) {
	orders, err := e.store.FindDeliveredOrders(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "find delivered orders")
	}

	byCustomer := make(map[string]*Rank)
	for _, o := range orders {
		r, ok := byCustomer[o.CustomerID]
		if !ok {
			r = &Rank{CustomerID: o.CustomerID, TotalSpent: decimal.Zero}
			byCustomer[o.CustomerID] = r
		}
		r.TotalSpent = r.TotalSpent.Add(o.Total)
		r.OrderCount++
	}

	ranks := make([]Rank, 0, len(byCustomer))
	for _, r := range byCustomer {
		ranks = append(ranks, *r)
	}
	slices.SortFunc(ranks, func(a, b Rank) int {
		if c := b.TotalSpent.Cmp(a.TotalSpent); c != 0 {
			return c
		}
		return strings.Compare(a.CustomerID, b.CustomerID)
	})
	for i := range ranks {
		ranks[i].Position = i + 1
	}
	return ranks, nil
}
