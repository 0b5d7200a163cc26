package reward

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-rewards/internal/domain/order"
)

func deliveredOrders() []order.Order {
	return []order.Order{
		{ID: "o1", CustomerID: "alice", Total: dec("30.00")},
		{ID: "o2", CustomerID: "bob", Total: dec("120.50")},
		{ID: "o3", CustomerID: "alice", Total: dec("70.00")},
		{ID: "o4", CustomerID: "carol", Total: dec("100.00")},
		{ID: "o5", CustomerID: "dave", Total: dec("5.00")},
	}
}

func TestEngine_UserRank(t *testing.T) {
	f := newFixture("alice")
	f.store.delivered = deliveredOrders()
	f.store.profiles = map[string]*Profile{
		"carol": {FirstName: "Carol", LastName: "Danvers"},
	}

	tests := []struct {
		user     string
		position int
		total    string
		orders   int
		profile  bool
	}{
		{user: "bob", position: 1, total: "120.50", orders: 1},
		// alice and carol tie at 100; customer id breaks the tie.
		{user: "alice", position: 2, total: "100.00", orders: 2},
		{user: "carol", position: 3, total: "100.00", orders: 1, profile: true},
		{user: "dave", position: 4, total: "5.00", orders: 1},
	}

	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			got, err := f.engine.UserRank(context.Background(), tt.user)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.position, got.Position)
			assert.Equal(t, tt.orders, got.OrderCount)
			assert.True(t, dec(tt.total).Equal(got.TotalSpent), "total %s", got.TotalSpent)
			assert.Equal(t, tt.profile, got.Profile != nil)
		})
	}
}

func TestEngine_UserRank_NoDeliveredOrders(t *testing.T) {
	f := newFixture("eve")
	f.store.delivered = deliveredOrders()

	got, err := f.engine.UserRank(context.Background(), "eve")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEngine_UserRank_StoreError(t *testing.T) {
	f := newFixture("alice")
	f.store.ordersErr = errors.New("scan failed")

	_, err := f.engine.UserRank(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find delivered orders")
}

func TestEngine_Leaderboard(t *testing.T) {
	f := newFixture("alice")
	f.store.delivered = deliveredOrders()
	f.store.profiles = map[string]*Profile{
		"bob": {FirstName: "Bob"},
	}

	got, err := f.engine.Leaderboard(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bob", got[0].CustomerID)
	require.NotNil(t, got[0].Profile)
	assert.Equal(t, "Bob", got[0].Profile.FirstName)
	assert.Equal(t, "alice", got[1].CustomerID)
	assert.Equal(t, 2, got[1].Position)

	all, err := f.engine.Leaderboard(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
