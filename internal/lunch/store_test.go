package lunch_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lunch/internal/lunch"
)

func exerciseStore(t *testing.T, store lunch.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.AddLocation(ctx, lunch.Location{ID: "b", Name: "Frituur", CreatedAt: base.Add(time.Hour), MyOrder: "Frietjes"}))
	require.NoError(t, store.AddLocation(ctx, lunch.Location{ID: "a", Name: "Deli", CreatedAt: base, MyOrder: "Wrap"}))

	locs, err := store.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	require.Equal(t, "a", locs[0].ID)
	require.Equal(t, "b", locs[1].ID)

	loc, ok, err := store.Location(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Frituur", loc.Name)
	require.True(t, loc.CreatedAt.Equal(base.Add(time.Hour)))

	_, ok, err = store.Location(ctx, "zzz")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.AddOrder(ctx, lunch.Order{ID: "o1", LocationID: "a", UserName: "Piet", OrderText: "Club"}))
	require.NoError(t, store.AddOrder(ctx, lunch.Order{ID: "o2", LocationID: "a", UserName: "Sophie", OrderText: "Veggie"}))

	orders, err := store.ListOrders(ctx, "a")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "o1", orders[0].ID)
	require.Equal(t, "o2", orders[1].ID)

	empty, err := store.ListOrders(ctx, "b")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, lunch.NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := lunch.RedisStore{R: client, TTL: time.Hour}
	exerciseStore(t, store)

	require.Equal(t, time.Hour, mr.TTL("lunch:locations"))
	require.Equal(t, time.Hour, mr.TTL("lunch:orders:a"))

	mr.FastForward(2 * time.Hour)
	locs, err := store.ListLocations(context.Background())
	require.NoError(t, err)
	require.Empty(t, locs)
}
