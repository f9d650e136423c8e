package queue_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lunch/internal/queue"
)

func newRedisStore(t *testing.T) queue.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewStore(client, "test")
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	lastErr := "503 Service Unavailable"
	id, err := store.InsertQueueDlq(ctx, queue.DLQEntry{
		Kind:           "order-submit",
		IdempotencyKey: "k1",
		Payload:        []byte(`{"kind":"order-submit"}`),
		Attempts:       3,
		LastError:      &lastErr,
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	entry, err := store.GetQueueDlq(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "order-submit", entry.Kind)
	require.Equal(t, "k1", entry.IdempotencyKey)
	require.Equal(t, 3, entry.Attempts)
	require.Equal(t, lastErr, *entry.LastError)
	require.False(t, entry.CreatedAt.IsZero())

	require.NoError(t, store.DeleteQueueDlq(ctx, id))
	_, err = store.GetQueueDlq(ctx, id)
	require.ErrorIs(t, err, queue.ErrDLQEntryNotFound)

	count, err := store.CountQueueDlq(ctx, "order-submit")
	require.NoError(t, err)
	require.Zero(t, count)

	// deleting twice is harmless
	require.NoError(t, store.DeleteQueueDlq(ctx, id))
}

func TestRedisStoreListNewestFirstByKind(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := store.InsertQueueDlq(ctx, queue.DLQEntry{
			Kind:      "order-submit",
			Payload:   []byte("x"),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := store.InsertQueueDlq(ctx, queue.DLQEntry{Kind: "lunch-order", Payload: []byte("y")})
	require.NoError(t, err)

	page, err := store.ListQueueDlq(ctx, "order-submit", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[2], page[0].ID)
	require.Equal(t, ids[1], page[1].ID)

	rest, err := store.ListQueueDlq(ctx, "order-submit", 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, ids[0], rest[0].ID)

	all, err := store.ListQueueDlq(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)

	sizes, err := store.QueueDlqSizeByKind(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"order-submit": 3, "lunch-order": 1}, sizes)

	total, err := store.CountQueueDlq(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(4), total)
}
