package cart_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lunch/internal/cart"
	"github.com/noah-isme/backend-lunch/internal/events"
	"github.com/noah-isme/backend-lunch/internal/lock"
	"github.com/noah-isme/backend-lunch/internal/notify"
	"github.com/noah-isme/backend-lunch/internal/order"
)

func confirmAll() order.Submitter {
	return order.SubmitterFunc(func(ctx context.Context, snap order.Snapshot) (order.Receipt, error) {
		return order.Receipt{Reference: "REF-" + snap.ID}, nil
	})
}

func TestCheckoutSnapshotsAndEmptiesCart(t *testing.T) {
	at := time.Date(2026, 5, 4, 11, 45, 0, 0, time.UTC)
	s := openStore(t, cart.Config{Submitter: confirmAll(), Now: func() time.Time { return at }, Scope: "desk-4"})
	ctx := context.Background()

	s.Add(ctx, line("sandwich-1", "A", "6.50", 2))
	s.Add(ctx, line("soup-1", "B", "4.50", 1))

	snap, err := s.Checkout(ctx)
	require.NoError(t, err)
	requireMoney(t, "17.50", snap.Subtotal)
	require.Equal(t, order.StatusConfirmed, snap.Status)
	require.Equal(t, at, snap.OrderDate)
	require.Equal(t, "desk-4", snap.CartKey)
	require.Len(t, snap.Items, 2)
	require.NotEmpty(t, snap.IdempotencyKey)
	require.Equal(t, "REF-"+snap.ID, snap.Reference)

	require.Zero(t, s.Len())
	require.Zero(t, s.Count())
	require.True(t, s.Total().IsZero())
}

func TestCheckoutUsesReceiptStatus(t *testing.T) {
	sub := order.SubmitterFunc(func(context.Context, order.Snapshot) (order.Receipt, error) {
		return order.Receipt{Status: order.StatusPending}, nil
	})
	s := openStore(t, cart.Config{Submitter: sub})
	s.Add(context.Background(), line("drink-2", "Koffie", "2.75", 1))

	snap, err := s.Checkout(context.Background())
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, snap.Status)
}

func TestCheckoutEmptyCartConfirmsZeroSubtotal(t *testing.T) {
	out := &notify.Outbox{}
	var got order.Snapshot
	sub := order.SubmitterFunc(func(_ context.Context, snap order.Snapshot) (order.Receipt, error) {
		got = snap
		return order.Receipt{}, nil
	})
	s := openStore(t, cart.Config{Submitter: sub, Notifier: out})

	snap, err := s.Checkout(context.Background())
	require.NoError(t, err)
	require.Equal(t, order.StatusConfirmed, snap.Status)
	require.True(t, snap.Subtotal.IsZero())
	require.Empty(t, snap.Items)
	require.Equal(t, snap.ID, got.ID)
	for _, n := range out.All() {
		require.NotEqual(t, notify.SeverityError, n.Severity)
	}
}

func TestCheckoutFailureLeavesCartUntouched(t *testing.T) {
	cases := map[string]struct {
		err       error
		transient bool
	}{
		"permanent":    {err: order.Permanent(errors.New("kitchen closed")), transient: false},
		"transient":    {err: order.Transient(errors.New("503")), transient: true},
		"unclassified": {err: errors.New("connection reset"), transient: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			out := &notify.Outbox{}
			sub := order.SubmitterFunc(func(context.Context, order.Snapshot) (order.Receipt, error) {
				return order.Receipt{}, tc.err
			})
			s := openStore(t, cart.Config{Submitter: sub, Notifier: out})
			ctx := context.Background()
			s.Add(ctx, line("sandwich-1", "A", "6.50", 2))
			before := s.Items()

			_, err := s.Checkout(ctx)
			require.Error(t, err)
			require.Equal(t, tc.transient, order.IsTransient(err))
			require.Equal(t, !tc.transient, errors.Is(err, order.ErrPermanent))

			after := s.Items()
			require.Equal(t, len(before), len(after))
			require.Equal(t, before[0].ID, after[0].ID)
			require.Equal(t, before[0].Quantity, after[0].Quantity)

			last, ok := out.Last()
			require.True(t, ok)
			require.Equal(t, notify.SeverityError, last.Severity)
		})
	}
}

func TestCheckoutWithoutSubmitterIsPermanent(t *testing.T) {
	s := openStore(t, cart.Config{})
	s.Add(context.Background(), line("drink-2", "Koffie", "2.75", 1))
	_, err := s.Checkout(context.Background())
	require.ErrorIs(t, err, order.ErrPermanent)
	require.Equal(t, 1, s.Len())
}

func TestCheckoutTimesOut(t *testing.T) {
	sub := order.SubmitterFunc(func(ctx context.Context, _ order.Snapshot) (order.Receipt, error) {
		<-ctx.Done()
		return order.Receipt{}, ctx.Err()
	})
	s := openStore(t, cart.Config{Submitter: sub, Timeout: 20 * time.Millisecond})
	s.Add(context.Background(), line("drink-2", "Koffie", "2.75", 1))

	_, err := s.Checkout(context.Background())
	require.ErrorIs(t, err, order.ErrTransient)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, s.Count())
}

// blockingSubmitter parks every submission until released.
type blockingSubmitter struct {
	entered chan order.Snapshot
	release chan struct{}
}

func newBlockingSubmitter() *blockingSubmitter {
	return &blockingSubmitter{entered: make(chan order.Snapshot, 1), release: make(chan struct{})}
}

func (b *blockingSubmitter) Submit(ctx context.Context, snap order.Snapshot) (order.Receipt, error) {
	b.entered <- snap
	select {
	case <-b.release:
		return order.Receipt{Reference: "ok"}, nil
	case <-ctx.Done():
		return order.Receipt{}, ctx.Err()
	}
}

func TestConcurrentCheckoutIsRejected(t *testing.T) {
	sub := newBlockingSubmitter()
	s := openStore(t, cart.Config{Submitter: sub})
	ctx := context.Background()
	first := s.Add(ctx, line("sandwich-1", "A", "6.50", 2))

	type result struct {
		snap order.Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := s.Checkout(ctx)
		done <- result{snap, err}
	}()
	<-sub.entered

	_, err := s.Checkout(ctx)
	require.ErrorIs(t, err, cart.ErrCheckoutInProgress)

	// mutations stay allowed while the submission is outstanding
	s.SetQuantity(ctx, first.ID, 3)
	late := s.Add(ctx, line("dessert-2", "Brownie", "4.25", 1))

	close(sub.release)
	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.snap.Items, 1)
	require.Equal(t, 2, res.snap.Items[0].Quantity)
	requireMoney(t, "13.00", res.snap.Subtotal)

	items := s.Items()
	require.Len(t, items, 2)
	require.Equal(t, first.ID, items[0].ID)
	require.Equal(t, 1, items[0].Quantity)
	require.Equal(t, late.ID, items[1].ID)

	// the slot is free again
	_, err = s.Checkout(ctx)
	require.NoError(t, err)
	require.Zero(t, s.Len())
}

func TestCheckoutSlotIsReleasedAfterFailure(t *testing.T) {
	calls := 0
	sub := order.SubmitterFunc(func(context.Context, order.Snapshot) (order.Receipt, error) {
		calls++
		if calls == 1 {
			return order.Receipt{}, order.Transient(errors.New("busy"))
		}
		return order.Receipt{}, nil
	})
	s := openStore(t, cart.Config{Submitter: sub})
	ctx := context.Background()
	s.Add(ctx, line("soup-1", "B", "4.50", 1))

	_, err := s.Checkout(ctx)
	require.Error(t, err)
	snap, err := s.Checkout(ctx)
	require.NoError(t, err)
	require.Equal(t, order.StatusConfirmed, snap.Status)
	require.Zero(t, s.Len())
}

func TestRetriedCheckoutKeepsIdempotencyKey(t *testing.T) {
	var keys []string
	sub := order.SubmitterFunc(func(_ context.Context, snap order.Snapshot) (order.Receipt, error) {
		keys = append(keys, snap.IdempotencyKey)
		if len(keys) == 1 {
			return order.Receipt{}, order.Transient(errors.New("timeout"))
		}
		return order.Receipt{}, nil
	})
	s := openStore(t, cart.Config{Submitter: sub, Scope: "desk-1"})
	ctx := context.Background()
	s.Add(ctx, line("sandwich-1", "A", "6.50", 1, opt("bread-type", "white")))

	_, _ = s.Checkout(ctx)
	_, err := s.Checkout(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, keys[0], keys[1])
}

func TestCheckoutRespectsDistributedGuard(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := lock.Locker{R: client}

	s := openStore(t, cart.Config{Submitter: confirmAll(), Guard: locker, Key: "euricom-lunch-cart:desk-9"})
	ctx := context.Background()
	s.Add(ctx, line("soup-1", "B", "4.50", 1))

	release, ok, err := locker.TryLock(ctx, "checkout:euricom-lunch-cart:desk-9", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Checkout(ctx)
	require.ErrorIs(t, err, cart.ErrCheckoutInProgress)
	require.Equal(t, 1, s.Len())

	release()
	_, err = s.Checkout(ctx)
	require.NoError(t, err)
	require.False(t, mr.Exists("checkout:euricom-lunch-cart:desk-9"))
}

func TestCheckoutEmitsEvents(t *testing.T) {
	store := &events.MemoryStore{}
	out := &notify.Outbox{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{notify.EventNotifier{Target: out}}}
	s := openStore(t, cart.Config{Submitter: confirmAll(), Events: bus, Scope: "desk-2"})
	ctx := context.Background()
	s.Add(ctx, line("soup-1", "B", "4.50", 2))

	snap, err := s.Checkout(ctx)
	require.NoError(t, err)

	evs := store.Events()
	require.Len(t, evs, 1)
	require.Equal(t, events.TopicOrderConfirmed, evs[0].Topic)
	require.Equal(t, snap.ID, evs[0].AggregateID)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(evs[0].Payload, &payload))
	require.Equal(t, "desk-2", payload["cartKey"])
	require.Equal(t, float64(2), payload["count"])
	require.Equal(t, 9.0, payload["subtotal"])

	var confirmed bool
	for _, n := range out.All() {
		if n.Message == "Bestelling geplaatst!" {
			confirmed = true
			require.Equal(t, "desk-2", n.Scope)
		}
	}
	require.True(t, confirmed)
}
