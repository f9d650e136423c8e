package cart_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lunch/internal/cart"
	"github.com/noah-isme/backend-lunch/internal/notify"
	"github.com/noah-isme/backend-lunch/internal/pricing"
	"github.com/noah-isme/backend-lunch/internal/storage"
)

func seqIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("line-%d", n.Add(1)) }
}

func openStore(t *testing.T, cfg cart.Config) *cart.Store {
	t.Helper()
	if cfg.Storage == nil {
		cfg.Storage = storage.NewMemory()
	}
	if cfg.NewID == nil {
		cfg.NewID = seqIDs()
	}
	s, err := cart.Open(context.Background(), cfg)
	require.NoError(t, err)
	return s
}

func line(menuItemID, name, price string, qty int, opts ...cart.SelectedOption) cart.LineItem {
	return cart.LineItem{
		MenuItemID:      menuItemID,
		Name:            name,
		Price:           pricing.MustParse(price),
		Quantity:        qty,
		SelectedOptions: opts,
	}
}

func opt(group string, choices ...string) cart.SelectedOption {
	return cart.SelectedOption{OptionID: group, ChoiceIDs: choices}
}

func requireMoney(t *testing.T, want string, got pricing.Money) {
	t.Helper()
	require.True(t, pricing.MustParse(want).Equal(got), "want %s got %s", want, got.String())
}

func TestDistinctAddsCountAndTotal(t *testing.T) {
	s := openStore(t, cart.Config{})
	ctx := context.Background()

	prices := []string{"6.50", "5.75", "7.50", "4.50", "2.75"}
	want := pricing.Zero
	for i, p := range prices {
		s.Add(ctx, line(fmt.Sprintf("item-%d", i), "x", p, 1))
		want = want.Add(pricing.MustParse(p))
	}
	require.Equal(t, len(prices), s.Count())
	require.Equal(t, len(prices), s.Len())
	require.True(t, want.Equal(s.Total()))
}

func TestAddMergesIdenticalConfiguration(t *testing.T) {
	s := openStore(t, cart.Config{})
	ctx := context.Background()

	first := s.Add(ctx, line("sandwich-1", "Club Sandwich", "7.00", 1, opt("bread-type", "white"), opt("extras", "extra-cheese")))
	second := s.Add(ctx, line("sandwich-1", "Club Sandwich", "7.00", 2, opt("bread-type", "white"), opt("extras", "extra-cheese")))

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 3, second.Quantity)
	require.Equal(t, 1, s.Len())
	require.Equal(t, 3, s.Count())
	requireMoney(t, "21.00", s.Total())
}

func TestAddMergeIgnoresSelectionOrder(t *testing.T) {
	s := openStore(t, cart.Config{})
	ctx := context.Background()

	s.Add(ctx, line("sandwich-1", "Club Sandwich", "8.50", 1,
		opt("bread-type", "wrap"), opt("extras", "extra-cheese", "avocado")))
	s.Add(ctx, line("sandwich-1", "Club Sandwich", "8.50", 1,
		opt("extras", "avocado", "extra-cheese", "avocado"), opt("bread-type", "wrap"), opt("sauce")))

	require.Equal(t, 1, s.Len())
	require.Equal(t, 2, s.Count())
}

func TestAddKeepsDifferentConfigurationsApart(t *testing.T) {
	s := openStore(t, cart.Config{})
	ctx := context.Background()

	s.Add(ctx, line("sandwich-1", "Club Sandwich", "6.50", 1, opt("bread-type", "white")))
	s.Add(ctx, line("sandwich-1", "Club Sandwich", "6.50", 1, opt("bread-type", "brown")))
	s.Add(ctx, line("sandwich-1", "Club Sandwich", "7.00", 1, opt("bread-type", "white"), opt("extras", "extra-cheese")))
	s.Add(ctx, line("sandwich-2", "Gezond", "5.75", 1))

	require.Equal(t, 4, s.Len())
	items := s.Items()
	require.Equal(t, "line-1", items[0].ID)
	require.Equal(t, "line-4", items[3].ID)
}

func TestSetQuantityZeroRemovesLine(t *testing.T) {
	s := openStore(t, cart.Config{})
	ctx := context.Background()

	a := s.Add(ctx, line("soup-1", "Tomatensoep", "4.50", 3))
	s.Add(ctx, line("drink-2", "Koffie", "2.75", 2))
	before := s.Count()

	require.True(t, s.SetQuantity(ctx, a.ID, 0))
	require.Equal(t, before-3, s.Count())
	require.Equal(t, 1, s.Len())

	require.False(t, s.SetQuantity(ctx, a.ID, 4))
	require.False(t, s.SetQuantity(ctx, "missing", -1))
}

func TestSetQuantityReplaces(t *testing.T) {
	s := openStore(t, cart.Config{})
	ctx := context.Background()

	a := s.Add(ctx, line("soup-1", "Tomatensoep", "4.50", 1))
	require.True(t, s.SetQuantity(ctx, a.ID, 5))
	require.Equal(t, 5, s.Count())
	requireMoney(t, "22.50", s.Total())
}

func TestRemoveMissingLeavesCartUnchanged(t *testing.T) {
	out := &notify.Outbox{}
	s := openStore(t, cart.Config{Notifier: out})
	ctx := context.Background()

	s.Add(ctx, line("soup-1", "Tomatensoep", "4.50", 2))
	out.Drain()
	total, n := s.Total(), s.Len()

	require.False(t, s.Remove(ctx, "nope"))
	require.Equal(t, n, s.Len())
	require.True(t, total.Equal(s.Total()))
	require.Empty(t, out.All())
}

func TestClearZeroesTotals(t *testing.T) {
	s := openStore(t, cart.Config{})
	ctx := context.Background()

	s.Clear(ctx)
	require.True(t, s.Total().IsZero())
	require.Zero(t, s.Count())

	s.Add(ctx, line("salad-1", "Caesar Salade", "8.95", 2))
	s.Add(ctx, line("dessert-1", "Tiramisu", "4.50", 1))
	s.Clear(ctx)
	require.True(t, s.Total().IsZero())
	require.Zero(t, s.Count())
	require.Empty(t, s.Items())
}

func TestEmptyCartTotals(t *testing.T) {
	s := openStore(t, cart.Config{})
	require.True(t, s.Total().IsZero())
	require.Zero(t, s.Count())
	require.NotNil(t, s.Items())
}

func TestNotifications(t *testing.T) {
	out := &notify.Outbox{}
	s := openStore(t, cart.Config{Notifier: out, Scope: "desk-4"})
	ctx := context.Background()

	a := s.Add(ctx, line("sandwich-3", "Zalm Deluxe", "7.50", 1))
	s.Remove(ctx, a.ID)
	s.Clear(ctx)

	got := out.All()
	require.Len(t, got, 3)
	require.Equal(t, notify.SeveritySuccess, got[0].Severity)
	require.Equal(t, "Zalm Deluxe toegevoegd aan je bestelling", got[0].Message)
	require.Equal(t, "desk-4", got[0].Scope)
	require.Equal(t, notify.Info("Item verwijderd uit je bestelling").Message, got[1].Message)
	require.Equal(t, notify.SeverityInfo, got[2].Severity)
	require.Equal(t, "Bestelling gewist", got[2].Message)
}

func TestAddAcceptsEmptyRequiredGroup(t *testing.T) {
	s := openStore(t, cart.Config{})
	ctx := context.Background()

	// the store does not know about required groups; the caller gates them
	added := s.Add(ctx, line("sandwich-1", "Club Sandwich", "6.50", 1, opt("bread-type")))
	require.NotEmpty(t, added.ID)
	require.Equal(t, 1, s.Count())
}

func TestAddClampsNonPositiveQuantity(t *testing.T) {
	s := openStore(t, cart.Config{})
	added := s.Add(context.Background(), line("drink-1", "Verse Jus", "3.50", 0))
	require.Equal(t, 1, added.Quantity)
}

func TestItemsReturnsCopies(t *testing.T) {
	s := openStore(t, cart.Config{})
	ctx := context.Background()
	s.Add(ctx, line("sandwich-1", "Club Sandwich", "6.50", 1, opt("bread-type", "white")))

	items := s.Items()
	items[0].Quantity = 99
	items[0].SelectedOptions[0].ChoiceIDs[0] = "brown"

	fresh := s.Items()
	require.Equal(t, 1, fresh[0].Quantity)
	require.Equal(t, "white", fresh[0].SelectedOptions[0].ChoiceIDs[0])
}

func TestPersistenceRoundTrip(t *testing.T) {
	kv := storage.NewMemory()
	ctx := context.Background()
	s := openStore(t, cart.Config{Storage: kv})

	s.Add(ctx, line("sandwich-1", "Club Sandwich", "8.50", 2, opt("bread-type", "wrap"), opt("extras", "extra-cheese", "avocado")))
	s.Add(ctx, line("soup-2", "Erwtensoep", "5.50", 1))
	want := s.Items()

	reopened := openStore(t, cart.Config{Storage: kv})
	got := reopened.Items()
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].ID, got[i].ID)
		require.Equal(t, want[i].MenuItemID, got[i].MenuItemID)
		require.Equal(t, want[i].Name, got[i].Name)
		require.Equal(t, want[i].Quantity, got[i].Quantity)
		require.True(t, want[i].Price.Equal(got[i].Price))
		require.Equal(t, want[i].SelectedOptions, got[i].SelectedOptions)
	}
	require.True(t, s.Total().Equal(reopened.Total()))
}

func TestPersistedFormat(t *testing.T) {
	kv := storage.NewMemory()
	ctx := context.Background()
	s := openStore(t, cart.Config{Storage: kv})
	s.Add(ctx, line("sandwich-1", "Club Sandwich", "6.50", 2, opt("bread-type", "white")))

	data, ok, err := kv.Get(ctx, cart.DefaultStorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `[{"id":"line-1","menuItemId":"sandwich-1","name":"Club Sandwich","price":6.5,"quantity":2,
		"selectedOptions":[{"optionId":"bread-type","choiceIds":["white"]}]}]`, string(data))
}

func TestOpenTreatsMalformedPayloadAsEmpty(t *testing.T) {
	ctx := context.Background()
	for _, payload := range []string{`{not json`, `{"id":"x"}`, `[{"id":"","quantity":1}]`, `[{"id":"a","quantity":0}]`} {
		kv := storage.NewMemory()
		require.NoError(t, kv.Set(ctx, cart.DefaultStorageKey, []byte(payload)))
		s := openStore(t, cart.Config{Storage: kv})
		require.Zero(t, s.Len(), payload)
	}
}

type failingKV struct {
	getErr error
	setErr error
}

func (f failingKV) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.getErr }
func (f failingKV) Set(context.Context, string, []byte) error       { return f.setErr }

func TestOpenReturnsReadErrors(t *testing.T) {
	_, err := cart.Open(context.Background(), cart.Config{Storage: failingKV{getErr: errors.New("redis down")}})
	require.Error(t, err)
}

func TestWriteFailuresDoNotBreakMutations(t *testing.T) {
	s := openStore(t, cart.Config{Storage: failingKV{setErr: errors.New("disk full")}})
	ctx := context.Background()

	s.Add(ctx, line("drink-2", "Koffie", "2.75", 2))
	require.Equal(t, 2, s.Count())
	require.Error(t, s.Flush(ctx))
}

func TestFlushWritesCurrentState(t *testing.T) {
	kv := storage.NewMemory()
	s := openStore(t, cart.Config{Storage: kv, Key: "custom"})
	ctx := context.Background()
	s.Add(ctx, line("drink-2", "Koffie", "2.75", 1))
	require.NoError(t, s.Flush(ctx))

	_, ok, err := kv.Get(ctx, "custom")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "custom", s.Key())
}

func TestViewIsConsistent(t *testing.T) {
	s := openStore(t, cart.Config{})
	ctx := context.Background()
	s.Add(ctx, line("sandwich-1", "Club Sandwich", "6.50", 2))
	s.Add(ctx, line("soup-1", "Tomatensoep", "4.50", 1))

	v := s.View()
	require.Len(t, v.Items, 2)
	require.Equal(t, 3, v.Count)
	requireMoney(t, "17.50", v.Subtotal)
}
