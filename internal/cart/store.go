// Package cart owns the pending lunch order of one cart key: its line items,
// totals, persistence and checkout.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lunch/internal/events"
	"github.com/noah-isme/backend-lunch/internal/notify"
	"github.com/noah-isme/backend-lunch/internal/obs"
	"github.com/noah-isme/backend-lunch/internal/order"
	"github.com/noah-isme/backend-lunch/internal/pricing"
	"github.com/noah-isme/backend-lunch/internal/storage"
)

// DefaultStorageKey is the storage key used when Config.Key is empty.
const DefaultStorageKey = "euricom-lunch-cart"

// LineItem is one configured entry of the cart.
type LineItem = order.Line

// SelectedOption names an option group and the choices picked in it.
type SelectedOption = order.SelectedOption

// Guard provides a cross-process single-slot lock for checkout.
type Guard interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Config wires a Store. Only Storage is needed for a working cart; Submitter is
// required for Checkout.
type Config struct {
	// Key is the storage key of the serialized line items.
	Key string
	// Scope tags notifications and snapshots; usually the cart key without prefix.
	Scope     string
	Storage   storage.KV
	Notifier  notify.Notifier
	Submitter order.Submitter
	Guard     Guard
	Events    *events.Bus
	// Shared marks Storage as written by other processes too. The lines are
	// then reloaded before every mutation and checkout instead of trusting
	// the in-memory copy.
	Shared bool
	// Timeout bounds a checkout submission. Defaults to 10s.
	Timeout      time.Duration
	WriteTimeout time.Duration
	Log          zerolog.Logger
	Now          func() time.Time
	NewID        func() string
}

// Store is the cart. All methods are safe for concurrent use.
type Store struct {
	cfg Config

	mu    sync.Mutex
	items []LineItem
	// dirty is set while the last write of items failed.
	dirty bool

	inFlight atomic.Bool
}

// Open constructs a Store and loads any saved line items. A read failure is
// returned; a malformed payload is logged and the cart starts empty.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Key == "" {
		cfg.Key = DefaultStorageKey
	}
	if cfg.Storage == nil {
		cfg.Storage = storage.NewMemory()
	}
	cfg.Notifier = notify.OrNop(cfg.Notifier)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	s := &Store{cfg: cfg, items: []LineItem{}}
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// loadLocked replaces the in-memory lines with the saved ones. A missing key
// is an empty cart; a malformed payload is logged and treated as empty.
func (s *Store) loadLocked(ctx context.Context) error {
	data, ok, err := s.cfg.Storage.Get(ctx, s.cfg.Key)
	if err != nil {
		obs.CountStorageError("read")
		return fmt.Errorf("cart: load %s: %w", s.cfg.Key, err)
	}
	s.items = []LineItem{}
	s.dirty = false
	if !ok {
		return nil
	}
	items, err := decodeItems(data)
	if err != nil {
		s.cfg.Log.Warn().Err(err).Str("key", s.cfg.Key).Msg("cart: discarding malformed saved cart")
		return nil
	}
	s.items = items
	return nil
}

// refreshLocked reloads the lines when storage is shared.
func (s *Store) refreshLocked(ctx context.Context) error {
	if !s.cfg.Shared {
		return nil
	}
	return s.loadLocked(ctx)
}

// syncLocked is refreshLocked for mutations, which have no error path: on a
// failed read the mutation applies to the last known lines.
func (s *Store) syncLocked(ctx context.Context) {
	if err := s.refreshLocked(ctx); err != nil {
		s.cfg.Log.Warn().Err(err).Str("key", s.cfg.Key).Msg("cart: reload failed, using cached lines")
	}
}

// Refresh reloads the lines from shared storage. It is a no-op for a cart
// owned by this process alone.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func decodeItems(data []byte) ([]LineItem, error) {
	var items []LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make([]LineItem, 0, len(items))
	for i, it := range items {
		if it.ID == "" || it.Quantity < 1 {
			return nil, fmt.Errorf("line %d: missing id or non-positive quantity", i)
		}
		out = append(out, it)
	}
	return out, nil
}

// Key returns the storage key of the cart.
func (s *Store) Key() string { return s.cfg.Key }

// Add merges candidate into the line with the same configuration, or appends
// it under a new id. The resulting line is returned.
func (s *Store) Add(ctx context.Context, candidate LineItem) LineItem {
	if candidate.Quantity < 1 {
		candidate.Quantity = 1
	}
	s.mu.Lock()
	s.syncLocked(ctx)
	var result LineItem
	merged := false
	for i := range s.items {
		if sameConfiguration(s.items[i], candidate) {
			s.items[i].Quantity += candidate.Quantity
			result = s.items[i].Clone()
			merged = true
			break
		}
	}
	if !merged {
		line := candidate.Clone()
		line.ID = s.cfg.NewID()
		s.items = append(s.items, line)
		result = line.Clone()
	}
	s.persistLocked(ctx)
	s.mu.Unlock()

	obs.CountCartOp("add")
	s.notify(ctx, notify.Success(fmt.Sprintf("%s toegevoegd aan je bestelling", candidate.Name), ""))
	return result
}

// Remove deletes the line with the given id and reports whether it existed.
func (s *Store) Remove(ctx context.Context, lineID string) bool {
	s.mu.Lock()
	s.syncLocked(ctx)
	idx := s.indexLocked(lineID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.persistLocked(ctx)
	s.mu.Unlock()

	obs.CountCartOp("remove")
	s.notify(ctx, notify.Info("Item verwijderd uit je bestelling"))
	return true
}

// SetQuantity replaces the quantity of a line. A quantity of zero or less
// removes the line. It reports whether the line existed.
func (s *Store) SetQuantity(ctx context.Context, lineID string, quantity int) bool {
	if quantity <= 0 {
		return s.Remove(ctx, lineID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLocked(ctx)
	idx := s.indexLocked(lineID)
	if idx < 0 {
		return false
	}
	s.items[idx].Quantity = quantity
	s.persistLocked(ctx)
	obs.CountCartOp("set_quantity")
	return true
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.items = []LineItem{}
	s.persistLocked(ctx)
	s.mu.Unlock()

	obs.CountCartOp("clear")
	s.notify(ctx, notify.Info("Bestelling gewist"))
}

// Total is the sum of unit price times quantity over all lines.
func (s *Store) Total() pricing.Money {
	return s.summary().Subtotal
}

// Count is the sum of quantities over all lines.
func (s *Store) Count() int {
	return s.summary().Count
}

func (s *Store) summary() pricing.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return summarize(s.items)
}

func summarize(items []LineItem) pricing.Summary {
	priced := make([]pricing.Item, 0, len(items))
	for _, it := range items {
		priced = append(priced, pricing.Item{Qty: it.Quantity, UnitPrice: it.Price})
	}
	return pricing.Compute(priced)
}

// Items returns a copy of the lines in insertion order.
func (s *Store) Items() []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLines(s.items)
}

// View is a consistent read of the cart.
type View struct {
	Items    []LineItem    `json:"items"`
	Subtotal pricing.Money `json:"subtotal"`
	Count    int           `json:"count"`
}

// View returns the lines and their totals taken under one lock.
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := summarize(s.items)
	return View{Items: cloneLines(s.items), Subtotal: sum.Subtotal, Count: sum.Count}
}

// Len returns the number of distinct lines.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Flush writes the current lines synchronously and returns any storage error.
// A shared cart is only written when its last write failed, so a flush never
// replaces lines another process saved since.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Shared && !s.dirty {
		return nil
	}
	data, err := json.Marshal(s.items)
	if err != nil {
		return err
	}
	if err := s.cfg.Storage.Set(ctx, s.cfg.Key, data); err != nil {
		obs.CountStorageError("write")
		return fmt.Errorf("cart: flush %s: %w", s.cfg.Key, err)
	}
	s.dirty = false
	return nil
}

func (s *Store) indexLocked(lineID string) int {
	for i := range s.items {
		if s.items[i].ID == lineID {
			return i
		}
	}
	return -1
}

// persistLocked writes the full line sequence. Failures are logged only.
func (s *Store) persistLocked(ctx context.Context) {
	data, err := json.Marshal(s.items)
	if err != nil {
		s.cfg.Log.Error().Err(err).Str("key", s.cfg.Key).Msg("cart: encode failed")
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.cfg.Storage.Set(writeCtx, s.cfg.Key, data); err != nil {
		obs.CountStorageError("write")
		s.cfg.Log.Warn().Err(err).Str("key", s.cfg.Key).Msg("cart: persist failed")
		s.dirty = true
		return
	}
	s.dirty = false
}

func (s *Store) notify(ctx context.Context, n notify.Notification) {
	if n.Scope == "" {
		n.Scope = s.cfg.Scope
	}
	s.cfg.Notifier.Notify(ctx, n)
}

func cloneLines(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

var errNoSubmitter = errors.New("cart: order submitter not configured")
