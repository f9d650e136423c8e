package cart

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"
)

// ErrInvalidCartKey is returned for cart keys that are empty or contain
// characters outside [A-Za-z0-9._-].
var ErrInvalidCartKey = errors.New("cart: invalid cart key")

var cartKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

type openCart struct {
	store    *Store
	lastUsed time.Time
}

// Manager opens and caches one Store per cart key. Each cart is stored under
// DefaultStorageKey + ":" + cartKey. With base.Shared set, a cached cart is
// reloaded from storage every time it is handed out.
type Manager struct {
	base Config

	mu    sync.Mutex
	carts map[string]*openCart
}

// NewManager returns a Manager whose stores share base. Key and Scope are set per cart.
func NewManager(base Config) *Manager {
	return &Manager{base: base, carts: make(map[string]*openCart)}
}

// StorageKey returns the storage key of a cart key.
func StorageKey(cartKey string) string {
	return DefaultStorageKey + ":" + cartKey
}

func (m *Manager) now() time.Time {
	if m.base.Now != nil {
		return m.base.Now()
	}
	return time.Now()
}

// Get returns the store for cartKey, opening it on first use.
func (m *Manager) Get(ctx context.Context, cartKey string) (*Store, error) {
	if !cartKeyPattern.MatchString(cartKey) {
		return nil, ErrInvalidCartKey
	}
	m.mu.Lock()
	if c, ok := m.carts[cartKey]; ok {
		c.lastUsed = m.now()
		m.mu.Unlock()
		if err := c.store.Refresh(ctx); err != nil {
			return nil, err
		}
		return c.store, nil
	}
	defer m.mu.Unlock()
	cfg := m.base
	cfg.Key = StorageKey(cartKey)
	cfg.Scope = cartKey
	s, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.carts[cartKey] = &openCart{store: s, lastUsed: m.now()}
	return s, nil
}

// Len returns the number of open carts.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.carts)
}

// EvictIdle flushes and forgets carts not handed out for idle. Carts with a
// checkout in flight, or whose flush fails, stay open. It returns how many
// carts were evicted.
func (m *Manager) EvictIdle(ctx context.Context, idle time.Duration) (int, error) {
	if idle <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	defer m.mu.Unlock()
	var joined error
	evicted := 0
	for key, c := range m.carts {
		if c.lastUsed.After(cutoff) || c.store.inFlight.Load() {
			continue
		}
		if err := c.store.Flush(ctx); err != nil {
			joined = errors.Join(joined, err)
			continue
		}
		delete(m.carts, key)
		evicted++
	}
	return evicted, joined
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (m *Manager) RunEviction(ctx context.Context, idle, interval time.Duration, onError func(error)) {
	if idle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.EvictIdle(ctx, idle); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// FlushAll writes every open cart and joins the failures.
func (m *Manager) FlushAll(ctx context.Context) error {
	m.mu.Lock()
	stores := make([]*Store, 0, len(m.carts))
	for _, c := range m.carts {
		stores = append(stores, c.store)
	}
	m.mu.Unlock()

	var joined error
	for _, s := range stores {
		if err := s.Flush(ctx); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	return joined
}
