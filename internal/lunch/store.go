package lunch

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryStore keeps locations and orders in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	locations map[string]Location
	orders    map[string][]Order
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: make(map[string]Location),
		orders:    make(map[string][]Order),
	}
}

func (m *MemoryStore) AddLocation(_ context.Context, loc Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.ID] = loc
	return nil
}

func (m *MemoryStore) Location(_ context.Context, id string) (Location, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[id]
	return loc, ok, nil
}

func (m *MemoryStore) ListLocations(_ context.Context) ([]Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Location, 0, len(m.locations))
	for _, loc := range m.locations {
		out = append(out, loc)
	}
	sortLocations(out)
	return out, nil
}

func (m *MemoryStore) AddOrder(_ context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.LocationID] = append(m.orders[o.LocationID], o)
	return nil
}

func (m *MemoryStore) ListOrders(_ context.Context, locationID string) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Order{}, m.orders[locationID]...), nil
}

// RedisStore keeps locations in a hash and orders in one list per location.
// Keys expire after TTL so yesterday's trips age out on their own.
type RedisStore struct {
	R      *redis.Client
	Prefix string
	TTL    time.Duration
}

func (s RedisStore) prefix() string {
	if s.Prefix == "" {
		return "lunch"
	}
	return s.Prefix
}

func (s RedisStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 48 * time.Hour
	}
	return s.TTL
}

func (s RedisStore) locationsKey() string { return s.prefix() + ":locations" }

func (s RedisStore) ordersKey(locationID string) string {
	return s.prefix() + ":orders:" + locationID
}

func (s RedisStore) AddLocation(ctx context.Context, loc Location) error {
	raw, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	_, err = s.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.locationsKey(), loc.ID, raw)
		p.Expire(ctx, s.locationsKey(), s.ttl())
		return nil
	})
	return err
}

func (s RedisStore) Location(ctx context.Context, id string) (Location, bool, error) {
	raw, err := s.R.HGet(ctx, s.locationsKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, err
	}
	var loc Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return Location{}, false, err
	}
	return loc, true, nil
}

func (s RedisStore) ListLocations(ctx context.Context) ([]Location, error) {
	values, err := s.R.HVals(ctx, s.locationsKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]Location, 0, len(values))
	for _, raw := range values {
		var loc Location
		if err := json.Unmarshal([]byte(raw), &loc); err != nil {
			continue
		}
		out = append(out, loc)
	}
	sortLocations(out)
	return out, nil
}

func (s RedisStore) AddOrder(ctx context.Context, o Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	key := s.ordersKey(o.LocationID)
	_, err = s.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, raw)
		p.Expire(ctx, key, s.ttl())
		return nil
	})
	return err
}

func (s RedisStore) ListOrders(ctx context.Context, locationID string) ([]Order, error) {
	values, err := s.R.LRange(ctx, s.ordersKey(locationID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]Order, 0, len(values))
	for _, raw := range values {
		var o Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func sortLocations(locs []Location) {
	sort.SliceStable(locs, func(i, j int) bool {
		if locs[i].CreatedAt.Equal(locs[j].CreatedAt) {
			return locs[i].ID < locs[j].ID
		}
		return locs[i].CreatedAt.Before(locs[j].CreatedAt)
	})
}
