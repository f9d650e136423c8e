package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream holding the domain event log.
const DefaultStream = "lunch:events"

// RedisStreamStore appends events to a capped Redis stream.
type RedisStreamStore struct {
	R      *redis.Client
	Stream string
	MaxLen int64
}

func (s RedisStreamStore) stream() string {
	if s.Stream == "" {
		return DefaultStream
	}
	return s.Stream
}

// Append writes ev with XADD. The stream entry id becomes the event id.
func (s RedisStreamStore) Append(ctx context.Context, ev Event) (Event, error) {
	if s.R == nil {
		return Event{}, errors.New("events: redis client not configured")
	}
	args := &redis.XAddArgs{
		Stream: s.stream(),
		Values: map[string]any{
			"topic":        ev.Topic,
			"aggregate_id": ev.AggregateID,
			"payload":      string(ev.Payload),
			"occurred_at":  ev.OccurredAt.UnixMilli(),
		},
	}
	if s.MaxLen > 0 {
		args.MaxLen = s.MaxLen
		args.Approx = true
	}
	id, err := s.R.XAdd(ctx, args).Result()
	if err != nil {
		return Event{}, err
	}
	ev.ID = id
	return ev, nil
}

// Recent returns up to n events, newest first.
func (s RedisStreamStore) Recent(ctx context.Context, n int64) ([]Event, error) {
	if s.R == nil {
		return nil, errors.New("events: redis client not configured")
	}
	if n <= 0 {
		n = 50
	}
	msgs, err := s.R.XRevRangeN(ctx, s.stream(), "+", "-", n).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := decodeMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("events: decode %s: %w", msg.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeMessage(msg redis.XMessage) (Event, error) {
	ev := Event{ID: msg.ID}
	ev.Topic, _ = msg.Values["topic"].(string)
	ev.AggregateID, _ = msg.Values["aggregate_id"].(string)
	if raw, ok := msg.Values["payload"].(string); ok {
		if !json.Valid([]byte(raw)) {
			return Event{}, errors.New("payload is not valid json")
		}
		ev.Payload = json.RawMessage(raw)
	}
	if raw, ok := msg.Values["occurred_at"].(string); ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Event{}, err
		}
		ev.OccurredAt = time.UnixMilli(ms).UTC()
	}
	return ev, nil
}

// MemoryStore keeps events in process. Used when Redis is not configured.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryStore) Append(_ context.Context, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = uuid.NewString()
	m.events = append(m.events, ev)
	return ev, nil
}

// Events returns a copy of everything appended so far.
func (m *MemoryStore) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Recent returns up to n events, newest first.
func (m *MemoryStore) Recent(_ context.Context, n int64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		n = 50
	}
	out := make([]Event, 0, min(int(n), len(m.events)))
	for i := len(m.events) - 1; i >= 0 && int64(len(out)) < n; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}
