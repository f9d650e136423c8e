package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable indicates the DLQ store dependency is not configured.
	ErrStoreUnavailable = errors.New("queue: store unavailable")
	// ErrDLQEntryNotFound is returned when no DLQ entry carries the given ID.
	ErrDLQEntryNotFound = errors.New("queue: dlq entry not found")
)

// Store provides accessors for dead-lettered tasks.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
	QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error)
}

// DLQEntry is a task that exhausted its attempts or failed permanently.
// Payload holds the encoded queue message so it can be replayed as-is.
type DLQEntry struct {
	ID             uuid.UUID `json:"id"`
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Payload        []byte    `json:"payload"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewStore constructs a Store that keeps DLQ entries in Redis: a hash of
// encoded entries plus sorted-set indexes (global and per kind) ordered by
// creation time.
func NewStore(client *redis.Client, prefix string) Store {
	if strings.TrimSpace(prefix) == "" {
		prefix = "queue"
	}
	return &redisStore{r: client, prefix: prefix}
}

type redisStore struct {
	r      *redis.Client
	prefix string
}

func (s *redisStore) entriesKey() string { return s.prefix + ":dlq:entries" }

func (s *redisStore) indexKey(kind string) string {
	if kind == "" {
		return s.prefix + ":dlq:index"
	}
	return fmt.Sprintf("%s:dlq:index:%s", s.prefix, kind)
}

// InsertQueueDlq persists a DLQ entry and returns the generated identifier.
func (s *redisStore) InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error) {
	if s == nil || s.r == nil {
		return uuid.Nil, ErrStoreUnavailable
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return uuid.Nil, err
	}
	id := entry.ID.String()
	score := float64(entry.CreatedAt.UnixNano())
	_, err = s.r.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.entriesKey(), id, raw)
		p.ZAdd(ctx, s.indexKey(""), redis.Z{Score: score, Member: id})
		p.ZAdd(ctx, s.indexKey(entry.Kind), redis.Z{Score: score, Member: id})
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return entry.ID, nil
}

// DeleteQueueDlq removes a DLQ entry by ID. Missing entries are ignored.
func (s *redisStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.r == nil {
		return ErrStoreUnavailable
	}
	entry, err := s.GetQueueDlq(ctx, id)
	if errors.Is(err, ErrDLQEntryNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	member := id.String()
	_, err = s.r.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, s.entriesKey(), member)
		p.ZRem(ctx, s.indexKey(""), member)
		p.ZRem(ctx, s.indexKey(entry.Kind), member)
		return nil
	})
	return err
}

// GetQueueDlq fetches a DLQ entry by ID.
func (s *redisStore) GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	if s == nil || s.r == nil {
		return DLQEntry{}, ErrStoreUnavailable
	}
	raw, err := s.r.HGet(ctx, s.entriesKey(), id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return DLQEntry{}, ErrDLQEntryNotFound
	}
	if err != nil {
		return DLQEntry{}, err
	}
	var entry DLQEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return DLQEntry{}, err
	}
	return entry, nil
}

// ListQueueDlq fetches DLQ entries, newest first, filtered by kind with pagination.
func (s *redisStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	if s == nil || s.r == nil {
		return nil, ErrStoreUnavailable
	}
	limit = clampPositive(limit, 1, 500)
	if offset < 0 {
		offset = 0
	}
	ids, err := s.r.ZRevRange(ctx, s.indexKey(strings.TrimSpace(kind)), int64(offset), int64(offset+limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(ids) == 0 {
		return []DLQEntry{}, nil
	}
	values, err := s.r.HMGet(ctx, s.entriesKey(), ids...).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]DLQEntry, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var entry DLQEntry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// CountQueueDlq counts DLQ items optionally filtered by kind.
func (s *redisStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	if s == nil || s.r == nil {
		return 0, ErrStoreUnavailable
	}
	total, err := s.r.ZCard(ctx, s.indexKey(strings.TrimSpace(kind))).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return total, nil
}

// QueueDlqSizeByKind returns aggregated DLQ sizes per kind.
func (s *redisStore) QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error) {
	if s == nil || s.r == nil {
		return nil, ErrStoreUnavailable
	}
	values, err := s.r.HVals(ctx, s.entriesKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	result := make(map[string]int64)
	for _, raw := range values {
		var entry DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		result[entry.Kind]++
	}
	return result, nil
}

func clampPositive(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
