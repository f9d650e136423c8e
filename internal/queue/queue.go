package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lunch/internal/resilience"
)

const (
	defaultMaxAttempts = 10
	pollInterval       = 100 * time.Millisecond
	sweepInterval      = time.Second
)

var nopLogger = zerolog.Nop()

// Task is a unit of work. Attempt is 1-based when handed to a handler.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	Attempt        int
}

// taskMessage is the JSON member stored in the ready and processing sets.
type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

func (m taskMessage) task() Task {
	return Task{Kind: m.Kind, Payload: m.Payload, IdempotencyKey: m.Key, MaxAttempts: m.MaxAttempts, Attempt: m.Attempt}
}

func (m taskMessage) encode() (string, error) {
	raw, err := json.Marshal(m)
	return string(raw), err
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, fmt.Errorf("queue: decode message: %w", err)
	}
	return msg, nil
}

// keyspace names the Redis keys of one queue namespace:
//
//	<prefix>:queue:<kind>          ready tasks scored by due time (ns)
//	<prefix>:<kind>:processing     claimed tasks scored by visibility deadline
//	<prefix>:<kind>:dlq            fallback list when no Store is configured
//	<prefix>:dedup:<kind>:<key>    idempotency markers
type keyspace string

func (k keyspace) root() string {
	if k == "" {
		return "queue"
	}
	return string(k)
}

func (k keyspace) ready(kind string) string      { return k.root() + ":queue:" + kind }
func (k keyspace) processing(kind string) string { return k.root() + ":" + kind + ":processing" }
func (k keyspace) deadLetters(kind string) string {
	return k.root() + ":" + kind + ":dlq"
}
func (k keyspace) dedup(kind, key string) string { return k.root() + ":dedup:" + kind + ":" + key }

// validKind accepts lowercase letters, digits and - _ : only.
func validKind(kind string) bool {
	if kind == "" {
		return false
	}
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return false
		}
	}
	return true
}

func sanitizeKind(kind string) string {
	if !validKind(kind) {
		return ""
	}
	return kind
}

// Enqueuer publishes tasks to Redis backed queues.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue inserts the task. A task whose idempotency key is still pending is
// silently dropped; use EnqueueOnce to observe that.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	_, err := e.EnqueueOnce(ctx, t)
	return err
}

// EnqueueOnce inserts the task and reports whether it was accepted. False
// means a task with the same idempotency key has not finished yet.
func (e Enqueuer) EnqueueOnce(ctx context.Context, t Task) (bool, error) {
	if e.R == nil {
		return false, errors.New("queue: redis client not configured")
	}
	if !validKind(t.Kind) {
		return false, fmt.Errorf("queue: invalid task kind %q", t.Kind)
	}
	msg := taskMessage{
		Kind:        t.Kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     max(t.Attempt, 0),
		MaxAttempts: firstPositive(t.MaxAttempts, e.MaxAttempts, defaultMaxAttempts),
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	raw, err := msg.encode()
	if err != nil {
		return false, err
	}

	ks := keyspace(e.Prefix)
	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		fresh, err := e.R.SetNX(ctx, ks.dedup(msg.Kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return false, err
		}
		if !fresh {
			return false, nil
		}
	}
	if err := e.R.ZAdd(ctx, ks.ready(msg.Kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (e Enqueuer) queueKey(kind string) string { return keyspace(e.Prefix).ready(kind) }

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// claimScript pops the earliest task that is already due, leaving future
// retries in place.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
  return false
end
redis.call('ZREM', KEYS[1], due[1])
return due[1]
`)

// Worker consumes tasks of one kind.
//
// SoftDeadline bounds a single handler invocation. Retryable decides whether a
// failed task is retried; a nil func retries every error until MaxAttempts is
// reached. Exhausted or non-retryable tasks are written to Store when set and
// to a Redis list otherwise. A task whose handler outlives VisibilityTimeout
// is handed out again.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	SoftDeadline      time.Duration
	Handler           func(context.Context, Task) error
	Retryable         func(error) bool
	RetryBase         time.Duration
	RetryJitter       float64
	Store             Store
	Logger            *zerolog.Logger
}

// Run processes tasks until ctx is cancelled, then waits for in-flight
// handlers. It returns an error only for misconfiguration or Redis failures.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	if !validKind(w.Kind) {
		return fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}

	slots := make(chan struct{}, max(w.Concurrency, 1))
	var wg sync.WaitGroup
	defer wg.Wait()

	var lastSweep time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(lastSweep) >= sweepInterval {
			if err := w.requeueExpired(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			lastSweep = time.Now()
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		msg, raw, err := w.claim(ctx)
		if err != nil || raw == "" {
			<-slots
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
			sleep(ctx, pollInterval)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			w.process(ctx, raw, msg)
		}()
	}
}

// claim moves the next due task into the processing set with a fresh
// visibility deadline. An empty raw means nothing is due.
func (w Worker) claim(ctx context.Context) (taskMessage, string, error) {
	ks := keyspace(w.Prefix)
	member, err := claimScript.Run(ctx, w.R, []string{ks.ready(w.Kind)}, strconv.FormatInt(time.Now().UnixNano(), 10)).Text()
	if errors.Is(err, redis.Nil) {
		return taskMessage{}, "", nil
	}
	if err != nil {
		return taskMessage{}, "", err
	}

	msg, err := decodeMessage(member)
	if err != nil {
		w.logger().Warn().Err(err).Str("kind", w.Kind).Msg("queue_message_undecodable")
		_ = w.R.LPush(ctx, ks.deadLetters(w.Kind), member).Err()
		return taskMessage{}, "", nil
	}
	msg.Attempt++
	raw, err := msg.encode()
	if err != nil {
		return taskMessage{}, "", err
	}
	deadline := time.Now().Add(w.visibility()).UnixNano()
	if err := w.R.ZAdd(ctx, ks.processing(w.Kind), redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
		return taskMessage{}, "", err
	}
	return msg, raw, nil
}

func (w Worker) process(ctx context.Context, raw string, msg taskMessage) {
	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if w.SoftDeadline > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.SoftDeadline)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	err := w.Handler(jobCtx, msg.task())
	cancel()

	// bookkeeping must survive shutdown and an expired soft deadline
	bg := context.WithoutCancel(ctx)
	ks := keyspace(w.Prefix)
	_ = w.R.ZRem(bg, ks.processing(w.Kind), raw).Err()
	if err == nil {
		w.release(bg, msg)
		countProcessed(msg.Kind, "ok")
		return
	}

	retryable := w.Retryable == nil || w.Retryable(err)
	if !retryable || (msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts) {
		w.deadLetter(bg, msg, err)
		return
	}
	base := w.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	delay := resilience.Backoff(base, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	next, encErr := msg.encode()
	if encErr != nil {
		return
	}
	w.logger().Debug().Err(err).Str("kind", msg.Kind).Int("attempt", msg.Attempt).Dur("delay", delay).Msg("queue_task_retry")
	_ = w.R.ZAdd(bg, ks.ready(w.Kind), redis.Z{Score: float64(msg.AvailableAt), Member: next}).Err()
	countProcessed(msg.Kind, "retry")
}

// release drops the idempotency marker so the same key may be enqueued again.
func (w Worker) release(ctx context.Context, msg taskMessage) {
	if msg.Key != "" {
		_ = w.R.Del(ctx, keyspace(w.Prefix).dedup(msg.Kind, msg.Key)).Err()
	}
}

func (w Worker) deadLetter(ctx context.Context, msg taskMessage, cause error) {
	w.release(ctx, msg)
	countProcessed(msg.Kind, "dlq")
	raw, err := msg.encode()
	if err != nil {
		return
	}

	evt := w.logger().Warn().Err(cause).Str("kind", msg.Kind).Str("idempotency_key", msg.Key).Int("attempt", msg.Attempt)
	if w.Store != nil {
		text := cause.Error()
		id, err := w.Store.InsertQueueDlq(ctx, DLQEntry{
			Kind:           msg.Kind,
			IdempotencyKey: msg.Key,
			Payload:        []byte(raw),
			Attempts:       msg.Attempt,
			LastError:      &text,
		})
		if err == nil {
			evt.Str("dlq_id", id.String()).Msg("queue_task_dead_lettered")
			if count, err := w.Store.CountQueueDlq(ctx, msg.Kind); err == nil {
				QueueDLQSize.WithLabelValues(queueLabel(msg.Kind)).Set(float64(count))
			}
			return
		}
		w.logger().Error().Err(err).Str("kind", msg.Kind).Msg("queue_dlq_insert_failed")
	}
	evt.Msg("queue_task_dead_lettered")
	_ = w.R.LPush(ctx, keyspace(w.Prefix).deadLetters(msg.Kind), raw).Err()
}

// requeueExpired returns tasks whose visibility deadline passed to the ready
// set. Their attempt counter is kept, so the redelivery counts as the next try.
func (w Worker) requeueExpired(ctx context.Context) error {
	ks := keyspace(w.Prefix)
	now := time.Now().UnixNano()
	expired, err := w.R.ZRangeByScore(ctx, ks.processing(w.Kind), &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now, 10)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range expired {
		removed, err := w.R.ZRem(ctx, ks.processing(w.Kind), raw).Result()
		if err != nil || removed == 0 {
			// acked or swept by another worker meanwhile
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = now
		next, err := msg.encode()
		if err != nil {
			continue
		}
		w.logger().Info().Str("kind", msg.Kind).Int("attempt", msg.Attempt).Msg("queue_task_visibility_expired")
		_ = w.R.ZAdd(ctx, ks.ready(w.Kind), redis.Z{Score: float64(now), Member: next}).Err()
	}
	return nil
}

func (w Worker) processingKey(kind string) string { return keyspace(w.Prefix).processing(kind) }

func (w Worker) visibility() time.Duration {
	if w.VisibilityTimeout <= 0 {
		return 30 * time.Second
	}
	return w.VisibilityTimeout
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger == nil {
		return &nopLogger
	}
	return w.Logger
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
