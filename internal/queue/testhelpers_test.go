package queue_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lunch/internal/queue"
)

const orderKind = "order-submit"

// harness wires a queue namespace onto a throwaway miniredis instance.
type harness struct {
	mr     *miniredis.Miniredis
	client *redis.Client
	prefix string
	store  queue.Store
	log    zerolog.Logger
}

func newHarness(t *testing.T, prefix string) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &harness{
		mr:     mr,
		client: client,
		prefix: prefix,
		store:  queue.NewStore(client, prefix),
		log:    zerolog.New(io.Discard),
	}
}

func (h *harness) enqueuer(maxAttempts int) queue.Enqueuer {
	return queue.Enqueuer{R: h.client, Prefix: h.prefix, DedupTTL: time.Minute, MaxAttempts: maxAttempts}
}

// worker returns a single-slot order worker with short timings; callers
// override fields as needed.
func (h *harness) worker(handler func(context.Context, queue.Task) error) queue.Worker {
	return queue.Worker{
		R:                 h.client,
		Prefix:            h.prefix,
		Kind:              orderKind,
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         10 * time.Millisecond,
		Store:             h.store,
		Logger:            &h.log,
		Handler:           handler,
	}
}

// run starts w and returns a stop func that cancels it and waits for Run to
// return.
func run(t *testing.T, w queue.Worker) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("worker did not stop")
		}
	}
	t.Cleanup(stop)
	return ctx, stop
}

func (h *harness) depth(t *testing.T) int64 {
	t.Helper()
	n, err := h.client.ZCard(context.Background(), h.prefix+":queue:"+orderKind).Result()
	require.NoError(t, err)
	return n
}

// orderPayload mimics the snapshot JSON the checkout path enqueues.
func orderPayload(t *testing.T, cartKey string, lines int) []byte {
	t.Helper()
	items := make([]map[string]any, 0, lines)
	for i := 0; i < lines; i++ {
		items = append(items, map[string]any{"menuItemId": "broodje-kaas", "name": "Broodje kaas", "quantity": i + 1, "price": "4.50"})
	}
	raw, err := json.Marshal(map[string]any{"cartKey": cartKey, "items": items, "subtotal": "4.50"})
	require.NoError(t, err)
	return raw
}
