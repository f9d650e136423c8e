package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lunch/internal/queue"
)

func TestWorkerDeliversOrderPayload(t *testing.T) {
	h := newHarness(t, "deliver")
	payload := orderPayload(t, "desk-4", 2)

	got := make(chan queue.Task, 1)
	run(t, h.worker(func(_ context.Context, task queue.Task) error {
		got <- task
		return nil
	}))

	require.NoError(t, h.enqueuer(3).Enqueue(context.Background(), queue.Task{Kind: orderKind, Payload: payload, IdempotencyKey: "k-1"}))

	select {
	case task := <-got:
		require.JSONEq(t, string(payload), string(task.Payload))
		require.Equal(t, "k-1", task.IdempotencyKey)
		require.Equal(t, 1, task.Attempt)
		require.Equal(t, 3, task.MaxAttempts)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for order")
	}
	require.Eventually(t, func() bool { return h.depth(t) == 0 }, time.Second, 10*time.Millisecond)
}

func TestEnqueueOnceDeduplicatesByKey(t *testing.T) {
	h := newHarness(t, "dedup")
	enq := h.enqueuer(3)
	ctx := context.Background()
	task := queue.Task{Kind: orderKind, Payload: orderPayload(t, "desk-1", 1), IdempotencyKey: "same"}

	accepted, err := enq.EnqueueOnce(ctx, task)
	require.NoError(t, err)
	require.True(t, accepted)

	accepted, err = enq.EnqueueOnce(ctx, task)
	require.NoError(t, err)
	require.False(t, accepted)
	require.Equal(t, int64(1), h.depth(t))

	task.IdempotencyKey = "other"
	accepted, err = enq.EnqueueOnce(ctx, task)
	require.NoError(t, err)
	require.True(t, accepted)
	require.Equal(t, int64(2), h.depth(t))
}

func TestEnqueueRejectsInvalidKind(t *testing.T) {
	h := newHarness(t, "kind")
	err := h.enqueuer(1).Enqueue(context.Background(), queue.Task{Kind: "Order Submit"})
	require.Error(t, err)

	err = queue.Enqueuer{}.Enqueue(context.Background(), queue.Task{Kind: orderKind})
	require.Error(t, err)
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	h := newHarness(t, "retry")
	var attempts atomic.Int32
	succeeded := make(chan int, 1)

	w := h.worker(func(_ context.Context, task queue.Task) error {
		if attempts.Add(1) == 1 {
			return errors.New("kitchen unreachable")
		}
		succeeded <- task.Attempt
		return nil
	})
	w.RetryBase = 5 * time.Millisecond
	w.RetryJitter = 0.1
	run(t, w)

	require.NoError(t, h.enqueuer(3).Enqueue(context.Background(), queue.Task{Kind: orderKind, Payload: orderPayload(t, "desk-2", 1), IdempotencyKey: "r1"}))

	select {
	case attempt := <-succeeded:
		require.Equal(t, 2, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not retry in time")
	}
	count, err := h.store.CountQueueDlq(context.Background(), orderKind)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestWorkerRequiresHandlerAndClient(t *testing.T) {
	h := newHarness(t, "cfg")
	w := h.worker(nil)
	require.Error(t, w.Run(context.Background()))

	w = h.worker(func(context.Context, queue.Task) error { return nil })
	w.R = nil
	require.Error(t, w.Run(context.Background()))
}
