package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lunch/internal/lock"
	"github.com/noah-isme/backend-lunch/internal/obs"
	"github.com/noah-isme/backend-lunch/internal/order"
	"github.com/noah-isme/backend-lunch/internal/queue"
)

// Forwarder hands queued order-submit tasks to the kitchen. Each delivery runs
// under a Redis lock keyed by the idempotency key so two workers never send
// the same order concurrently.
type Forwarder struct {
	Kitchen order.Submitter
	Locker  *lock.Locker
	LockTTL time.Duration
	Log     zerolog.Logger
}

// Handle is a queue.Worker handler.
func (f Forwarder) Handle(ctx context.Context, task queue.Task) error {
	if f.Kitchen == nil {
		return order.Permanent(errors.New("checkout: forwarder has no kitchen submitter"))
	}
	var snap order.Snapshot
	if err := json.Unmarshal(task.Payload, &snap); err != nil {
		obs.CountKitchenForward("undecodable")
		return order.Permanent(fmt.Errorf("checkout: decode queued order: %w", err))
	}
	if snap.IdempotencyKey == "" {
		snap.IdempotencyKey = task.IdempotencyKey
	}
	deliver := func(ctx context.Context) error {
		return f.forward(ctx, snap, task.Attempt)
	}
	if f.Locker == nil || f.Locker.R == nil || snap.IdempotencyKey == "" {
		return deliver(ctx)
	}
	ttl := f.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	err := f.Locker.WithLock(ctx, "lock:order:"+snap.IdempotencyKey, ttl, deliver)
	if err != nil && !order.Classified(err) {
		// lock acquisition failed; try again later
		return order.Transient(err)
	}
	return err
}

func (f Forwarder) forward(ctx context.Context, snap order.Snapshot, attempt int) error {
	logger := f.Log.With().
		Str("reference", snap.Reference).
		Str("idempotency_key", snap.IdempotencyKey).
		Int("attempt", attempt).
		Logger()
	receipt, err := f.Kitchen.Submit(ctx, snap)
	if err != nil {
		err = order.Classify(err)
		result := "transient"
		if !order.IsTransient(err) {
			result = "rejected"
		}
		obs.CountKitchenForward(result)
		logger.Warn().Err(err).Str("result", result).Msg("kitchen forward failed")
		return err
	}
	obs.CountKitchenForward("ok")
	logger.Info().Str("kitchen_reference", receipt.Reference).Str("status", string(receipt.Status)).Msg("order forwarded to kitchen")
	return nil
}

// Retryable reports whether the queue should retry a failed forward.
func Retryable(err error) bool {
	return !errors.Is(err, order.ErrPermanent)
}

// LogSubmitter records orders in the log instead of sending them anywhere.
// The worker falls back to it when no kitchen endpoint is configured.
type LogSubmitter struct {
	Log zerolog.Logger
}

// Submit implements order.Submitter.
func (l LogSubmitter) Submit(_ context.Context, snap order.Snapshot) (order.Receipt, error) {
	reference := ReferenceFor(snap)
	l.Log.Info().
		Str("reference", reference).
		Str("cart_key", snap.CartKey).
		Int("lines", len(snap.Items)).
		Str("subtotal", snap.Subtotal.StringFixed(2)).
		Msg("kitchen order")
	return order.Receipt{Reference: reference, Status: order.StatusConfirmed}, nil
}
