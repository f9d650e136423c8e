package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-lunch/internal/events"
	"github.com/noah-isme/backend-lunch/internal/notify"
	"github.com/noah-isme/backend-lunch/internal/obs"
	"github.com/noah-isme/backend-lunch/internal/order"
)

// ErrCheckoutInProgress is returned while another checkout of the same cart is outstanding.
var ErrCheckoutInProgress = errors.New("cart: checkout already in progress")

const msgCheckoutFail = "Er is een fout opgetreden bij het plaatsen van je bestelling. Probeer het later opnieuw."

// Checkout snapshots the cart, submits it and, once the backend acknowledges
// it, removes the submitted quantities. An empty cart is submitted like any
// other and yields a zero subtotal. The cart is left untouched when the
// submission fails; the error then wraps order.ErrTransient or
// order.ErrPermanent.
func (s *Store) Checkout(ctx context.Context) (order.Snapshot, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		obs.ObserveCheckout("busy", 0)
		return order.Snapshot{}, ErrCheckoutInProgress
	}
	defer s.inFlight.Store(false)

	ctx, span := otel.Tracer("cart").Start(ctx, "cart.checkout")
	defer span.End()
	span.SetAttributes(attribute.String("cart.key", s.cfg.Key))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if s.cfg.Guard != nil {
		release, ok, err := s.cfg.Guard.TryLock(ctx, "checkout:"+s.cfg.Key, s.cfg.Timeout+5*time.Second)
		if err != nil {
			span.RecordError(err)
			obs.ObserveCheckout("transient", 0)
			return order.Snapshot{}, fmt.Errorf("cart: checkout guard: %w", order.Transient(err))
		}
		if !ok {
			obs.ObserveCheckout("busy", 0)
			return order.Snapshot{}, ErrCheckoutInProgress
		}
		defer release()
	}

	s.mu.Lock()
	if err := s.refreshLocked(ctx); err != nil {
		s.mu.Unlock()
		span.RecordError(err)
		obs.ObserveCheckout("transient", 0)
		return order.Snapshot{}, fmt.Errorf("cart: checkout reload: %w", order.Transient(err))
	}
	lines := cloneLines(s.items)
	s.mu.Unlock()

	snap := order.Snapshot{
		ID:        s.cfg.NewID(),
		CartKey:   s.cfg.Scope,
		Items:     lines,
		Subtotal:  summarize(lines).Subtotal,
		OrderDate: s.cfg.Now().UTC(),
		Status:    order.StatusConfirmed,
	}
	snap.IdempotencyKey = order.IdempotencyKey(snap)
	span.SetAttributes(attribute.String("order.idempotency_key", snap.IdempotencyKey))

	start := time.Now()
	receipt, err := s.submit(ctx, snap)
	if err != nil {
		err = order.Classify(err)
		result := "permanent"
		if order.IsTransient(err) {
			result = "transient"
		}
		obs.ObserveCheckout(result, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		s.cfg.Log.Warn().Err(err).Str("key", s.cfg.Key).Str("idempotency_key", snap.IdempotencyKey).Msg("cart: checkout failed")
		s.notify(ctx, notify.Error(msgCheckoutFail, ""))
		s.emit(ctx, events.TopicOrderFailed, snap, map[string]any{"error": err.Error(), "transient": order.IsTransient(err)})
		return order.Snapshot{}, fmt.Errorf("cart: checkout: %w", err)
	}
	obs.ObserveCheckout("confirmed", time.Since(start))

	if receipt.Status.Valid() {
		snap.Status = receipt.Status
	}
	snap.Reference = receipt.Reference

	s.mu.Lock()
	s.syncLocked(ctx)
	s.removeSubmittedLocked(lines)
	s.persistLocked(ctx)
	s.mu.Unlock()

	obs.CountCartOp("checkout")
	s.notify(ctx, notify.Info("Bestelling gewist"))
	s.emit(ctx, events.TopicOrderConfirmed, snap, nil)
	return snap, nil
}

func (s *Store) submit(ctx context.Context, snap order.Snapshot) (order.Receipt, error) {
	if s.cfg.Submitter == nil {
		return order.Receipt{}, order.Permanent(errNoSubmitter)
	}
	return s.cfg.Submitter.Submit(ctx, snap)
}

// removeSubmittedLocked subtracts the submitted quantities. Lines added or
// increased while the submission was outstanding keep the difference.
func (s *Store) removeSubmittedLocked(submitted []LineItem) {
	sent := make(map[string]int, len(submitted))
	for _, l := range submitted {
		sent[l.ID] += l.Quantity
	}
	kept := s.items[:0]
	for _, it := range s.items {
		if q, ok := sent[it.ID]; ok {
			it.Quantity -= q
			if it.Quantity <= 0 {
				continue
			}
		}
		kept = append(kept, it)
	}
	s.items = kept
}

func (s *Store) emit(ctx context.Context, topic string, snap order.Snapshot, extra map[string]any) {
	if s.cfg.Events == nil {
		return
	}
	payload := map[string]any{
		"cartKey":        snap.CartKey,
		"reference":      snap.Reference,
		"status":         snap.Status,
		"subtotal":       snap.Subtotal,
		"count":          summarize(snap.Items).Count,
		"idempotencyKey": snap.IdempotencyKey,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if _, err := s.cfg.Events.Emit(context.WithoutCancel(ctx), topic, snap.ID, payload); err != nil {
		s.cfg.Log.Warn().Err(err).Str("topic", topic).Msg("cart: emit event failed")
	}
}
