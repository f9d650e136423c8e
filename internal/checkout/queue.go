package checkout

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lunch/internal/order"
	"github.com/noah-isme/backend-lunch/internal/queue"
)

// TaskKind is the queue kind carrying submitted orders to the worker.
const TaskKind = "order-submit"

// Enqueuer is the part of queue.Enqueuer the submitter needs.
type Enqueuer interface {
	EnqueueOnce(ctx context.Context, t queue.Task) (bool, error)
}

// QueueSubmitter acknowledges an order once it is durably queued for the
// kitchen. The receipt status stays pending until the worker forwards it.
type QueueSubmitter struct {
	Queue       Enqueuer
	MaxAttempts int
	Log         zerolog.Logger
}

// Submit enqueues snap under its idempotency key. A duplicate enqueue means an
// identical submission is already pending and counts as acknowledged.
func (q QueueSubmitter) Submit(ctx context.Context, snap order.Snapshot) (order.Receipt, error) {
	if q.Queue == nil {
		return order.Receipt{}, order.Permanent(errors.New("checkout: queue not configured"))
	}
	snap.Reference = ReferenceFor(snap)
	if snap.IdempotencyKey == "" {
		snap.IdempotencyKey = order.IdempotencyKey(snap)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return order.Receipt{}, order.Permanent(err)
	}
	queued, err := q.Queue.EnqueueOnce(ctx, queue.Task{
		Kind:           TaskKind,
		Payload:        payload,
		IdempotencyKey: snap.IdempotencyKey,
		MaxAttempts:    q.MaxAttempts,
	})
	if err != nil {
		return order.Receipt{}, order.Transient(err)
	}
	if !queued {
		q.Log.Info().Str("idempotency_key", snap.IdempotencyKey).Str("reference", snap.Reference).Msg("order already queued")
	}
	return order.Receipt{Reference: snap.Reference, Status: order.StatusPending}, nil
}
