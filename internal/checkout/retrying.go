package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lunch/internal/order"
	"github.com/noah-isme/backend-lunch/internal/resilience"
)

// Retrying resubmits transient failures with exponential backoff. Permanent
// failures and context cancellation end the loop immediately. Next is expected
// to be idempotent on the snapshot's idempotency key.
type Retrying struct {
	Next     order.Submitter
	Attempts int
	Base     time.Duration
	Jitter   float64
	Log      zerolog.Logger
}

// Submit implements order.Submitter.
func (r Retrying) Submit(ctx context.Context, snap order.Snapshot) (order.Receipt, error) {
	if r.Next == nil {
		return order.Receipt{}, order.Permanent(errors.New("checkout: retrying submitter has no backend"))
	}
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		receipt, err := r.Next.Submit(ctx, snap)
		if err == nil {
			return receipt, nil
		}
		lastErr = order.Classify(err)
		if !order.IsTransient(lastErr) || attempt == attempts {
			break
		}
		wait := resilience.Backoff(r.Base, attempt, r.Jitter)
		r.Log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", wait).Str("idempotency_key", snap.IdempotencyKey).Msg("order submit retry")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return order.Receipt{}, order.Transient(ctx.Err())
		case <-timer.C:
		}
	}
	return order.Receipt{}, lastErr
}
