// Package checkout provides the order.Submitter backends a cart hands its
// snapshot to: a simulated kitchen, the Redis task queue, a direct HTTP call
// to the kitchen, and a retrying wrapper. The worker side of the queue lives
// here as well (Forwarder).
package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-lunch/internal/order"
)

// DefaultSimulatedDelay matches the pause the ordering UI showed before confirming.
const DefaultSimulatedDelay = time.Second

// ReferenceFor returns the short human-facing order reference for snap.
func ReferenceFor(snap order.Snapshot) string {
	if snap.Reference != "" {
		return snap.Reference
	}
	id := strings.ReplaceAll(snap.ID, "-", "")
	if id == "" {
		id = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return "LUNCH-" + strings.ToUpper(id)
}

// Simulated confirms every order after Delay. It stands in for a kitchen
// backend during development.
type Simulated struct {
	Delay time.Duration
}

// Submit waits for the configured delay and confirms the order. A cancelled
// or expired context aborts the wait with a transient error.
func (s Simulated) Submit(ctx context.Context, snap order.Snapshot) (order.Receipt, error) {
	delay := s.Delay
	if delay < 0 {
		delay = 0
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return order.Receipt{}, order.Transient(ctx.Err())
	case <-timer.C:
	}
	return order.Receipt{Reference: ReferenceFor(snap), Status: order.StatusConfirmed}, nil
}
