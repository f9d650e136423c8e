package notify

import (
	"context"
	"sync"
)

// Outbox records notifications in memory.
type Outbox struct {
	mu    sync.Mutex
	items []Notification
}

func (o *Outbox) Notify(_ context.Context, n Notification) {
	o.mu.Lock()
	o.items = append(o.items, n)
	o.mu.Unlock()
}

// All returns a copy of the recorded notifications.
func (o *Outbox) All() []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Notification(nil), o.items...)
}

// Last returns the most recent notification.
func (o *Outbox) Last() (Notification, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 {
		return Notification{}, false
	}
	return o.items[len(o.items)-1], true
}

// Drain returns and forgets the recorded notifications.
func (o *Outbox) Drain() []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.items
	o.items = nil
	return out
}
