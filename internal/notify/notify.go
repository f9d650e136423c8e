// Package notify delivers user facing notifications (toasts) raised by the
// cart and lunch components. Delivery is fire-and-forget.
package notify

import (
	"context"
)

// Severity classifies a notification.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityError   Severity = "error"
)

// Notification is a single message for the user.
type Notification struct {
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	Description string   `json:"description,omitempty"`
	// Scope names the audience, usually a cart key or "lunch".
	Scope string `json:"scope,omitempty"`
}

// Notifier receives notifications. Implementations must not block for long
// and never report failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Success builds a success notification.
func Success(message, description string) Notification {
	return Notification{Severity: SeveritySuccess, Message: message, Description: description}
}

// Info builds an informational notification.
func Info(message string) Notification {
	return Notification{Severity: SeverityInfo, Message: message}
}

// Error builds an error notification.
func Error(message, description string) Notification {
	return Notification{Severity: SeverityError, Message: message, Description: description}
}

type nop struct{}

func (nop) Notify(context.Context, Notification) {}

// Nop discards every notification.
var Nop Notifier = nop{}

// Multi fans a notification out to every non-nil notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, target := range m {
		if target != nil {
			target.Notify(ctx, n)
		}
	}
}

// OrNop returns n, or Nop when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop
	}
	return n
}
