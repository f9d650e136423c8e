package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-lunch/internal/pricing"
)

// Status is the lifecycle state of a submitted order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
)

// Valid reports whether s belongs to the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted:
		return true
	default:
		return false
	}
}

// ParseStatus normalises a raw status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("order: unknown status %q", raw)
	}
	return s, nil
}

// SelectedOption names an option group and the choices picked in it.
type SelectedOption struct {
	OptionID  string   `json:"optionId"`
	ChoiceIDs []string `json:"choiceIds"`
}

// Line is one configured entry of a cart or order.
type Line struct {
	ID              string           `json:"id"`
	MenuItemID      string           `json:"menuItemId"`
	Name            string           `json:"name"`
	Price           pricing.Money    `json:"price"`
	Quantity        int              `json:"quantity"`
	SelectedOptions []SelectedOption `json:"selectedOptions,omitempty"`
}

// Clone returns a deep copy of the line.
func (l Line) Clone() Line {
	out := l
	if l.SelectedOptions != nil {
		out.SelectedOptions = make([]SelectedOption, len(l.SelectedOptions))
		for i, opt := range l.SelectedOptions {
			out.SelectedOptions[i] = SelectedOption{
				OptionID:  opt.OptionID,
				ChoiceIDs: append([]string(nil), opt.ChoiceIDs...),
			}
		}
	}
	return out
}

// Snapshot is the immutable result of a checkout.
type Snapshot struct {
	ID             string        `json:"id"`
	CartKey        string        `json:"cartKey,omitempty"`
	Items          []Line        `json:"items"`
	Subtotal       pricing.Money `json:"subtotal"`
	OrderDate      time.Time     `json:"orderDate"`
	Status         Status        `json:"status"`
	Reference      string        `json:"reference,omitempty"`
	IdempotencyKey string        `json:"idempotencyKey"`
}

// Receipt is the backend acknowledgement of a submitted snapshot.
type Receipt struct {
	Reference string `json:"reference,omitempty"`
	Status    Status `json:"status,omitempty"`
}

// Submitter hands a snapshot to the order backend. Implementations must classify
// failures with Transient or Permanent.
type Submitter interface {
	Submit(ctx context.Context, snap Snapshot) (Receipt, error)
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, snap Snapshot) (Receipt, error)

// Submit implements Submitter.
func (f SubmitterFunc) Submit(ctx context.Context, snap Snapshot) (Receipt, error) {
	return f(ctx, snap)
}
