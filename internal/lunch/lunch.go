// Package lunch tracks ad-hoc lunch pickup trips: a colleague announces where
// they are getting lunch today and others post what they want brought back.
package lunch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultUserName is used when the caller does not identify itself.
const DefaultUserName = "Huidige Gebruiker"

var (
	// ErrNotFound is returned for an unknown location id.
	ErrNotFound = errors.New("lunch: location not found")
	// ErrInvalidInput marks validation failures; see ValidationError.
	ErrInvalidInput = errors.New("lunch: invalid input")
)

// Location is a lunch pickup announced for today.
type Location struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MenuURL   string    `json:"menuUrl,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	MyOrder   string    `json:"myOrder"`
}

// Order is a free-text request placed against a Location.
type Order struct {
	ID         string    `json:"id"`
	LocationID string    `json:"locationId"`
	UserName   string    `json:"userName"`
	OrderText  string    `json:"orderText"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewLocation is the input for CreateLocation.
type NewLocation struct {
	Name      string `json:"name" validate:"required,max=120"`
	MenuURL   string `json:"menuUrl" validate:"omitempty,url,max=2048"`
	MyOrder   string `json:"myOrder" validate:"required,max=500"`
	CreatedBy string `json:"-"`
}

// NewOrder is the input for PlaceOrder.
type NewOrder struct {
	OrderText string `json:"orderText" validate:"required,max=500"`
	UserName  string `json:"-"`
}

// ValidationError reports the first invalid field with a user-facing message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("lunch: %s: %s", e.Field, e.Message)
}

// Is lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Store persists locations and their orders.
type Store interface {
	AddLocation(ctx context.Context, loc Location) error
	Location(ctx context.Context, id string) (Location, bool, error)
	ListLocations(ctx context.Context) ([]Location, error)
	AddOrder(ctx context.Context, o Order) error
	ListOrders(ctx context.Context, locationID string) ([]Order, error)
}
