// Package storage persists serialized cart payloads under string keys.
package storage

import (
	"context"
	"errors"
)

// ErrInvalidKey is returned for empty keys or keys that cannot be mapped to the backend.
var ErrInvalidKey = errors.New("storage: invalid key")

// KV is the durable key/value contract used by the cart store. Get reports
// whether the key existed.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}
