// Package lock provides Redis leases that keep one process at a time working
// on a key: one checkout per cart, one kitchen delivery per order.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotConfigured is returned when the locker has no Redis client.
	ErrNotConfigured = errors.New("lock: redis client not configured")
	// ErrLeaseLost reports that the lease expired or was taken over while the
	// callback was still running.
	ErrLeaseLost = errors.New("lock: lease lost")
)

const defaultTTL = 30 * time.Second

// Both scripts act only when the key still holds the caller's token.
var (
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0`)
	renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)
)

// Locker hands out token-guarded Redis leases. Keys are namespaced by Prefix.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	Prefix       string
}

type lease struct {
	r     *redis.Client
	key   string
	token string
	ttl   time.Duration
}

func (l Locker) acquire(ctx context.Context, key string, ttl time.Duration) (*lease, bool, error) {
	if l.R == nil {
		return nil, false, ErrNotConfigured
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	ls := &lease{r: l.R, key: l.Prefix + key, token: uuid.NewString(), ttl: ttl}
	ok, err := l.R.SetNX(ctx, ls.key, ls.token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return ls, true, nil
}

func (ls *lease) release(ctx context.Context) {
	_ = releaseScript.Run(ctx, ls.r, []string{ls.key}, ls.token).Err()
}

func (ls *lease) renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, ls.r, []string{ls.key}, ls.token, ls.ttl.Milliseconds()).Int64()
	return n == 1, err
}

// TryLock makes a single acquisition attempt. When ok is true the caller owns
// the key until release is called or ttl elapses.
func (l Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	ls, ok, err := l.acquire(ctx, key, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	bg := context.WithoutCancel(ctx)
	return func() { ls.release(bg) }, true, nil
}

// WithLock waits for the lease on key, then runs fn while renewing the lease
// every ttl/3. If a renewal finds the lease gone, fn's context is cancelled
// and a failing fn's error is wrapped with ErrLeaseLost. The lease is
// released when fn returns.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}

	var ls *lease
	for {
		var (
			ok  bool
			err error
		)
		ls, ok, err = l.acquire(ctx, key, ttl)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	defer ls.release(context.WithoutCancel(ctx))

	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lost := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ls.keepAlive(fnCtx, lost, cancel)
	}()

	fnErr := fn(fnCtx)
	cancel()
	<-stopped

	select {
	case <-lost:
		if fnErr != nil {
			return fmt.Errorf("%w: %w", ErrLeaseLost, fnErr)
		}
	default:
	}
	return fnErr
}

func (ls *lease) keepAlive(ctx context.Context, lost chan<- struct{}, cancel context.CancelFunc) {
	ticker := time.NewTicker(max(ls.ttl/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := ls.renew(ctx)
			if err != nil && ctx.Err() != nil {
				return
			}
			if err == nil && held {
				continue
			}
			// a Redis error leaves the lease to expire on its own; treat it
			// like a lost lease rather than risk two owners
			close(lost)
			cancel()
			return
		}
	}
}
