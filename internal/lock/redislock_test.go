package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lunch/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, Prefix: "lock:"}, mr
}

func TestWithLockSerialises(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = locker.WithLock(ctx, "demo", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()

	<-firstDone

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = locker.WithLock(ctx, "demo", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	close(releaseFirst)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestTryLockIsSingleSlot(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "checkout:desk-4", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("lock:checkout:desk-4"))

	_, ok, err = locker.TryLock(ctx, "checkout:desk-4", time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	release()
	require.False(t, mr.Exists("lock:checkout:desk-4"))

	release2, ok, err := locker.TryLock(ctx, "checkout:desk-4", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	release2()
}

func TestTryLockExpires(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(100 * time.Millisecond)

	_, ok, err = locker.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTryLockWithoutClient(t *testing.T) {
	_, ok, err := lock.Locker{}.TryLock(context.Background(), "k", time.Second)
	require.ErrorIs(t, err, lock.ErrNotConfigured)
	require.False(t, ok)
}

func TestWithLockRenewsLease(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	err := locker.WithLock(ctx, "order:abc", 60*time.Millisecond, func(context.Context) error {
		time.Sleep(150 * time.Millisecond)
		ttl := mr.TTL("lock:order:abc")
		require.Greater(t, ttl, time.Duration(0))
		require.LessOrEqual(t, ttl, 60*time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists("lock:order:abc"))
}

func TestWithLockCancelsWhenLeaseLost(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()
	failed := errors.New("kitchen call aborted")

	err := locker.WithLock(ctx, "order:lost", 30*time.Millisecond, func(fnCtx context.Context) error {
		mr.Set("lock:order:lost", "someone-else")
		select {
		case <-fnCtx.Done():
			return failed
		case <-time.After(time.Second):
			return nil
		}
	})
	require.ErrorIs(t, err, lock.ErrLeaseLost)
	require.ErrorIs(t, err, failed)
	// the other owner's lease is left alone
	got, getErr := mr.Get("lock:order:lost")
	require.NoError(t, getErr)
	require.Equal(t, "someone-else", got)
}

func TestWithLockHonoursContextWhileWaiting(t *testing.T) {
	locker, _ := newLocker(t)
	release, ok, err := locker.TryLock(context.Background(), "busy", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = locker.WithLock(ctx, "busy", time.Minute, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
