package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript trims the window, admits the call only when below the limit
// and reports the oldest surviving score so callers know when a slot frees
// up. Rejected calls are not recorded.
var slidingScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[5])
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local first = ARGV[2]
if oldest[2] then
  first = oldest[2]
end
return {allowed, count, first}
`)

// SlidingWindow is a Redis sorted-set limiter. Scores are unix microseconds.
type SlidingWindow struct {
	Client *redis.Client
	Prefix string
}

func (l SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	now := time.Now()
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}

	nowMicros := now.UnixMicro()
	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		nowMicros-window.Microseconds(),
		nowMicros,
		max,
		uuid.NewString(),
		window.Milliseconds(),
	).Slice()
	if err != nil {
		return false, 0, now.Add(window), fmt.Errorf("sliding window %s: %w", key, err)
	}
	if len(res) != 3 {
		return false, 0, now.Add(window), fmt.Errorf("sliding window %s: unexpected reply %v", key, res)
	}

	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	reset := now.Add(window)
	if first, ok := res[2].(string); ok {
		if micros, err := strconv.ParseFloat(first, 64); err == nil {
			reset = time.UnixMicro(int64(micros)).Add(window)
		}
	}

	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return allowed == 1, remaining, reset, nil
}
