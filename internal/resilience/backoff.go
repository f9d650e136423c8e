package resilience

import (
	"math/rand/v2"
	"time"
)

// maxBackoffShift caps the exponent so large attempt numbers cannot overflow.
const maxBackoffShift = 16

// Backoff returns base*2^(attempt-1) spread by ±jitterPct (0.2 == 20%).
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	shift := min(attempt-1, maxBackoffShift)
	d := base << uint(shift)
	if jitterPct <= 0 {
		return d
	}
	spread := float64(d) * jitterPct
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
