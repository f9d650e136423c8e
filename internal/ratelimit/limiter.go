// Package ratelimit throttles API callers per colleague or client address.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/backend-lunch/internal/common"
	"github.com/noah-isme/backend-lunch/internal/obs"
)

// Limiter decides whether one more event for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// ByUserOrIP keys requests by the X-User-Name header, falling back to the
// client address for anonymous callers.
func ByUserOrIP(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get(obs.UserHeader)); user != "" {
		return "user:" + strings.ToLower(user)
	}
	return "ip:" + common.ClientIP(r)
}
