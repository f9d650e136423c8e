package events

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-lunch/internal/common"
)

// Feed reads back the most recent events.
type Feed interface {
	Recent(ctx context.Context, n int64) ([]Event, error)
}

// Log is an event store that can also be read back.
type Log interface {
	EventStore
	Feed
}

const (
	defaultFeedLimit = 20
	maxFeedLimit     = 100
)

// Handler serves the activity feed the office dashboard polls.
type Handler struct {
	Feed Feed
}

func (h Handler) Routes(r chi.Router) {
	r.Get("/events", h.Recent)
}

// Recent handles GET /api/v1/events?limit=&topic=. Topic filtering happens
// after the read, so a filtered page may hold fewer than limit entries.
func (h Handler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.Feed == nil {
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeUnavailable, "event log not configured", nil)
		return
	}
	limit := defaultFeedLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxFeedLimit)
	}
	var topics []string
	for _, t := range strings.Split(r.URL.Query().Get("topic"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	recent, err := h.Feed.Recent(r.Context(), int64(limit))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "read event log", nil)
		return
	}
	if len(topics) > 0 {
		recent = slices.DeleteFunc(recent, func(ev Event) bool { return !slices.Contains(topics, ev.Topic) })
	}
	common.Data(w, http.StatusOK, recent)
}
