package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lunch/internal/common"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var errAlreadyQueued = errors.New("an order with the same idempotency key is already queued")

// AdminHandler serves the dead-letter endpoints on the worker's ops listener.
// Operators list stuck orders, replay them after fixing the kitchen, or drop
// them for good.
type AdminHandler struct {
	Store             Store
	Queue             Enqueuer
	PageSize          int
	Logger            zerolog.Logger
	VisibilityTimeout time.Duration
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/dlq", h.ListDLQ)
	r.Post("/dlq/replay", h.ReplayDLQ)
	r.Delete("/dlq/{id}", h.DeleteDLQ)
	r.Get("/stats", h.Stats)
}

// dlqItem is one dead-lettered order as shown to operators.
type dlqItem struct {
	ID             uuid.UUID     `json:"id"`
	Kind           string        `json:"kind"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
	Attempts       int           `json:"attempts"`
	MaxAttempts    int           `json:"maxAttempts"`
	LastError      *string       `json:"lastError,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	Order          *orderSummary `json:"order,omitempty"`
	// Body is the raw task payload when it is JSON.
	Body json.RawMessage `json:"body,omitempty"`
}

// orderSummary pulls the fields an operator needs out of a snapshot payload.
type orderSummary struct {
	CartKey  string `json:"cartKey,omitempty"`
	Lines    int    `json:"lines"`
	Portions int    `json:"portions"`
	Subtotal string `json:"subtotal,omitempty"`
}

func summarizeOrder(payload []byte) *orderSummary {
	var snap struct {
		CartKey  string          `json:"cartKey"`
		Subtotal json.RawMessage `json:"subtotal"`
		Items    []struct {
			Quantity int `json:"quantity"`
		} `json:"items"`
	}
	if err := json.Unmarshal(payload, &snap); err != nil || snap.Items == nil {
		return nil
	}
	sum := &orderSummary{CartKey: snap.CartKey, Lines: len(snap.Items)}
	for _, it := range snap.Items {
		sum.Portions += it.Quantity
	}
	var subtotal string
	if json.Unmarshal(snap.Subtotal, &subtotal) == nil {
		sum.Subtotal = subtotal
	} else if len(snap.Subtotal) > 0 {
		sum.Subtotal = string(snap.Subtotal)
	}
	return sum
}

func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if !h.hasStore(w) {
		return
	}
	ctx := r.Context()
	kind := kindParam(r.URL.Query().Get("kind"))
	limit, offset := parsePagination(r, h.pageSize())

	entries, err := h.Store.ListQueueDlq(ctx, kind, limit, offset)
	if err != nil {
		internalError(w, err)
		return
	}
	total, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		internalError(w, err)
		return
	}

	items := make([]dlqItem, 0, len(entries))
	for _, entry := range entries {
		item := dlqItem{
			ID:             entry.ID,
			Kind:           entry.Kind,
			IdempotencyKey: entry.IdempotencyKey,
			Attempts:       entry.Attempts,
			LastError:      entry.LastError,
			CreatedAt:      entry.CreatedAt,
		}
		if msg, err := decodeMessage(string(entry.Payload)); err == nil {
			item.MaxAttempts = msg.MaxAttempts
			item.Order = summarizeOrder(msg.Payload)
			if json.Valid(msg.Payload) {
				item.Body = json.RawMessage(msg.Payload)
			}
		}
		items = append(items, item)
	}

	resp := map[string]any{"data": items, "total": total, "limit": limit, "offset": offset}
	if kind != "" {
		resp["kind"] = kind
	}
	common.JSON(w, http.StatusOK, resp)
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit"`
}

// ReplayDLQ re-enqueues entries named by id, or the oldest page of a kind.
// Entries are removed from the DLQ only once they are back on the queue.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if !h.hasStore(w) || !h.hasQueue(w) {
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	ids := uniqueStrings(req.IDs)
	kind := kindParam(req.Kind)
	if len(ids) == 0 && kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or kind required", nil)
		return
	}

	ctx := r.Context()
	var entries []DLQEntry
	failed := make(map[string]string)
	if len(ids) > 0 {
		for _, raw := range ids {
			entry, err := h.lookup(ctx, raw)
			if err != nil {
				failed[raw] = err.Error()
				continue
			}
			entries = append(entries, entry)
		}
	} else {
		limit := req.Limit
		if limit <= 0 || limit > maxPageSize {
			limit = h.pageSize()
		}
		page, err := h.Store.ListQueueDlq(ctx, kind, limit, 0)
		if err != nil {
			internalError(w, err)
			return
		}
		entries = page
	}

	replayed := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := h.requeue(ctx, entry); err != nil {
			failed[entry.ID.String()] = err.Error()
			continue
		}
		replayed = append(replayed, entry.ID.String())
	}

	h.Logger.Info().Int("replayed", len(replayed)).Int("failed", len(failed)).Str("kind", kind).Msg("queue_dlq_replayed")
	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

// DeleteDLQ drops a single entry without replaying it.
func (h *AdminHandler) DeleteDLQ(w http.ResponseWriter, r *http.Request) {
	if !h.hasStore(w) {
		return
	}
	entry, err := h.lookup(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, errInvalidID):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	case errors.Is(err, ErrDLQEntryNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "dlq entry not found", nil)
		return
	case err != nil:
		internalError(w, err)
		return
	}
	if err := h.Store.DeleteQueueDlq(r.Context(), entry.ID); err != nil {
		internalError(w, err)
		return
	}
	h.refreshGauges(r.Context(), entry.Kind)
	h.Logger.Info().Str("dlq_id", entry.ID.String()).Str("kind", entry.Kind).Str("idempotency_key", entry.IdempotencyKey).Msg("queue_dlq_discarded")
	w.WriteHeader(http.StatusNoContent)
}

// Stats reports ready, in-flight and dead-lettered counts for one kind plus
// how long the oldest due task has been waiting.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.hasStore(w) || !h.hasQueue(w) {
		return
	}
	kind := kindParam(r.URL.Query().Get("kind"))
	if kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return
	}
	ctx := r.Context()
	queueKey := h.Queue.queueKey(kind)
	processingKey := Worker{Prefix: h.Queue.Prefix}.processingKey(kind)

	pipe := h.Queue.R.Pipeline()
	readyCmd := pipe.ZCard(ctx, queueKey)
	inflightCmd := pipe.ZCard(ctx, processingKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, queueKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		internalError(w, err)
		return
	}
	dlq, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		internalError(w, err)
		return
	}

	var lag time.Duration
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		if due := time.Unix(0, int64(oldest[0].Score)); due.Before(time.Now()) {
			lag = time.Since(due)
		}
	}
	QueueDepth.WithLabelValues(queueLabel(kind)).Set(float64(readyCmd.Val()))
	QueueDLQSize.WithLabelValues(queueLabel(kind)).Set(float64(dlq))

	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = time.Minute
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"kind":               kind,
		"ready":              readyCmd.Val(),
		"processing":         inflightCmd.Val(),
		"dlq":                dlq,
		"oldest_lag_ms":      lag.Milliseconds(),
		"visibility_timeout": visibility.Seconds(),
	})
}

var errInvalidID = errors.New("invalid uuid")

func (h *AdminHandler) lookup(ctx context.Context, raw string) (DLQEntry, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return DLQEntry{}, errInvalidID
	}
	entry, err := h.Store.GetQueueDlq(ctx, id)
	if errors.Is(err, ErrDLQEntryNotFound) {
		return DLQEntry{}, ErrDLQEntryNotFound
	}
	return entry, err
}

// requeue rewinds the message by one attempt, so a replayed order gets one
// more delivery before it can be dead-lettered again.
func (h *AdminHandler) requeue(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	accepted, err := h.Queue.EnqueueOnce(ctx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        max(msg.Attempt-1, 0),
	})
	if err != nil {
		return err
	}
	if !accepted {
		return errAlreadyQueued
	}
	if err := h.Store.DeleteQueueDlq(ctx, entry.ID); err != nil {
		return err
	}
	h.refreshGauges(ctx, msg.Kind)
	return nil
}

func (h *AdminHandler) refreshGauges(ctx context.Context, kind string) {
	if count, err := h.Store.CountQueueDlq(ctx, kind); err == nil {
		QueueDLQSize.WithLabelValues(queueLabel(kind)).Set(float64(count))
	}
	if h.Queue.R == nil {
		return
	}
	if depth, err := h.Queue.R.ZCard(ctx, h.Queue.queueKey(kind)).Result(); err == nil {
		QueueDepth.WithLabelValues(queueLabel(kind)).Set(float64(depth))
	}
}

func (h *AdminHandler) hasStore(w http.ResponseWriter) bool {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "dlq store not configured", nil)
		return false
	}
	return true
}

func (h *AdminHandler) hasQueue(w http.ResponseWriter) bool {
	if h.Queue.R == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue not configured", nil)
		return false
	}
	return true
}

func internalError(w http.ResponseWriter, err error) {
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 || h.PageSize > maxPageSize {
		return defaultPageSize
	}
	return h.PageSize
}

// kindParam normalises a kind filter; invalid kinds are passed through so
// they simply match nothing.
func kindParam(raw string) string {
	kind := strings.TrimSpace(raw)
	if sanitized := sanitizeKind(kind); sanitized != "" {
		return sanitized
	}
	return kind
}

func parsePagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	q := r.URL.Query()
	if v, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil && v > 0 && v <= maxPageSize {
		limit = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(q.Get("offset"))); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if _, dup := seen[v]; v == "" || dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
