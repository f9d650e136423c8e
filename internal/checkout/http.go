package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-lunch/internal/common"
	"github.com/noah-isme/backend-lunch/internal/order"
)

// Doer executes an outbound request; resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPSubmitter posts snapshots to the kitchen endpoint.
//
// 2xx and 409 (the kitchen already holds this idempotency key) are
// acknowledgements. Other 4xx responses are permanent rejections; 5xx
// responses, transport errors and an open breaker are transient.
type HTTPSubmitter struct {
	Endpoint  string
	Client    Doer
	UserAgent string
}

type kitchenResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Submit implements order.Submitter.
func (h HTTPSubmitter) Submit(ctx context.Context, snap order.Snapshot) (order.Receipt, error) {
	ctx, span := otel.Tracer("checkout.HTTPSubmitter").Start(ctx, "HTTPSubmitter.Submit")
	defer span.End()

	if h.Client == nil {
		return order.Receipt{}, order.Permanent(errors.New("checkout: kitchen client not configured"))
	}
	if err := validateEndpoint(h.Endpoint); err != nil {
		span.RecordError(err)
		return order.Receipt{}, order.Permanent(err)
	}
	snap.Reference = ReferenceFor(snap)
	if snap.IdempotencyKey == "" {
		snap.IdempotencyKey = order.IdempotencyKey(snap)
	}
	span.SetAttributes(
		attribute.String("order.reference", snap.Reference),
		attribute.String("order.idempotency_key", snap.IdempotencyKey),
		attribute.Int("order.lines", len(snap.Items)),
	)

	body, err := json.Marshal(snap)
	if err != nil {
		return order.Receipt{}, order.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return order.Receipt{}, order.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(common.IdempotencyHeader, snap.IdempotencyKey)
	ua := h.UserAgent
	if ua == "" {
		ua = "backend-lunch/1.0"
	}
	req.Header.Set("User-Agent", ua)

	resp, err := h.Client.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return order.Receipt{}, order.Transient(err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		span.RecordError(err)
		return order.Receipt{}, order.Transient(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusConflict:
		receipt := order.Receipt{Reference: snap.Reference, Status: order.StatusConfirmed}
		var kr kitchenResponse
		if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &kr) == nil {
			if kr.Reference != "" {
				receipt.Reference = kr.Reference
			}
			if status, err := order.ParseStatus(kr.Status); err == nil {
				receipt.Status = status
			}
		}
		return receipt, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		err := fmt.Errorf("checkout: kitchen rejected order: %s: %s", resp.Status, snippet(raw))
		span.RecordError(err)
		return order.Receipt{}, order.Permanent(err)
	default:
		err := fmt.Errorf("checkout: unexpected kitchen response %s", resp.Status)
		span.RecordError(err)
		return order.Receipt{}, order.Transient(err)
	}
}

// NewKitchenClient returns an http.Client instrumented with otelhttp.
func NewKitchenClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func validateEndpoint(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("checkout: kitchen endpoint not configured")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("checkout: invalid kitchen endpoint: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("checkout: kitchen endpoint must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("checkout: kitchen endpoint must include host")
	}
	return nil
}

func snippet(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return "empty body"
	}
	return text
}
