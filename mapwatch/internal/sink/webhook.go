package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v5"

	"github.com/arpentry/poiportal/mapwatch/signal"
	"github.com/arpentry/poiportal/netguard"
)

// Webhook POSTs JSON to a URL with retry and exponential backoff.
type Webhook struct {
	url          string
	client       *http.Client
	attempts     int
	logger       *slog.Logger
	allowPrivate bool
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookAttempts sets the total number of delivery attempts. Default: 4.
func WithWebhookAttempts(n int) WebhookOption {
	return func(w *Webhook) { w.attempts = n }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// WithWebhookAllowPrivate skips the private-address check, for
// collectors on loopback or RFC1918 addresses.
func WithWebhookAllowPrivate() WebhookOption {
	return func(w *Webhook) { w.allowPrivate = true }
}

// NewWebhook creates a Webhook sink targeting the given URL. URLs
// resolving to private or loopback addresses are rejected unless
// WithWebhookAllowPrivate is set.
func NewWebhook(url string, opts ...WebhookOption) (*Webhook, error) {
	w := &Webhook{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: 4,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	if !w.allowPrivate {
		if err := netguard.ValidateURL(url); err != nil {
			return nil, fmt.Errorf("webhook: %w", err)
		}
	}
	return w, nil
}

func (w *Webhook) Send(ctx context.Context, ev signal.Event) error {
	return w.post(ctx, "event", ev)
}

func (w *Webhook) SendStatus(ctx context.Context, st signal.Status) error {
	return w.post(ctx, "status", st)
}

func (w *Webhook) Close() error { return nil }

func (w *Webhook) post(ctx context.Context, typ string, data any) error {
	body, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	attempt := 0
	err = retry.New(
		retry.Attempts(uint(w.attempts)),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("webhook: request failed", "attempt", attempt, "error", err)
			return err
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		w.logger.Warn("webhook: bad status", "attempt", attempt, "status", resp.StatusCode)
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	})
	if err != nil {
		return fmt.Errorf("webhook: delivery failed: %w", err)
	}
	return nil
}
