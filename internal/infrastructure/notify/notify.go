// Package notify delivers monitor alerts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/facolos/etl/internal/domain/pipeline"
)

// LogNotifier writes alerts to the log. Critical alerts log at error level.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the alert
func (n *LogNotifier) Notify(_ context.Context, alert pipeline.Alert) error {
	fields := []zap.Field{
		zap.String("source_id", alert.SourceID),
		zap.String("rule", alert.Rule),
		zap.String("severity", string(alert.Severity)),
		zap.Time("raised_at", alert.RaisedAt),
	}
	if alert.Severity == pipeline.SeverityCritical {
		n.logger.Error(alert.Message, fields...)
	} else {
		n.logger.Warn(alert.Message, fields...)
	}
	return nil
}

// WebhookPayload is the JSON body posted for every alert. Text makes it
// readable by chat webhooks that only render that field.
type WebhookPayload struct {
	Text     string    `json:"text"`
	Severity string    `json:"severity"`
	SourceID string    `json:"source_id"`
	Rule     string    `json:"rule"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raised_at"`
}

// WebhookNotifier posts alerts as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// WebhookOption configures a WebhookNotifier
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(n *WebhookNotifier) {
		n.client = c
	}
}

// NewWebhookNotifier creates a notifier posting to url
func NewWebhookNotifier(url string, opts ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify posts the alert. Any non-2xx response is an error.
func (n *WebhookNotifier) Notify(ctx context.Context, alert pipeline.Alert) error {
	body, err := json.Marshal(WebhookPayload{
		Text:     alert.String(),
		Severity: string(alert.Severity),
		SourceID: alert.SourceID,
		Rule:     alert.Rule,
		Message:  alert.Message,
		RaisedAt: alert.RaisedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

var (
	_ pipeline.Notifier = (*LogNotifier)(nil)
	_ pipeline.Notifier = (*WebhookNotifier)(nil)
)
