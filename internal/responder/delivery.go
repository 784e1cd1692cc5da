package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// LogResponder writes replies to the structured log. Used when no
// outbound webhook is configured, and in tests.
type LogResponder struct {
	logger *slog.Logger
}

// NewLogResponder builds the log-backed responder.
func NewLogResponder(logger *slog.Logger) *LogResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogResponder{logger: logger}
}

// Send logs the reply.
func (r *LogResponder) Send(_ context.Context, reply Reply) error {
	r.logger.Info("triage reply",
		slog.String("incident_key", reply.IncidentKey),
		slog.String("kind", string(reply.Kind)),
		slog.String("text", reply.Text))
	return nil
}

// WebhookResponder POSTs replies as JSON to a configured endpoint, the
// hook the chat transport subscribes to.
type WebhookResponder struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookResponder builds the webhook-backed responder.
func NewWebhookResponder(url string, timeout time.Duration, logger *slog.Logger) *WebhookResponder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookResponder{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Send delivers one reply. A non-2xx response is an error; retries are
// the transport's concern, not ours.
func (r *WebhookResponder) Send(ctx context.Context, reply Reply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("reply webhook returned status %d", resp.StatusCode)
	}
	r.logger.Debug("reply delivered",
		slog.String("incident_key", reply.IncidentKey),
		slog.String("kind", string(reply.Kind)))
	return nil
}
