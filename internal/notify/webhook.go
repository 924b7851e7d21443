// Package notify delivers best-effort webhook notifications.
//
// Delivery is fire-and-forget from the session's point of view: a
// failed POST is reported in the function result but never retried and
// never escalated past the dispatch boundary.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Source tags every payload so the receiving workflow can tell voice
// initiated notifications apart from other producers.
const Source = "vapi-function-call"

const maxResponseBytes = 4 << 10

// Delivery describes one webhook attempt.
type Delivery struct {
	Endpoint     string         `json:"webhook_url"`
	StatusCode   int            `json:"response_status,omitempty"`
	ResponseBody string         `json:"response_data,omitempty"`
	Payload      map[string]any `json:"sent_payload,omitempty"`
}

// Webhook posts JSON notifications to a fixed endpoint.
type Webhook struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
	now      func() time.Time
}

func NewWebhook(endpoint string, client *http.Client, log *zap.Logger) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Webhook{endpoint: endpoint, client: client, log: log, now: time.Now}
}

// Send posts {message, timestamp, source, ...extra} to the configured
// endpoint. Any non-2xx response is returned as an error alongside the
// delivery details; there is no retry.
func (w *Webhook) Send(ctx context.Context, message string, extra map[string]any) (Delivery, error) {
	payload := map[string]any{
		"message":   message,
		"timestamp": w.now().UTC().Format(time.RFC3339),
		"source":    Source,
	}
	for k, v := range extra {
		payload[k] = v
	}

	d := Delivery{Endpoint: w.endpoint, Payload: payload}

	body, err := json.Marshal(payload)
	if err != nil {
		return d, fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return d, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn("webhook delivery failed", zap.String("endpoint", w.endpoint), zap.Error(err))
		return d, fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	d.StatusCode = resp.StatusCode
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	d.ResponseBody = string(respBody)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.log.Warn("webhook rejected",
			zap.String("endpoint", w.endpoint),
			zap.Int("status", resp.StatusCode))
		return d, fmt.Errorf("webhook request failed with status %d: %s", resp.StatusCode, d.ResponseBody)
	}

	w.log.Debug("webhook delivered", zap.String("endpoint", w.endpoint), zap.Int("status", resp.StatusCode))
	return d, nil
}
