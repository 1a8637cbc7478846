package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/signportal/signportal/internal/security"
)

// WebhookOutput posts notifications as JSON to an arbitrary HTTP endpoint.
// This covers Zapier-style automation hooks and internal chat bridges that
// accept a {"text": "..."} payload.
type WebhookOutput struct {
	name   string
	url    string
	client *http.Client
}

// webhookPayload is the request body posted to the endpoint.
type webhookPayload struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// NewWebhookOutput creates a new generic webhook output.
// The URL is validated against internal network targets since it comes
// from user configuration.
func NewWebhookOutput(name, url string) (*WebhookOutput, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if err := security.ValidateHTTPURL(url); err != nil {
		return nil, err
	}

	return &WebhookOutput{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Name returns "webhook".
func (w *WebhookOutput) Name() string {
	return "webhook"
}

// Send posts the message to the configured endpoint.
func (w *WebhookOutput) Send(ctx context.Context, message string) error {
	payload := webhookPayload{
		Source: w.name,
		Text:   message,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook error: status %d", resp.StatusCode)
	}

	return nil
}

// Close is a no-op for webhook output.
func (w *WebhookOutput) Close() error {
	return nil
}
