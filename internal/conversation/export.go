package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/combot/combot/internal/models"
)

// WebhookExporter posts saved conversations as JSON to a URL
type WebhookExporter struct {
	url        string
	httpClient *http.Client
	maxTries   uint
}

// NewWebhookExporter creates an exporter for url
func NewWebhookExporter(url string, timeout time.Duration) *WebhookExporter {
	return &WebhookExporter{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		maxTries:   3,
	}
}

// Export implements Exporter. 5xx responses are retried.
func (e *WebhookExporter) Export(ctx context.Context, rec *models.ConversationRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to post conversation: %w", err)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("export endpoint returned %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return struct{}{}, backoff.Permanent(fmt.Errorf("export endpoint returned %d", resp.StatusCode))
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(e.maxTries),
	)
	return err
}
