package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// WebhookPayload is what the external channel receives per message.
type WebhookPayload struct {
	MessageID    int64       `json:"message_id"`
	RoomID       uuid.UUID   `json:"room_id"`
	SenderID     uuid.UUID   `json:"sender_id"`
	RecipientIDs []uuid.UUID `json:"recipient_ids"`
	BodyExcerpt  string      `json:"body_excerpt"`
}

// transientError marks failures worth retrying: timeouts, 5xx,
// rate limiting. Everything else is permanent.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// IsTransient reports whether err is a retryable delivery failure.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// WebhookClient posts notification payloads to the configured external
// endpoint. An empty URL disables it.
type WebhookClient struct {
	url    string
	client *http.Client
}

func NewWebhookClient(url string, timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an endpoint is set.
func (w *WebhookClient) Configured() bool {
	return w.url != ""
}

// Deliver posts the payload. A timeout or connection error, HTTP 408,
// 429, or any 5xx comes back as a transient error; other non-2xx
// statuses are permanent.
func (w *WebhookClient) Deliver(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		// Network-level failures, including client timeout, are transient.
		return &transientError{err: fmt.Errorf("post webhook: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &transientError{err: fmt.Errorf("webhook status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
}
