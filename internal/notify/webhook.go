package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookPayload is the JSON body posted to the webhook endpoint.
type WebhookPayload struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// WebhookEmitter posts status events to an operations webhook so a dispatch
// desk can see clients running in degraded mode. Delivery is best effort:
// send failures are logged and dropped.
type WebhookEmitter struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookEmitter creates a webhook-backed emitter.
func NewWebhookEmitter(url string, logger zerolog.Logger) *WebhookEmitter {
	return &WebhookEmitter{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger.With().Str("component", "webhook_notifier").Logger(),
	}
}

// WentOffline posts the offline transition.
func (e *WebhookEmitter) WentOffline() {
	e.post("client.went_offline", nil)
}

// SyncCompleted posts the pass summary.
func (e *WebhookEmitter) SyncCompleted(syncedCount, failedCount int) {
	e.post("sync.completed", map[string]int{
		"synced_count": syncedCount,
		"failed_count": failedCount,
	})
}

// SyncFailed posts the failure.
func (e *WebhookEmitter) SyncFailed(err error) {
	e.post("sync.failed", map[string]string{"error": err.Error()})
}

func (e *WebhookEmitter) post(eventType string, data any) {
	payload := WebhookPayload{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn().Err(err).Str("event_type", eventType).Msg("marshal webhook payload failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		e.logger.Warn().Err(err).Str("event_type", eventType).Msg("create webhook request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn().Err(err).Str("event_type", eventType).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e.logger.Warn().
			Int("status", resp.StatusCode).
			Str("event_type", eventType).
			Msg("webhook endpoint rejected event")
	}
}
