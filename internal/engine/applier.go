package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalmed/vitalsync/internal/store"
)

// HTTPApplier applies pending items by posting them to the dispatch API.
// The item id doubles as an idempotency key so a retried POST after a lost
// response does not double-apply the action server side.
type HTTPApplier struct {
	serverURL string
	apiKey    string
	client    *http.Client
	logger    zerolog.Logger
}

// NewHTTPApplier creates an HTTP-based applier.
func NewHTTPApplier(serverURL, apiKey string, logger zerolog.Logger) *HTTPApplier {
	return &HTTPApplier{
		serverURL: serverURL,
		apiKey:    apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "http_applier").Logger(),
	}
}

// actionRequest is the wire form of a pending item.
type actionRequest struct {
	ID        string                `json:"id"`
	Type      string                `json:"type"`
	Data      json.RawMessage       `json:"data"`
	EntityID  string                `json:"entity_id,omitempty"`
	UserID    string                `json:"user_id"`
	QueuedAt  time.Time             `json:"queued_at"`
	Metadata  *store.ActionMetadata `json:"metadata,omitempty"`
	Attempt   int                   `json:"attempt,omitempty"`
}

// Apply posts the item to the server and succeeds on a 2xx response.
func (a *HTTPApplier) Apply(ctx context.Context, item *store.PendingItem) error {
	payload := actionRequest{
		ID:       item.ID,
		Type:     item.Action.Type,
		Data:     item.Action.Data,
		EntityID: item.Action.EntityID,
		UserID:   item.UserID,
		QueuedAt: item.Timestamp,
		Metadata: item.Action.Metadata,
		Attempt:  item.RetryCount,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.serverURL+"/api/v1/sync/actions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", a.apiKey)
	req.Header.Set("X-Idempotency-Key", item.ID)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send action: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	a.logger.Debug().
		Str("item_id", item.ID).
		Str("action_type", item.Action.Type).
		Msg("action applied to server")

	return nil
}
