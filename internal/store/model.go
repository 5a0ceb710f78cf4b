// Package store provides durable slot-based persistence for the offline
// sync layer. It knows the shape of the three persisted slots (offline
// cache map, pending action list, last-sync watermark) but nothing about
// action semantics.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

// Slot names for the three persisted records.
const (
	SlotOfflineData = "offline_data"
	SlotPendingSync = "pending_sync"
	SlotLastSync    = "last_sync"
)

// DefaultMaxRetries is the retry cap applied to newly enqueued items.
const DefaultMaxRetries = 3

var (
	// ErrSlotNotFound is returned by backends when a slot has never been written.
	ErrSlotNotFound = errors.New("slot not found")
	// ErrInvalidSlotValue indicates a value failed structural validation on save.
	ErrInvalidSlotValue = errors.New("invalid slot value")
)

// OfflineEntry is one cached payload available for offline reads.
type OfflineEntry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Synced    bool            `json:"synced"`
	SizeBytes int64           `json:"size_bytes"`
}

// ActionMetadata carries optional client context attached to an action.
type ActionMetadata struct {
	UserAgent  string     `json:"user_agent,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	RetryCount int        `json:"retry_count,omitempty"`
}

// Action is a state-changing operation queued for remote application.
// The payload is opaque to the sync layer; Type is validated by the queue.
type Action struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	EntityID string          `json:"entity_id,omitempty"`
	Metadata *ActionMetadata `json:"metadata,omitempty"`
}

// PendingItem is one queued action awaiting synchronization.
type PendingItem struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Action      Action     `json:"action"`
	UserID      string     `json:"user_id"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastError   string     `json:"last_error,omitempty"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
}

// validateEntry checks the structural invariants of a cache entry.
func validateEntry(key string, e *OfflineEntry) error {
	if e == nil {
		return ErrInvalidSlotValue
	}
	if e.Key == "" || e.Key != key {
		return ErrInvalidSlotValue
	}
	if e.Timestamp.IsZero() {
		return ErrInvalidSlotValue
	}
	if e.SizeBytes < 0 {
		return ErrInvalidSlotValue
	}
	return nil
}

// validateItem checks the structural invariants of a pending item.
func validateItem(item *PendingItem) error {
	if item == nil {
		return ErrInvalidSlotValue
	}
	if item.ID == "" || item.UserID == "" {
		return ErrInvalidSlotValue
	}
	if item.Timestamp.IsZero() {
		return ErrInvalidSlotValue
	}
	if item.Action.Type == "" || len(item.Action.Data) == 0 {
		return ErrInvalidSlotValue
	}
	if item.MaxRetries <= 0 {
		return ErrInvalidSlotValue
	}
	if item.RetryCount < 0 || item.RetryCount > item.MaxRetries {
		return ErrInvalidSlotValue
	}
	return nil
}
