// Package stats derives read-only summaries from the pending queue and the
// last-sync watermark for display by the host application.
package stats

import (
	"time"

	"github.com/vitalmed/vitalsync/internal/store"
)

// Snapshot is a point-in-time summary of the sync layer's backlog.
type Snapshot struct {
	// PendingCount is the number of actions awaiting synchronization.
	PendingCount int `json:"pending_count"`
	// HasFailedItems is true when any pending action has already failed at
	// least one sync attempt.
	HasFailedItems bool `json:"has_failed_items"`
	// OldestPending is the enqueue time of the oldest pending action, or nil
	// when the queue is empty.
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
	// SyncAgeMinutes is the number of minutes since the last sync pass, or
	// nil when no pass has ever run.
	SyncAgeMinutes *float64 `json:"sync_age_minutes,omitempty"`
}

// Compute builds a Snapshot from a queue snapshot and the watermark. It is a
// pure function with no side effects.
func Compute(items []*store.PendingItem, lastSync *time.Time, now time.Time) Snapshot {
	snap := Snapshot{PendingCount: len(items)}

	for _, item := range items {
		if item.RetryCount > 0 {
			snap.HasFailedItems = true
		}
		if snap.OldestPending == nil || item.Timestamp.Before(*snap.OldestPending) {
			ts := item.Timestamp
			snap.OldestPending = &ts
		}
	}

	if lastSync != nil {
		age := now.Sub(*lastSync).Minutes()
		if age < 0 {
			age = 0
		}
		snap.SyncAgeMinutes = &age
	}

	return snap
}
