package stats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vitalmed/vitalsync/internal/store"
)

func item(id string, ts time.Time, retries int) *store.PendingItem {
	return &store.PendingItem{
		ID:         id,
		Timestamp:  ts,
		Action:     store.Action{Type: "UPDATE_PROFILE", Data: json.RawMessage(`{}`)},
		UserID:     "u",
		RetryCount: retries,
		MaxRetries: 3,
	}
}

func TestComputeEmpty(t *testing.T) {
	snap := Compute(nil, nil, time.Now())

	if snap.PendingCount != 0 {
		t.Errorf("pending count: %d", snap.PendingCount)
	}
	if snap.HasFailedItems {
		t.Error("empty queue reports failed items")
	}
	if snap.OldestPending != nil {
		t.Error("empty queue has oldest pending")
	}
	if snap.SyncAgeMinutes != nil {
		t.Error("never-synced store has sync age")
	}
}

func TestCompute(t *testing.T) {
	now := time.Now()
	oldest := now.Add(-45 * time.Minute)
	items := []*store.PendingItem{
		item("a", now.Add(-10*time.Minute), 0),
		item("b", oldest, 2),
		item("c", now.Add(-5*time.Minute), 0),
	}
	lastSync := now.Add(-30 * time.Minute)

	snap := Compute(items, &lastSync, now)

	if snap.PendingCount != 3 {
		t.Errorf("pending count: %d", snap.PendingCount)
	}
	if !snap.HasFailedItems {
		t.Error("retried item not reported as failed")
	}
	if snap.OldestPending == nil || !snap.OldestPending.Equal(oldest) {
		t.Errorf("oldest pending mismatch: %v", snap.OldestPending)
	}
	if snap.SyncAgeMinutes == nil || *snap.SyncAgeMinutes < 29.9 || *snap.SyncAgeMinutes > 30.1 {
		t.Errorf("sync age mismatch: %v", snap.SyncAgeMinutes)
	}
}

func TestComputeNoFailures(t *testing.T) {
	now := time.Now()
	items := []*store.PendingItem{item("a", now, 0)}

	snap := Compute(items, nil, now)
	if snap.HasFailedItems {
		t.Error("fresh items reported as failed")
	}
	if snap.SyncAgeMinutes != nil {
		t.Error("nil last sync produced a sync age")
	}
}
