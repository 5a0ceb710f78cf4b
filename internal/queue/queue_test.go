package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vitalmed/vitalsync/internal/store"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func testAction(t ActionType) store.Action {
	return store.Action{Type: string(t), Data: json.RawMessage(`{"field":"value"}`)}
}

func TestEnqueueValidation(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend(), testLogger())
	q := New(ctx, st, DefaultConfig(), testLogger())

	// Unknown type is rejected, not silently accepted.
	_, err := q.Enqueue(ctx, store.Action{Type: "DELETE_EVERYTHING", Data: json.RawMessage(`{}`)}, "user-1")
	if !errors.Is(err, ErrUnknownActionType) {
		t.Fatalf("expected ErrUnknownActionType, got %v", err)
	}

	// Missing payload is rejected.
	_, err = q.Enqueue(ctx, store.Action{Type: string(ActionUpdateProfile)}, "user-1")
	if !errors.Is(err, ErrMissingActionData) {
		t.Fatalf("expected ErrMissingActionData, got %v", err)
	}

	// Missing user is rejected.
	_, err = q.Enqueue(ctx, testAction(ActionUpdateProfile), "")
	if !errors.Is(err, ErrMissingUserID) {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}

	if q.Len() != 0 {
		t.Errorf("rejected enqueues must not mutate the queue, len=%d", q.Len())
	}

	item, err := q.Enqueue(ctx, testAction(ActionCreateEmergencyRequest), "user-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if item.ID == "" || item.RetryCount != 0 || item.MaxRetries != store.DefaultMaxRetries {
		t.Errorf("unexpected item bookkeeping: %+v", item)
	}
}

func TestEnqueueBounds(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend(), testLogger())
	q := New(ctx, st, DefaultConfig(), testLogger())

	for i := 0; i < 150; i++ {
		action := store.Action{
			Type:     string(ActionUpdateProfile),
			Data:     json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
			EntityID: fmt.Sprintf("entity-%d", i),
		}
		if _, err := q.Enqueue(ctx, action, "user-1"); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	if q.Len() != 100 {
		t.Fatalf("expected 100 retained items, got %d", q.Len())
	}

	// The survivors must be the 100 most recently enqueued (50..149).
	items := q.Snapshot()
	if items[0].Action.EntityID != "entity-50" {
		t.Errorf("oldest survivor mismatch: %s", items[0].Action.EntityID)
	}
	if items[99].Action.EntityID != "entity-149" {
		t.Errorf("newest survivor mismatch: %s", items[99].Action.EntityID)
	}

	// Eviction must be persisted too.
	if persisted := st.LoadQueue(ctx); len(persisted) != 100 {
		t.Errorf("persisted queue length mismatch: %d", len(persisted))
	}
}

func TestPeekDisplayable(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend(), testLogger())
	q := New(ctx, st, DefaultConfig(), testLogger())

	for i := 0; i < 8; i++ {
		if _, err := q.Enqueue(ctx, testAction(ActionRateService), "user-1"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	head := q.PeekDisplayable(0)
	if len(head) != DefaultPeekLimit {
		t.Errorf("default peek limit mismatch: %d", len(head))
	}
	if q.Len() != 8 {
		t.Error("peek must not mutate the queue")
	}

	all := q.PeekDisplayable(20)
	if len(all) != 8 {
		t.Errorf("peek beyond length mismatch: %d", len(all))
	}
}

func TestRemoveByID(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend(), testLogger())
	q := New(ctx, st, DefaultConfig(), testLogger())

	a, _ := q.Enqueue(ctx, testAction(ActionCancelService), "user-1")
	b, _ := q.Enqueue(ctx, testAction(ActionRateService), "user-1")

	if err := q.RemoveByID(ctx, a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if q.Len() != 1 || q.Snapshot()[0].ID != b.ID {
		t.Error("wrong item removed")
	}

	// Removing an unknown id is a no-op.
	if err := q.RemoveByID(ctx, "nope"); err != nil {
		t.Fatalf("remove unknown: %v", err)
	}
	if q.Len() != 1 {
		t.Error("remove of unknown id mutated the queue")
	}
}

func TestRequeueWithRetry(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend(), testLogger())
	q := New(ctx, st, DefaultConfig(), testLogger())

	failing, _ := q.Enqueue(ctx, testAction(ActionUpdateMedicalInfo), "user-1")
	later, _ := q.Enqueue(ctx, testAction(ActionAddEmergencyContact), "user-1")

	if err := q.RequeueWithRetry(ctx, failing, errors.New("gateway timeout")); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	items := q.Snapshot()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	// Re-queued item moves to the tail.
	if items[0].ID != later.ID || items[1].ID != failing.ID {
		t.Errorf("requeue did not move item to tail: %s, %s", items[0].ID, items[1].ID)
	}
	if items[1].RetryCount != 1 {
		t.Errorf("retry count not incremented: %d", items[1].RetryCount)
	}
	if items[1].LastError != "gateway timeout" || items[1].LastRetryAt == nil {
		t.Errorf("failure bookkeeping missing: %+v", items[1])
	}
}

func TestQueuePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	st := store.New(backend, testLogger())

	q := New(ctx, st, DefaultConfig(), testLogger())
	item, err := q.Enqueue(ctx, testAction(ActionCreateEmergencyRequest), "user-9")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	q2 := New(ctx, st, DefaultConfig(), testLogger())
	if q2.Len() != 1 {
		t.Fatalf("queue not restored, len=%d", q2.Len())
	}
	restored := q2.Snapshot()[0]
	if restored.ID != item.ID || restored.UserID != "user-9" {
		t.Errorf("restored item mismatch: %+v", restored)
	}
}
