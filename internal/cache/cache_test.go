package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalmed/vitalsync/internal/store"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend(), testLogger())
	c := New(ctx, st, DefaultConfig(), testLogger())

	payload := map[string]any{"plan": "family", "members": 4}
	if err := c.Put(ctx, "plan:fam-42", payload); err != nil {
		t.Fatalf("put: %v", err)
	}

	entry := c.Get(ctx, "plan:fam-42")
	if entry == nil {
		t.Fatal("entry not found")
	}
	if entry.Synced {
		t.Error("fresh entry must not be marked synced")
	}
	if entry.SizeBytes != int64(len(entry.Data)) {
		t.Errorf("size mismatch: %d vs %d", entry.SizeBytes, len(entry.Data))
	}

	var decoded map[string]any
	if err := json.Unmarshal(entry.Data, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["plan"] != "family" {
		t.Errorf("payload mismatch: %v", decoded)
	}

	if got := c.Get(ctx, "missing"); got != nil {
		t.Errorf("expected nil for missing key, got %+v", got)
	}
}

func TestPutRejectsOversizeEntry(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend(), testLogger())
	c := New(ctx, st, Config{MaxEntryBytes: 64}, testLogger())

	big := make([]byte, 256)
	err := c.Put(ctx, "too-big", string(big))
	if !errors.Is(err, ErrEntryTooLarge) {
		t.Fatalf("expected ErrEntryTooLarge, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("rejected put must not mutate the cache")
	}
}

func TestExpiredEntryEvictedOnRead(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	st := store.New(backend, testLogger())

	// Seed the persisted slot with an entry written 8 days ago.
	stale := &store.OfflineEntry{
		Key:       "contracts:list",
		Data:      json.RawMessage(`[{"id":"c1"}]`),
		Timestamp: time.Now().Add(-8 * 24 * time.Hour),
		SizeBytes: 13,
	}
	if err := st.SaveCache(ctx, map[string]*store.OfflineEntry{stale.Key: stale}); err != nil {
		t.Fatalf("seed cache slot: %v", err)
	}

	c := New(ctx, st, DefaultConfig(), testLogger())
	if c.Len() != 1 {
		t.Fatalf("expected 1 loaded entry, got %d", c.Len())
	}

	if entry := c.Get(ctx, "contracts:list"); entry != nil {
		t.Fatalf("expired entry returned: %+v", entry)
	}
	if c.Len() != 0 {
		t.Error("expired entry not removed as a side effect of the read")
	}

	// The eviction must also be persisted.
	if persisted := st.LoadCache(ctx); len(persisted) != 0 {
		t.Errorf("expired entry still persisted: %v", persisted)
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend(), testLogger())

	fresh := &store.OfflineEntry{Key: "a", Data: json.RawMessage(`1`), Timestamp: time.Now(), SizeBytes: 1}
	stale := &store.OfflineEntry{Key: "b", Data: json.RawMessage(`2`), Timestamp: time.Now().Add(-30 * 24 * time.Hour), SizeBytes: 1}
	if err := st.SaveCache(ctx, map[string]*store.OfflineEntry{"a": fresh, "b": stale}); err != nil {
		t.Fatalf("seed cache slot: %v", err)
	}

	c := New(ctx, st, DefaultConfig(), testLogger())
	if evicted := c.Sweep(ctx); evicted != 1 {
		t.Errorf("expected 1 evicted, got %d", evicted)
	}
	if c.Get(ctx, "a") == nil {
		t.Error("fresh entry swept")
	}
}

func TestMarkSynced(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend(), testLogger())
	c := New(ctx, st, DefaultConfig(), testLogger())

	if err := c.Put(ctx, "profile:u1", map[string]string{"name": "A"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.MarkSynced(ctx, "profile:u1"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if entry := c.Get(ctx, "profile:u1"); entry == nil || !entry.Synced {
		t.Error("entry not marked synced")
	}

	// Reload from store: the flag must be durable.
	c2 := New(ctx, st, DefaultConfig(), testLogger())
	if entry := c2.Get(ctx, "profile:u1"); entry == nil || !entry.Synced {
		t.Error("synced flag not persisted")
	}
}

func TestOverwriteReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend(), testLogger())
	c := New(ctx, st, DefaultConfig(), testLogger())

	if err := c.Put(ctx, "k", map[string]int{"a": 1, "b": 2}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Put(ctx, "k", map[string]int{"c": 3}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	entry := c.Get(ctx, "k")
	var decoded map[string]int
	if err := json.Unmarshal(entry.Data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 || decoded["c"] != 3 {
		t.Errorf("overwrite was not a full replacement: %v", decoded)
	}
}
