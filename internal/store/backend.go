package store

import (
	"context"
	"sync"
)

// Backend is the raw byte-level storage under the slot store. Implementations
// must treat each slot write as atomic; partial writes must never be visible
// to a subsequent Get.
type Backend interface {
	// Get returns the raw bytes of a slot, or ErrSlotNotFound.
	Get(ctx context.Context, slot string) ([]byte, error)
	// Put overwrites the slot with the given bytes.
	Put(ctx context.Context, slot string, data []byte) error
	// Delete removes the slot. Deleting an absent slot is not an error.
	Delete(ctx context.Context, slot string) error
	// Slots lists the slot names currently present.
	Slots(ctx context.Context) ([]string, error)
	// Close releases any resources held by the backend.
	Close() error
}

// MemoryBackend is an in-memory Backend used for tests and ephemeral sessions.
type MemoryBackend struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{slots: make(map[string][]byte)}
}

// Get returns the raw bytes of a slot, or ErrSlotNotFound.
func (b *MemoryBackend) Get(_ context.Context, slot string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.slots[slot]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Put overwrites the slot with the given bytes.
func (b *MemoryBackend) Put(_ context.Context, slot string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.slots[slot] = cp
	return nil
}

// Delete removes the slot.
func (b *MemoryBackend) Delete(_ context.Context, slot string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.slots, slot)
	return nil
}

// Slots lists the slot names currently present.
func (b *MemoryBackend) Slots(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.slots))
	for name := range b.slots {
		names = append(names, name)
	}
	return names, nil
}

// Close is a no-op for the memory backend.
func (b *MemoryBackend) Close() error { return nil }
