package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend persists each slot as a file under a data directory. Writes go
// through a temp file and rename so a crashed write never leaves a slot
// half-applied.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend creates a file-based backend rooted at dir, creating the
// directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(slot string) string {
	return filepath.Join(b.dir, slot+".json")
}

// Get returns the raw bytes of a slot, or ErrSlotNotFound.
func (b *FileBackend) Get(_ context.Context, slot string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path(slot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("read slot file: %w", err)
	}
	return data, nil
}

// Put overwrites the slot atomically via temp file and rename.
func (b *FileBackend) Put(_ context.Context, slot string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tmp := b.path(slot) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write slot temp file: %w", err)
	}
	if err := os.Rename(tmp, b.path(slot)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit slot file: %w", err)
	}
	return nil
}

// Delete removes the slot file.
func (b *FileBackend) Delete(_ context.Context, slot string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.Remove(b.path(slot)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove slot file: %w", err)
	}
	return nil
}

// Slots lists the slot names currently present.
func (b *FileBackend) Slots(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	return names, nil
}

// Close is a no-op for the file backend.
func (b *FileBackend) Close() error { return nil }
