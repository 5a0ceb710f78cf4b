package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Store reads and writes the three persisted slots through a Backend,
// validating values on save and recovering from corrupt content on load.
// A corrupt slot is never surfaced to the caller: it is logged, treated as
// empty, and erased so future loads start clean.
type Store struct {
	backend Backend
	codec   Codec
	logger  zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec applied to slot bytes before they reach the
// backend (compression, encryption).
func WithCodec(c Codec) Option {
	return func(s *Store) { s.codec = c }
}

// New creates a slot store over the given backend.
func New(backend Backend, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		codec:   nopCodec{},
		logger:  logger.With().Str("component", "slot_store").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadCache returns the offline cache map. A missing or corrupt slot yields
// an empty map.
func (s *Store) LoadCache(ctx context.Context) map[string]*OfflineEntry {
	cache := make(map[string]*OfflineEntry)
	if !s.loadSlot(ctx, SlotOfflineData, &cache) {
		return make(map[string]*OfflineEntry)
	}
	for key, entry := range cache {
		if err := validateEntry(key, entry); err != nil {
			s.recoverSlot(ctx, SlotOfflineData, fmt.Errorf("entry %q: %w", key, err))
			return make(map[string]*OfflineEntry)
		}
	}
	return cache
}

// SaveCache validates and persists the offline cache map. Invalid values are
// rejected with ErrInvalidSlotValue and nothing is written.
func (s *Store) SaveCache(ctx context.Context, cache map[string]*OfflineEntry) error {
	for key, entry := range cache {
		if err := validateEntry(key, entry); err != nil {
			return fmt.Errorf("cache entry %q: %w", key, err)
		}
	}
	return s.saveSlot(ctx, SlotOfflineData, cache)
}

// LoadQueue returns the pending action list. A missing or corrupt slot
// yields an empty list.
func (s *Store) LoadQueue(ctx context.Context) []*PendingItem {
	var items []*PendingItem
	if !s.loadSlot(ctx, SlotPendingSync, &items) {
		return nil
	}
	for _, item := range items {
		if err := validateItem(item); err != nil {
			s.recoverSlot(ctx, SlotPendingSync, err)
			return nil
		}
	}
	return items
}

// SaveQueue validates and persists the pending action list.
func (s *Store) SaveQueue(ctx context.Context, items []*PendingItem) error {
	for _, item := range items {
		if err := validateItem(item); err != nil {
			return fmt.Errorf("pending item %q: %w", itemID(item), err)
		}
	}
	return s.saveSlot(ctx, SlotPendingSync, items)
}

// LoadLastSync returns the last-sync watermark, or nil if never synced.
func (s *Store) LoadLastSync(ctx context.Context) *time.Time {
	var stamp string
	if !s.loadSlot(ctx, SlotLastSync, &stamp) {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		s.recoverSlot(ctx, SlotLastSync, err)
		return nil
	}
	return &t
}

// SaveLastSync persists the last-sync watermark.
func (s *Store) SaveLastSync(ctx context.Context, t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("last sync: %w", ErrInvalidSlotValue)
	}
	return s.saveSlot(ctx, SlotLastSync, t.UTC().Format(time.RFC3339Nano))
}

// ClearAll wipes every named slot.
func (s *Store) ClearAll(ctx context.Context) error {
	names, err := s.backend.Slots(ctx)
	if err != nil {
		return fmt.Errorf("list slots: %w", err)
	}
	for _, name := range names {
		if err := s.backend.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete slot %s: %w", name, err)
		}
	}
	s.logger.Info().Int("slot_count", len(names)).Msg("offline data cleared")
	return nil
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// loadSlot fills v from a slot. It returns false when the slot is absent or
// its contents could not be decoded, in which case the corrupt slot has
// already been erased.
func (s *Store) loadSlot(ctx context.Context, slot string, v any) bool {
	raw, err := s.backend.Get(ctx, slot)
	if err != nil {
		if !errors.Is(err, ErrSlotNotFound) {
			s.logger.Warn().Err(err).Str("slot", slot).Msg("slot read failed, treating as empty")
		}
		return false
	}
	decoded, err := s.codec.Decode(raw)
	if err != nil {
		s.recoverSlot(ctx, slot, err)
		return false
	}
	if err := json.Unmarshal(decoded, v); err != nil {
		s.recoverSlot(ctx, slot, err)
		return false
	}
	return true
}

func (s *Store) saveSlot(ctx context.Context, slot string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal slot %s: %w", slot, err)
	}
	encoded, err := s.codec.Encode(data)
	if err != nil {
		return fmt.Errorf("encode slot %s: %w", slot, err)
	}
	if err := s.backend.Put(ctx, slot, encoded); err != nil {
		return fmt.Errorf("write slot %s: %w", slot, err)
	}
	return nil
}

// recoverSlot logs a corrupt slot and erases it so future loads are clean.
func (s *Store) recoverSlot(ctx context.Context, slot string, cause error) {
	s.logger.Warn().Err(cause).Str("slot", slot).Msg("corrupt slot detected, resetting")
	if err := s.backend.Delete(ctx, slot); err != nil {
		s.logger.Warn().Err(err).Str("slot", slot).Msg("failed to erase corrupt slot")
	}
}

func itemID(item *PendingItem) string {
	if item == nil {
		return "<nil>"
	}
	return item.ID
}
