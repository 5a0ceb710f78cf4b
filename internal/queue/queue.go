package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitalmed/vitalsync/internal/store"
)

const (
	// DefaultMaxSize caps the queue length; older items are evicted first.
	DefaultMaxSize = 100
	// DefaultPeekLimit is the head slice size returned to UI summaries.
	DefaultPeekLimit = 5
)

// Config holds queue tuning knobs.
type Config struct {
	MaxSize    int
	MaxRetries int
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:    DefaultMaxSize,
		MaxRetries: store.DefaultMaxRetries,
	}
}

// Queue is the bounded FIFO of pending actions. Every mutation is persisted
// through the slot store before it is considered applied.
type Queue struct {
	store  *store.Store
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	items []*store.PendingItem
}

// New creates a queue over the slot store, loading any persisted items.
func New(ctx context.Context, st *store.Store, cfg Config, logger zerolog.Logger) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = store.DefaultMaxRetries
	}
	return &Queue{
		store:  st,
		cfg:    cfg,
		logger: logger.With().Str("component", "pending_queue").Logger(),
		items:  st.LoadQueue(ctx),
	}
}

// Enqueue validates the action, appends a fresh item to the tail and
// persists the queue. When the cap is exceeded the oldest items are evicted
// first; eviction is logged, not an error.
func (q *Queue) Enqueue(ctx context.Context, action store.Action, userID string) (*store.PendingItem, error) {
	if err := ValidateAction(action, userID); err != nil {
		return nil, err
	}

	item := &store.PendingItem{
		ID:         newItemID(),
		Timestamp:  time.Now(),
		Action:     action,
		UserID:     userID,
		RetryCount: 0,
		MaxRetries: q.cfg.MaxRetries,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	prev := q.items
	q.items = append(q.items, item)
	if evicted := len(q.items) - q.cfg.MaxSize; evicted > 0 {
		q.items = q.items[evicted:]
		q.logger.Warn().
			Int("evicted", evicted).
			Int("max_size", q.cfg.MaxSize).
			Msg("pending queue full, oldest actions evicted")
	}

	if err := q.store.SaveQueue(ctx, q.items); err != nil {
		q.items = prev
		return nil, fmt.Errorf("persist queue: %w", err)
	}

	q.logger.Info().
		Str("item_id", item.ID).
		Str("action_type", action.Type).
		Str("user_id", userID).
		Msg("action queued for sync")

	return item, nil
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queue in enqueue order.
func (q *Queue) Snapshot() []*store.PendingItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*store.PendingItem, len(q.items))
	copy(out, q.items)
	return out
}

// PeekDisplayable returns up to limit items from the head for UI summaries.
// It does not mutate retry state.
func (q *Queue) PeekDisplayable(limit int) []*store.PendingItem {
	if limit <= 0 {
		limit = DefaultPeekLimit
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit > len(q.items) {
		limit = len(q.items)
	}
	out := make([]*store.PendingItem, limit)
	copy(out, q.items[:limit])
	return out
}

// RemoveByID drops the item with the given id and persists the queue. Used
// by the sync engine after successful remote application or a hard failure.
func (q *Queue) RemoveByID(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.ID == id {
			prev := q.items
			q.items = append(append([]*store.PendingItem{}, q.items[:i]...), q.items[i+1:]...)
			if err := q.store.SaveQueue(ctx, q.items); err != nil {
				q.items = prev
				return fmt.Errorf("persist queue: %w", err)
			}
			return nil
		}
	}
	return nil
}

// RequeueWithRetry removes the original item and re-appends it at the tail
// with an incremented retry count and failure bookkeeping. Used by the sync
// engine for retriable failures; the item is attempted again on a future
// pass, never within the same one.
func (q *Queue) RequeueWithRetry(ctx context.Context, item *store.PendingItem, cause error) error {
	now := time.Now()
	updated := *item
	updated.RetryCount++
	updated.LastError = cause.Error()
	updated.LastRetryAt = &now

	q.mu.Lock()
	defer q.mu.Unlock()

	prev := q.items
	kept := make([]*store.PendingItem, 0, len(q.items))
	for _, existing := range q.items {
		if existing.ID != item.ID {
			kept = append(kept, existing)
		}
	}
	q.items = append(kept, &updated)

	if err := q.store.SaveQueue(ctx, q.items); err != nil {
		q.items = prev
		return fmt.Errorf("persist queue: %w", err)
	}

	q.logger.Debug().
		Str("item_id", item.ID).
		Int("retry_count", updated.RetryCount).
		Str("last_error", updated.LastError).
		Msg("action re-queued for retry")

	return nil
}

// Clear drops every item from memory. The caller is responsible for wiping
// the persisted slot (store.ClearAll).
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// newItemID builds a collision-resistant id from the enqueue time and a
// random suffix.
func newItemID() string {
	suffix := uuid.NewString()
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix[:8])
}
