// Package engine drains the pending action queue against the dispatch
// server, applying retry-with-cap policy and maintaining the last-sync
// watermark.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalmed/vitalsync/internal/metrics"
	"github.com/vitalmed/vitalsync/internal/notify"
	"github.com/vitalmed/vitalsync/internal/queue"
	"github.com/vitalmed/vitalsync/internal/store"
)

// RejectReason explains why a sync request did not start a pass.
type RejectReason string

// Rejection reasons reported synchronously by SyncNow.
const (
	ReasonOffline           RejectReason = "offline"
	ReasonAlreadyInProgress RejectReason = "already-in-progress"
	ReasonNothingToSync     RejectReason = "nothing-to-sync"
)

// Pass outcome labels.
const (
	outcomeOK           = "completed_ok"
	outcomeWithFailures = "completed_with_failures"
	outcomeAborted      = "aborted"
)

// Result is the outcome of a SyncNow call. Success is true only for a pass
// that ran to completion with no item failures. A rejected request carries a
// Reason; an aborted pass carries an Err.
type Result struct {
	Success     bool         `json:"success"`
	SyncedCount int          `json:"synced_count"`
	FailedCount int          `json:"failed_count"`
	Reason      RejectReason `json:"reason,omitempty"`
	Err         error        `json:"-"`
}

// Applier applies one pending item against the remote service.
type Applier interface {
	Apply(ctx context.Context, item *store.PendingItem) error
}

// Engine coordinates sync passes. At most one pass runs at a time; requests
// made while a pass is in flight are rejected, not queued.
type Engine struct {
	queue   *queue.Queue
	store   *store.Store
	applier Applier
	online  func() bool
	emitter notify.Emitter
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	syncing  bool
	lastSync *time.Time
}

// New creates a sync engine. The online func supplies the current
// connectivity signal; the last-sync watermark is restored from the store.
func New(ctx context.Context, q *queue.Queue, st *store.Store, applier Applier,
	online func() bool, emitter notify.Emitter, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if emitter == nil {
		emitter = notify.NopEmitter{}
	}
	return &Engine{
		queue:    q,
		store:    st,
		applier:  applier,
		online:   online,
		emitter:  emitter,
		metrics:  m,
		logger:   logger.With().Str("component", "sync_engine").Logger(),
		lastSync: st.LoadLastSync(ctx),
	}
}

// LastSync returns the watermark of the most recent pass, or nil if no pass
// has ever run.
func (e *Engine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// ResetLastSync clears the in-memory watermark after a bulk data wipe.
func (e *Engine) ResetLastSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSync = nil
}

// SyncNow runs one sync pass if the preconditions hold: online, queue
// non-empty, and no pass already in flight. Otherwise it returns a rejected
// Result synchronously without touching the queue or the watermark.
func (e *Engine) SyncNow(ctx context.Context) Result {
	if !e.online() {
		return Result{Success: false, Reason: ReasonOffline}
	}

	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return Result{Success: false, Reason: ReasonAlreadyInProgress}
	}
	if e.queue.Len() == 0 {
		e.mu.Unlock()
		return Result{Success: false, Reason: ReasonNothingToSync}
	}
	e.syncing = true
	e.mu.Unlock()

	return e.runPass(ctx)
}

// runPass drains the current queue snapshot sequentially in enqueue order.
// Whatever happens inside the pass, the engine returns to idle.
func (e *Engine) runPass(ctx context.Context) (result Result) {
	var synced, failed, retried, dropped int

	defer func() {
		if r := recover(); r != nil {
			result = Result{Success: false, Err: fmt.Errorf("sync pass aborted: %v", r)}
			e.logger.Error().Err(result.Err).Msg("sync pass aborted")
			e.metrics.ObservePass(outcomeAborted, synced, retried, dropped, e.queue.Len())
			e.emitter.SyncFailed(result.Err)
		}
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	snapshot := e.queue.Snapshot()
	e.logger.Info().Int("item_count", len(snapshot)).Msg("sync pass started")

	for _, item := range snapshot {
		// Each item's outcome is awaited before the next attempt so retry
		// counters and ordering stay consistent.
		err := e.applier.Apply(ctx, item)
		if err == nil {
			synced++
			if rmErr := e.queue.RemoveByID(ctx, item.ID); rmErr != nil {
				e.logger.Warn().Err(rmErr).Str("item_id", item.ID).Msg("failed to remove synced item")
			}
			continue
		}

		failed++
		if item.RetryCount+1 >= item.MaxRetries {
			dropped++
			if rmErr := e.queue.RemoveByID(ctx, item.ID); rmErr != nil {
				e.logger.Warn().Err(rmErr).Str("item_id", item.ID).Msg("failed to drop exhausted item")
			}
			e.logger.Error().
				Str("item_id", item.ID).
				Str("action_type", item.Action.Type).
				Int("max_retries", item.MaxRetries).
				Msg("action dropped after exhausting retries")
		} else {
			retried++
			if rqErr := e.queue.RequeueWithRetry(ctx, item, err); rqErr != nil {
				e.logger.Warn().Err(rqErr).Str("item_id", item.ID).Msg("failed to re-queue item")
			}
		}
	}

	// A sync attempt, even a partial one, moves the watermark.
	now := time.Now()
	if err := e.store.SaveLastSync(ctx, now); err != nil {
		e.logger.Warn().Err(err).Msg("failed to persist last-sync watermark")
	}
	e.mu.Lock()
	e.lastSync = &now
	e.mu.Unlock()

	outcome := outcomeOK
	if failed > 0 {
		outcome = outcomeWithFailures
	}
	e.metrics.ObservePass(outcome, synced, retried, dropped, e.queue.Len())

	e.logger.Info().
		Int("synced_count", synced).
		Int("failed_count", failed).
		Int("dropped_count", dropped).
		Msg("sync pass finished")

	if synced > 0 {
		e.emitter.SyncCompleted(synced, failed)
	}
	if failed > 0 {
		e.emitter.SyncFailed(fmt.Errorf("%d of %d actions failed to sync", failed, len(snapshot)))
	}

	return Result{
		Success:     failed == 0,
		SyncedCount: synced,
		FailedCount: failed,
	}
}
