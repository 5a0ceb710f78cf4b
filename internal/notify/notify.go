// Package notify is the callback boundary through which the sync layer
// surfaces user-facing status events to the host application.
package notify

import (
	"github.com/rs/zerolog"
)

// Emitter receives status events from the sync layer. Implementations must
// not block: they are invoked inline from the engine and monitor.
type Emitter interface {
	// WentOffline fires when connectivity is lost.
	WentOffline()
	// SyncCompleted fires after a pass that applied at least one item.
	SyncCompleted(syncedCount, failedCount int)
	// SyncFailed fires when a pass ends with failures; a retry will happen
	// on a future pass.
	SyncFailed(err error)
}

// NopEmitter discards all events.
type NopEmitter struct{}

// WentOffline discards the event.
func (NopEmitter) WentOffline() {}

// SyncCompleted discards the event.
func (NopEmitter) SyncCompleted(int, int) {}

// SyncFailed discards the event.
func (NopEmitter) SyncFailed(error) {}

// LogEmitter writes events to the structured log. Useful as a default when
// the host UI has not registered its own emitter.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates a log-backed emitter.
func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With().Str("component", "notifier").Logger()}
}

// WentOffline logs the offline transition.
func (e *LogEmitter) WentOffline() {
	e.logger.Warn().Msg("you are offline; changes will sync when connection returns")
}

// SyncCompleted logs the pass summary.
func (e *LogEmitter) SyncCompleted(syncedCount, failedCount int) {
	e.logger.Info().
		Int("synced_count", syncedCount).
		Int("failed_count", failedCount).
		Msg("offline changes synchronized")
}

// SyncFailed logs the failure.
func (e *LogEmitter) SyncFailed(err error) {
	e.logger.Error().Err(err).Msg("sync failed, will retry automatically")
}

// MultiEmitter fans events out to several emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter composes emitters.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// WentOffline forwards the event.
func (e *MultiEmitter) WentOffline() {
	for _, em := range e.emitters {
		em.WentOffline()
	}
}

// SyncCompleted forwards the event.
func (e *MultiEmitter) SyncCompleted(syncedCount, failedCount int) {
	for _, em := range e.emitters {
		em.SyncCompleted(syncedCount, failedCount)
	}
}

// SyncFailed forwards the event.
func (e *MultiEmitter) SyncFailed(err error) {
	for _, em := range e.emitters {
		em.SyncFailed(err)
	}
}
