// Package vitalsync is the offline-first synchronization layer for the
// dispatch client. It keeps a local read cache of critical data, queues
// user actions taken while offline, and drains the queue against the
// dispatch server when connectivity returns.
package vitalsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vitalmed/vitalsync/internal/cache"
	"github.com/vitalmed/vitalsync/internal/config"
	"github.com/vitalmed/vitalsync/internal/connectivity"
	"github.com/vitalmed/vitalsync/internal/engine"
	"github.com/vitalmed/vitalsync/internal/metrics"
	"github.com/vitalmed/vitalsync/internal/notify"
	"github.com/vitalmed/vitalsync/internal/queue"
	"github.com/vitalmed/vitalsync/internal/stats"
	"github.com/vitalmed/vitalsync/internal/store"
)

// Public aliases for the sync-layer types callers interact with.
type (
	// Config is the client configuration.
	Config = config.Config
	// Action is a user action to be applied to the dispatch server.
	Action = store.Action
	// ActionMetadata carries optional context for an action.
	ActionMetadata = store.ActionMetadata
	// PendingItem is a queued action with its retry bookkeeping.
	PendingItem = store.PendingItem
	// OfflineEntry is a cached payload with its freshness metadata.
	OfflineEntry = store.OfflineEntry
	// Stats summarizes the sync backlog for display.
	Stats = stats.Snapshot
	// SyncResult is the outcome of a sync request.
	SyncResult = engine.Result
	// Emitter receives user-facing sync status events.
	Emitter = notify.Emitter
)

// Rejection reasons carried by SyncResult.
const (
	ReasonOffline           = engine.ReasonOffline
	ReasonAlreadyInProgress = engine.ReasonAlreadyInProgress
	ReasonNothingToSync     = engine.ReasonNothingToSync
)

// ErrNotConfirmed is returned by ClearAll without explicit confirmation.
var ErrNotConfirmed = errors.New("clear all requires explicit confirmation")

// NopEmitter returns an emitter that discards all status events.
func NopEmitter() Emitter {
	return notify.NopEmitter{}
}

// Client wires the offline cache, the pending queue, the connectivity
// monitor and the sync engine behind one surface. Mutating operations that
// mirror UI affordances report success as a boolean and log the cause of a
// failure instead of returning it.
type Client struct {
	cfg       *config.Config
	logger    zerolog.Logger
	store     *store.Store
	cache     *cache.Cache
	queue     *queue.Queue
	engine    *engine.Engine
	monitor   *connectivity.Monitor
	scheduler *engine.Scheduler
	emitter   notify.Emitter
	metrics   *metrics.Metrics
}

type options struct {
	logger    zerolog.Logger
	probe     connectivity.Probe
	applier   engine.Applier
	emitter   notify.Emitter
	registry  prometheus.Registerer
	hasLogger bool
}

// Option customizes client construction.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
		o.hasLogger = true
	}
}

// WithProbe replaces the default HTTP health probe, e.g. with the WebSocket
// probe or a host-platform reachability signal.
func WithProbe(p connectivity.Probe) Option {
	return func(o *options) { o.probe = p }
}

// WithApplier replaces the default HTTP action applier.
func WithApplier(a engine.Applier) Option {
	return func(o *options) { o.applier = a }
}

// WithEmitter sets the status event emitter, replacing the log-backed
// default.
func WithEmitter(e notify.Emitter) Option {
	return func(o *options) { o.emitter = e }
}

// WithMetrics registers the sync-layer collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// New builds a client from the configuration. The persisted slots are loaded
// immediately; background work does not start until Start is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasLogger {
		o.logger = zerolog.Nop()
	}
	logger := o.logger

	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var storeOpts []store.Option
	if codec, err := newCodec(cfg); err != nil {
		backend.Close()
		return nil, err
	} else if codec != nil {
		storeOpts = append(storeOpts, store.WithCodec(codec))
	}
	st := store.New(backend, logger, storeOpts...)

	c := &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "vitalsync").Logger(),
		store:  st,
	}

	if o.registry != nil {
		c.metrics = metrics.New(o.registry)
	}

	c.emitter = o.emitter
	if c.emitter == nil {
		c.emitter = notify.NewLogEmitter(logger)
	}
	if cfg.WebhookURL != "" {
		c.emitter = notify.NewMultiEmitter(c.emitter, notify.NewWebhookEmitter(cfg.WebhookURL, logger))
	}

	c.cache = cache.New(ctx, st, cache.Config{
		TTL:           cfg.CacheTTL,
		MaxEntryBytes: cfg.MaxEntryBytes,
	}, logger)

	c.queue = queue.New(ctx, st, queue.Config{
		MaxSize:    cfg.MaxQueueSize,
		MaxRetries: cfg.MaxRetries,
	}, logger)

	applier := o.applier
	if applier == nil {
		applier = engine.NewHTTPApplier(cfg.ServerURL, cfg.APIKey, logger)
	}

	probe := o.probe
	if probe == nil {
		probe = connectivity.NewHTTPProbe(cfg.ServerURL)
	}
	c.monitor = connectivity.NewMonitor(probe, cfg.HealthCheckPeriod, logger)

	c.engine = engine.New(ctx, c.queue, st, applier, c.monitor.IsOnline, c.emitter, c.metrics, logger)

	// Reconnecting triggers a sync attempt when work is pending; losing the
	// connection surfaces the offline notice.
	c.monitor.OnWentOnline(func() {
		if c.queue.Len() == 0 {
			return
		}
		go c.SyncNow(context.Background())
	})
	c.monitor.OnWentOffline(c.emitter.WentOffline)

	if cfg.SyncSchedule != "" {
		c.scheduler, err = engine.NewScheduler(cfg.SyncSchedule, func() {
			c.SyncNow(context.Background())
		}, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	return c, nil
}

// Start begins connectivity monitoring and, when configured, the background
// sync schedule.
func (c *Client) Start(ctx context.Context) {
	c.monitor.Start(ctx)
	if c.scheduler != nil {
		c.scheduler.Start()
	}
	c.logger.Info().
		Str("backend", c.cfg.StorageBackend).
		Int("pending_count", c.queue.Len()).
		Int("cached_entries", c.cache.Len()).
		Msg("sync client started")
}

// Close stops background work and releases the storage backend.
func (c *Client) Close() error {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	c.monitor.Stop()
	return c.store.Close()
}

// CacheForOffline stores a payload under key for offline reads. It reports
// whether the payload was cached; oversized or unserializable payloads are
// rejected and logged.
func (c *Client) CacheForOffline(ctx context.Context, key string, data any) bool {
	if err := c.cache.Put(ctx, key, data); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to cache data for offline use")
		return false
	}
	c.metrics.ObserveCache(c.cache.Len(), c.cache.TotalBytes())
	return true
}

// ReadOfflineCache returns the cached entry for key, or nil when absent or
// expired.
func (c *Client) ReadOfflineCache(ctx context.Context, key string) *OfflineEntry {
	return c.cache.Get(ctx, key)
}

// MarkSynced flags a cached entry as confirmed by the server.
func (c *Client) MarkSynced(ctx context.Context, key string) {
	if err := c.cache.MarkSynced(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to mark cache entry synced")
	}
}

// EnqueueAction queues a user action for synchronization and reports whether
// it was accepted. Invalid actions are rejected and logged. When the queue is
// full the oldest pending actions are evicted to make room.
func (c *Client) EnqueueAction(ctx context.Context, userID string, action Action) bool {
	before := c.queue.Len()
	if _, err := c.queue.Enqueue(ctx, action, userID); err != nil {
		c.logger.Error().Err(err).Str("action_type", action.Type).Msg("failed to queue action")
		return false
	}
	depth := c.queue.Len()
	c.metrics.ObserveEnqueue(depth)
	if evicted := before + 1 - depth; evicted > 0 {
		c.metrics.ObserveEviction(evicted)
	}
	return true
}

// SyncNow requests an immediate sync pass. The request is rejected
// synchronously when the client is offline, a pass is already in flight, or
// there is nothing to sync.
func (c *Client) SyncNow(ctx context.Context) SyncResult {
	return c.engine.SyncNow(ctx)
}

// Stats returns a point-in-time summary of the sync backlog.
func (c *Client) Stats() Stats {
	return stats.Compute(c.queue.Snapshot(), c.engine.LastSync(), time.Now())
}

// PendingPreview returns up to limit pending actions from the head of the
// queue for display.
func (c *Client) PendingPreview(limit int) []*PendingItem {
	return c.queue.PeekDisplayable(limit)
}

// LastSync returns the watermark of the most recent sync pass, or nil if no
// pass has ever run.
func (c *Client) LastSync() *time.Time {
	return c.engine.LastSync()
}

// IsOnline reports the current connectivity signal.
func (c *Client) IsOnline() bool {
	return c.monitor.IsOnline()
}

// SetOnline forces the connectivity state when the host environment supplies
// its own signal. Edge transitions fire the usual events, including
// reconnect-triggered sync.
func (c *Client) SetOnline(online bool) {
	c.monitor.SetOnline(online)
}

// OnWentOnline registers a callback for the offline-to-online edge.
func (c *Client) OnWentOnline(fn func()) {
	c.monitor.OnWentOnline(fn)
}

// OnWentOffline registers a callback for the online-to-offline edge.
func (c *Client) OnWentOffline(fn func()) {
	c.monitor.OnWentOffline(fn)
}

// SweepCache evicts expired cache entries and returns the number removed.
func (c *Client) SweepCache(ctx context.Context) int {
	evicted := c.cache.Sweep(ctx)
	c.metrics.ObserveCache(c.cache.Len(), c.cache.TotalBytes())
	return evicted
}

// ClearAll erases every persisted slot, the in-memory cache and queue, and
// the last-sync watermark. Pending unsynced actions are lost, so the caller
// must pass confirm=true.
func (c *Client) ClearAll(ctx context.Context, confirm bool) error {
	if !confirm {
		return ErrNotConfirmed
	}
	if err := c.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear offline data: %w", err)
	}
	c.cache.Clear()
	c.queue.Clear()
	c.engine.ResetLastSync()
	c.metrics.ObserveCache(0, 0)
	c.logger.Warn().Msg("all offline data cleared")
	return nil
}

// newBackend builds the slot storage backend named by the config.
func newBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Backend, error) {
	switch cfg.StorageBackend {
	case "", config.BackendMemory:
		return store.NewMemoryBackend(), nil
	case config.BackendFile:
		return store.NewFileBackend(cfg.DataDir)
	case config.BackendSQLite:
		return store.NewSQLiteBackend(cfg.DataDir, logger)
	case config.BackendRedis:
		return store.NewRedisBackend(ctx, cfg.RedisAddr, cfg.UserID, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// newCodec builds the at-rest codec chain: compression first, then sealing.
// Returns nil when neither is configured.
func newCodec(cfg *config.Config) (store.Codec, error) {
	var codecs []store.Codec
	if cfg.Compression {
		codecs = append(codecs, store.SnappyCodec{})
	}
	if cfg.EncryptionKey != "" {
		key, err := cfg.DecodeEncryptionKey()
		if err != nil {
			return nil, err
		}
		sealed, err := store.NewSealedCodec(key)
		if err != nil {
			return nil, err
		}
		codecs = append(codecs, sealed)
	}
	switch len(codecs) {
	case 0:
		return nil, nil
	case 1:
		return codecs[0], nil
	default:
		return store.NewChainCodec(codecs...), nil
	}
}
