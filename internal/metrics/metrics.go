// Package metrics exposes Prometheus instrumentation for the offline sync
// layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for the sync layer. A nil *Metrics is valid
// and records nothing, so instrumentation stays optional.
type Metrics struct {
	ActionsEnqueued prometheus.Counter
	ActionsEvicted  prometheus.Counter
	ItemsSynced     prometheus.Counter
	ItemsRetried    prometheus.Counter
	ItemsDropped    prometheus.Counter
	SyncPasses      *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	CacheEntries    prometheus.Gauge
	CacheBytes      prometheus.Gauge
}

// New creates and registers the sync-layer collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActionsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_actions_enqueued_total",
			Help: "Actions accepted into the pending queue.",
		}),
		ActionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_actions_evicted_total",
			Help: "Actions evicted from the pending queue by the length cap.",
		}),
		ItemsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_items_synced_total",
			Help: "Pending items successfully applied to the server.",
		}),
		ItemsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_items_retried_total",
			Help: "Pending items re-queued after a retriable failure.",
		}),
		ItemsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_items_dropped_total",
			Help: "Pending items dropped after exhausting their retry budget.",
		}),
		SyncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalsync_sync_passes_total",
			Help: "Sync passes by outcome.",
		}, []string{"outcome"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vitalsync_queue_depth",
			Help: "Current number of pending actions.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vitalsync_cache_entries",
			Help: "Current number of offline cache entries.",
		}),
		CacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vitalsync_cache_bytes",
			Help: "Serialized size of the offline cache in bytes.",
		}),
	}
	reg.MustRegister(
		m.ActionsEnqueued, m.ActionsEvicted,
		m.ItemsSynced, m.ItemsRetried, m.ItemsDropped,
		m.SyncPasses, m.QueueDepth, m.CacheEntries, m.CacheBytes,
	)
	return m
}

// ObserveEnqueue records an accepted action and the resulting queue depth.
func (m *Metrics) ObserveEnqueue(depth int) {
	if m == nil {
		return
	}
	m.ActionsEnqueued.Inc()
	m.QueueDepth.Set(float64(depth))
}

// ObserveEviction records cap evictions.
func (m *Metrics) ObserveEviction(count int) {
	if m == nil {
		return
	}
	m.ActionsEvicted.Add(float64(count))
}

// ObservePass records a finished sync pass.
func (m *Metrics) ObservePass(outcome string, synced, retried, dropped, depth int) {
	if m == nil {
		return
	}
	m.SyncPasses.WithLabelValues(outcome).Inc()
	m.ItemsSynced.Add(float64(synced))
	m.ItemsRetried.Add(float64(retried))
	m.ItemsDropped.Add(float64(dropped))
	m.QueueDepth.Set(float64(depth))
}

// ObserveCache records the cache footprint.
func (m *Metrics) ObserveCache(entries int, bytes int64) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(entries))
	m.CacheBytes.Set(float64(bytes))
}
