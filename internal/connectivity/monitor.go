// Package connectivity tracks the online/offline state of the client and
// raises edge-triggered transition events.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCheckPeriod is how often the monitor probes for connectivity.
const DefaultCheckPeriod = 10 * time.Second

// Probe checks whether the dispatch server is reachable.
type Probe interface {
	Check(ctx context.Context) error
}

// Monitor polls a Probe and exposes a boolean signal plus wentOnline and
// wentOffline edge events. Callbacks fire on transitions only, never on
// steady state.
type Monitor struct {
	probe  Probe
	period time.Duration
	logger zerolog.Logger

	mu     sync.RWMutex
	online bool
	onUp   []func()
	onDown []func()

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor over the given probe.
func NewMonitor(probe Probe, period time.Duration, logger zerolog.Logger) *Monitor {
	if period <= 0 {
		period = DefaultCheckPeriod
	}
	return &Monitor{
		probe:  probe,
		period: period,
		logger: logger.With().Str("component", "connectivity_monitor").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start performs an initial probe to seed the current state and begins the
// background check loop.
func (m *Monitor) Start(ctx context.Context) {
	if err := m.check(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("initial connectivity check failed, starting offline")
	}

	m.wg.Add(1)
	go m.loop()
}

// Stop terminates the background check loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// IsOnline returns the current connectivity signal.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnWentOnline registers a callback for the offline-to-online edge.
func (m *Monitor) OnWentOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUp = append(m.onUp, fn)
}

// OnWentOffline registers a callback for the online-to-offline edge.
func (m *Monitor) OnWentOffline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDown = append(m.onDown, fn)
}

// SetOnline forces the connectivity state, firing edge callbacks on a
// transition. Used when the host environment supplies its own signal.
func (m *Monitor) SetOnline(online bool) {
	m.transition(online)
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.period)
			_ = m.check(ctx)
			cancel()
		}
	}
}

func (m *Monitor) check(ctx context.Context) error {
	err := m.probe.Check(ctx)
	m.transition(err == nil)
	return err
}

func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	var callbacks []func()
	if online && !was {
		callbacks = append(callbacks, m.onUp...)
	} else if !online && was {
		callbacks = append(callbacks, m.onDown...)
	}
	m.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}
	if online {
		m.logger.Info().Msg("connection restored")
	} else {
		m.logger.Warn().Msg("connection lost, entering offline mode")
	}
	for _, fn := range callbacks {
		fn()
	}
}
