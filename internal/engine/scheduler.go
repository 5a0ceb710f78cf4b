package engine

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler triggers background sync attempts on a cron schedule. It is an
// optional additive mechanism: retries otherwise happen only on explicit or
// reconnect-triggered passes.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewScheduler creates a scheduler that invokes tick on the given cron spec
// (standard five-field syntax, or descriptors like "@every 1m").
func NewScheduler(spec string, tick func(), logger zerolog.Logger) (*Scheduler, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, tick); err != nil {
		return nil, fmt.Errorf("parse sync schedule %q: %w", spec, err)
	}
	return &Scheduler{
		cron:   c,
		logger: logger.With().Str("component", "sync_scheduler").Logger(),
	}, nil
}

// Start begins the schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("background sync scheduler started")
}

// Stop halts the schedule, waiting for a running tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("background sync scheduler stopped")
}
