// Package maintenance runs the background jobs that keep long-lived
// assistant state healthy: audit history compaction and periodic drift
// checks against the editor state.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/internal/config"
)

// Compactor trims old audit records. Implemented by the history store.
type Compactor interface {
	Compact(ctx context.Context, maxAge time.Duration) (int64, error)
}

// DriftNotifier is poked on a schedule so session drift is caught even when
// the editor emits no events. Implemented by the orchestrator.
type DriftNotifier interface {
	NotifyContextChanged(ctx context.Context) error
}

// Config holds scheduler configuration
type Config struct {
	Maintenance config.MaintenanceConfig
	// History is optional; compaction is skipped when nil
	History Compactor
	// Drift is optional; drift checks are skipped when nil
	Drift  DriftNotifier
	Logger zerolog.Logger
}

// Scheduler owns the cron runner and its registered jobs.
type Scheduler struct {
	cron    *cron.Cron
	history Compactor
	drift   DriftNotifier
	maxAge  time.Duration
	logger  zerolog.Logger
}

// New creates a maintenance scheduler and registers the configured jobs.
// Jobs whose dependency is absent are silently skipped.
func New(cfg Config) (*Scheduler, error) {
	retention := cfg.Maintenance.RetentionDays
	if retention <= 0 {
		retention = 30
	}

	s := &Scheduler{
		cron:    cron.New(),
		history: cfg.History,
		drift:   cfg.Drift,
		maxAge:  time.Duration(retention) * 24 * time.Hour,
		logger:  cfg.Logger.With().Str("component", "maintenance").Logger(),
	}

	if cfg.History != nil && cfg.Maintenance.CompactSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.Maintenance.CompactSchedule, s.compactHistory); err != nil {
			return nil, fmt.Errorf("invalid compact schedule %q: %w", cfg.Maintenance.CompactSchedule, err)
		}
	}

	if cfg.Drift != nil && cfg.Maintenance.DriftSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.Maintenance.DriftSchedule, s.checkDrift); err != nil {
			return nil, fmt.Errorf("invalid drift schedule %q: %w", cfg.Maintenance.DriftSchedule, err)
		}
	}

	return s, nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("Maintenance scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) compactHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := s.history.Compact(ctx, s.maxAge)
	if err != nil {
		s.logger.Error().Err(err).Msg("History compaction failed")
		return
	}

	s.logger.Info().
		Int64("removed", removed).
		Dur("max_age", s.maxAge).
		Msg("History compaction complete")
}

func (s *Scheduler) checkDrift() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.drift.NotifyContextChanged(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Scheduled drift check failed")
	}
}
