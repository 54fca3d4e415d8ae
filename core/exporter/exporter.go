// Package exporter periodically summarizes recorded channel runs and pushes
// the summaries to pluggable sinks (log, prometheus gauges). The same job
// prunes analytics events older than the retention period.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	robfigcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/pinglue/pg-repo-sub000/adapters/clock"
	"github.com/pinglue/pg-repo-sub000/core/analytics"
	"github.com/pinglue/pg-repo-sub000/ports"
)

// Exporter receives windowed run summaries.
type Exporter interface {
	// Name returns the exporter identifier (e.g., "log", "prometheus").
	Name() string

	// Push sends one window of summaries, one per channel.
	Push(ctx context.Context, summaries []analytics.Summary) error
}

// Config configures the scheduler.
type Config struct {
	// Schedule is a standard cron expression or descriptor ("@every 1m").
	Schedule string

	// Window is how far back each export looks.
	Window time.Duration

	// Retention drops events older than this on every export (0 = keep all).
	Retention time.Duration

	// Timeout bounds a single scheduled export.
	Timeout time.Duration
}

// DefaultConfig returns the default export schedule.
func DefaultConfig() Config {
	return Config{
		Schedule:  "@every 1m",
		Window:    5 * time.Minute,
		Retention: 24 * time.Hour,
		Timeout:   30 * time.Second,
	}
}

// Scheduler runs exports on a cron schedule.
type Scheduler struct {
	store     analytics.Store
	cfg       Config
	logger    zerolog.Logger
	clock     ports.Clock
	exporters []Exporter

	mu      sync.Mutex
	cron    *robfigcron.Cron
	running bool
}

// NewScheduler validates cfg and creates a stopped scheduler.
func NewScheduler(store analytics.Store, cfg Config, logger zerolog.Logger, exporters ...Exporter) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("exporter: analytics store is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}
	if _, err := robfigcron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("exporter: invalid schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	return &Scheduler{
		store:     store,
		cfg:       cfg,
		logger:    logger.With().Str("component", "exporter").Logger(),
		clock:     clock.Real{},
		exporters: exporters,
	}, nil
}

// SetClock replaces the time source used to compute export windows.
func (s *Scheduler) SetClock(c ports.Clock) {
	s.clock = c
}

// Exporters returns the configured exporter names.
func (s *Scheduler) Exporters() []string {
	names := make([]string, len(s.exporters))
	for i, e := range s.exporters {
		names[i] = e.Name()
	}
	return names
}

// RunOnce aggregates the last window per channel, pushes it to every
// exporter and prunes expired events. Exporter failures do not stop the
// other exporters; they are returned joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	end := s.clock.Now()
	start := end.Add(-s.cfg.Window)

	summaries, err := s.store.Aggregate(ctx, analytics.AggregateOptions{
		Start:   start,
		End:     end,
		GroupBy: []string{"channel"},
	})
	if err != nil {
		return fmt.Errorf("aggregate runs: %w", err)
	}

	var errs []error
	for _, e := range s.exporters {
		if err := e.Push(ctx, summaries); err != nil {
			s.logger.Error().Err(err).Str("exporter", e.Name()).Msg("export failed")
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
		}
	}

	if s.cfg.Retention > 0 {
		deleted, err := s.store.Delete(ctx, end.Add(-s.cfg.Retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune events: %w", err))
		} else if deleted > 0 {
			s.logger.Debug().Int64("deleted", deleted).Msg("pruned analytics events")
		}
	}

	return errors.Join(errs...)
}

// Start begins running exports on the schedule. Starting twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := robfigcron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, s.tick); err != nil {
		return fmt.Errorf("schedule export: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true

	s.logger.Info().
		Str("schedule", s.cfg.Schedule).
		Dur("window", s.cfg.Window).
		Strs("exporters", s.Exporters()).
		Msg("export scheduler started")
	return nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("scheduled export incomplete")
	}
}

// Stop halts the schedule and waits for a running export to finish or for
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	running := s.running
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if !running {
		return nil
	}

	select {
	case <-c.Stop().Done():
		s.logger.Info().Msg("export scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
