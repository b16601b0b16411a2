// Package scheduler triggers staleness refreshes and full scraper runs on cron
// schedules for hosts without an interactive UI.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// Runner is the orchestrator surface the scheduler drives.
type Runner interface {
	StartRun(ctx context.Context) (string, error)
	RunAnalyzerOnly(ctx context.Context) (*pricewise.Snapshot, error)
}

// Freshness reports whether the current analysis is stale.
type Freshness interface {
	IsOutdated(ctx context.Context) (bool, error)
}

// Config holds the cron expressions (standard five-field syntax or
// descriptors such as @hourly). Empty expressions disable the job.
type Config struct {
	RefreshCron string
	RunCron     string
	Location    *time.Location
}

// Scheduler owns a cron instance with at most two jobs.
type Scheduler struct {
	cron      *cron.Cron
	runner    Runner
	freshness Freshness
	logger    *zap.Logger
	jobs      int
}

// New validates the expressions and registers the jobs. ctx scopes every
// job invocation.
func New(ctx context.Context, cfg Config, runner Runner, freshness Freshness, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:    runner,
		freshness: freshness,
		logger:    logger,
	}

	if cfg.RefreshCron != "" {
		if freshness == nil {
			return nil, errors.New("refresh schedule requires a freshness policy")
		}
		if _, err := s.cron.AddFunc(cfg.RefreshCron, func() {
			if err := s.RefreshIfOutdated(ctx); err != nil {
				s.logger.Warn("scheduled refresh failed", zap.Error(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("invalid refresh cron %q: %w", cfg.RefreshCron, err)
		}
		s.jobs++
	}
	if cfg.RunCron != "" {
		if _, err := s.cron.AddFunc(cfg.RunCron, func() {
			if err := s.TriggerRun(ctx); err != nil {
				s.logger.Warn("scheduled run failed", zap.Error(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("invalid run cron %q: %w", cfg.RunCron, err)
		}
		s.jobs++
	}
	return s, nil
}

// Jobs reports how many schedules are registered.
func (s *Scheduler) Jobs() int {
	return s.jobs
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	if s.jobs == 0 {
		s.logger.Info("no schedules configured")
		return
	}
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("schedule registered", zap.Int("entry", int(e.ID)), zap.Time("next", e.Next))
	}
}

// Stop halts the scheduler and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RefreshIfOutdated runs an analyzer-only pass when the analysis is stale.
// Missing raw data is not an error: there is nothing to refresh yet.
func (s *Scheduler) RefreshIfOutdated(ctx context.Context) error {
	if s.freshness == nil {
		return errors.New("freshness policy is not configured")
	}
	outdated, err := s.freshness.IsOutdated(ctx)
	if err != nil {
		return fmt.Errorf("check staleness: %w", err)
	}
	if !outdated {
		return nil
	}
	if _, err := s.runner.RunAnalyzerOnly(ctx); err != nil {
		if errors.Is(err, pricewise.ErrNoRawData) {
			s.logger.Info("analysis outdated but no raw data to analyze")
			return nil
		}
		return err
	}
	return nil
}

// TriggerRun starts a full scraper run; an in-flight run is not an error.
func (s *Scheduler) TriggerRun(ctx context.Context) error {
	runID, err := s.runner.StartRun(ctx)
	if err != nil {
		if errors.Is(err, pricewise.ErrAlreadyRunning) {
			s.logger.Info("skipping scheduled run, scraper already running")
			return nil
		}
		return err
	}
	s.logger.Info("scheduled run started", zap.String("run_id", runID))
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
