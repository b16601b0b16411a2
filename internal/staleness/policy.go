// Package staleness decides whether the current analysis needs a refresh.
package staleness

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/pricewise/internal/pricewise"
	"github.com/JakeFAU/pricewise/internal/snapshot"
)

// DefaultMaxAge is the freshness window used when none is configured.
const DefaultMaxAge = 24 * time.Hour

// Reasons reported by Evaluate.
const (
	ReasonFresh       = "fresh"
	ReasonNoSnapshot  = "no snapshot"
	ReasonNoTimestamp = "snapshot has no generation time"
	ReasonRawNewer    = "raw data newer than analysis"
	ReasonDayRolled   = "days-ahead window moved"
	ReasonTooOld      = "analysis older than freshness window"
)

// Snapshots is the read side of the snapshot repository used by the policy.
type Snapshots interface {
	Current() (*pricewise.Snapshot, error)
	Stat() snapshot.Info
}

// ConfigSource yields the scraper configuration in effect.
type ConfigSource interface {
	Get() pricewise.ScraperConfig
}

// Config tunes the policy.
type Config struct {
	// MaxAge is the base freshness window.
	MaxAge time.Duration
	// Location defines calendar days for the window rollover check.
	Location *time.Location
}

// Verdict is the outcome of one evaluation.
type Verdict struct {
	Outdated    bool
	Reason      string
	LastUpdated *time.Time
}

// Policy evaluates snapshot freshness against the scraper schedule.
type Policy struct {
	snaps   Snapshots
	configs ConfigSource
	clock   pricewise.Clock
	maxAge  time.Duration
	loc     *time.Location
}

// New returns a Policy.
func New(cfg Config, snaps Snapshots, configs ConfigSource, clock pricewise.Clock) *Policy {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Policy{snaps: snaps, configs: configs, clock: clock, maxAge: cfg.MaxAge, loc: cfg.Location}
}

// IsOutdated reports whether the current analysis should be recomputed.
func (p *Policy) IsOutdated(ctx context.Context) (bool, error) {
	v, err := p.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	return v.Outdated, nil
}

// LastUpdated returns the generation time of the current analysis, or nil.
func (p *Policy) LastUpdated(ctx context.Context) (*time.Time, error) {
	v, err := p.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return v.LastUpdated, nil
}

// Evaluate checks, in order: a snapshot exists and carries a generation
// time, the raw data is not newer than the analysis, the calendar day has not
// rolled over, and the age is within the freshness window.
func (p *Policy) Evaluate(ctx context.Context) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	current, err := p.snaps.Current()
	if err != nil {
		return Verdict{}, fmt.Errorf("load current snapshot: %w", err)
	}
	if current == nil {
		return Verdict{Outdated: true, Reason: ReasonNoSnapshot}, nil
	}
	if current.GeneratedAt == nil || current.GeneratedAt.IsZero() {
		return Verdict{Outdated: true, Reason: ReasonNoTimestamp}, nil
	}
	generated := *current.GeneratedAt
	v := Verdict{LastUpdated: &generated}

	info := p.snaps.Stat()
	if !info.CSVModTime.IsZero() && info.CSVModTime.After(info.AnalysisModTime) {
		v.Outdated, v.Reason = true, ReasonRawNewer
		return v, nil
	}

	now := p.clock.Now()
	if day(now.In(p.loc)) != day(generated.In(p.loc)) && now.After(generated) {
		v.Outdated, v.Reason = true, ReasonDayRolled
		return v, nil
	}
	if now.Sub(generated) > p.window() {
		v.Outdated, v.Reason = true, ReasonTooOld
		return v, nil
	}
	v.Reason = ReasonFresh
	return v, nil
}

// window widens MaxAge to the occupancy check interval in occupancy mode.
func (p *Policy) window() time.Duration {
	cfg := p.configs.Get()
	w := p.maxAge
	if cfg.OccupancyMode && cfg.OccupancyCheckInterval > 0 {
		if interval := time.Duration(cfg.OccupancyCheckInterval) * 24 * time.Hour; interval > w {
			w = interval
		}
	}
	return w
}

func day(t time.Time) string {
	return t.Format(time.DateOnly)
}
