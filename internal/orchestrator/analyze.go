package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/analyzer"
	"github.com/JakeFAU/pricewise/internal/pricewise"
	"github.com/JakeFAU/pricewise/internal/progress"
)

// RunAnalyzerOnly recomputes the current analysis from the raw data already on
// disk using the current configuration. It bypasses the run-state guard but
// never runs concurrently with itself.
func (o *Orchestrator) RunAnalyzerOnly(ctx context.Context) (*pricewise.Snapshot, error) {
	o.analyzeMu.Lock()
	defer o.analyzeMu.Unlock()

	start := o.clock.Now()
	snap, err := o.analyze(ctx)
	end := o.clock.Now()
	evt := progress.Event{TS: end.UTC(), Stage: progress.StageAnalyzerDone}
	if d := end.Sub(start); d > 0 {
		evt.Dur = d
	}
	if err != nil {
		evt.Stage = progress.StageAnalyzerError
		evt.Note = err.Error()
		o.events.Emit(evt)
		return nil, err
	}
	evt.Mode = snap.Analysis.Mode
	o.events.Emit(evt)
	o.logger.Info("analyzer pass complete",
		zap.Int("hotels", len(snap.Analysis.PricingMetrics)),
		zap.Duration("dur", evt.Dur),
	)
	return snap, nil
}

func (o *Orchestrator) analyze(ctx context.Context) (*pricewise.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := o.configs.Get()
	snap, err := o.snapshots.Reanalyze(ctx, func(records []pricewise.DailyPricingRecord) (pricewise.Analysis, error) {
		if len(records) == 0 {
			return pricewise.Analysis{}, fmt.Errorf("analyzer pass: %w", pricewise.ErrNoRawData)
		}
		return analyzer.Analyze(records, cfg, o.clock.Now()), nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
