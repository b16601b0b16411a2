package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/analyzer"
	"github.com/JakeFAU/pricewise/internal/fsutil"
	"github.com/JakeFAU/pricewise/internal/pricewise"
	"github.com/JakeFAU/pricewise/internal/progress"
	"github.com/JakeFAU/pricewise/internal/snapshot"
)

// outcome is the terminal result of one run.
type outcome struct {
	exitCode int
	err      error
	stage    progress.Stage
	scraped  bool
	analyzed bool
}

func cancelledOutcome() outcome {
	return outcome{
		exitCode: pricewise.ExitCodeCancelled,
		err:      errors.New(cancelMessage),
		stage:    progress.StageRunCancelled,
	}
}

// watch waits for the process and finalizes the run. Failures, including
// panics, end in a history entry and an idle record; they never escape.
func (o *Orchestrator) watch(run *activeRun) {
	code := 0
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("run finalization panicked",
				zap.String("run_id", run.id),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			msg := fmt.Sprintf("finalize run: panic: %v", r)
			o.complete(run, outcome{
				exitCode: code,
				err:      errors.New(msg),
				stage:    progress.StageRunError,
			})
			// The panic may have come from record itself, which spends the
			// finish once. Finish is a no-op if the record already went idle.
			if _, _, err := o.tracker.Finish(run.id, code, msg); err != nil {
				o.logger.Error("persist run completion failed", zap.String("run_id", run.id), zap.Error(err))
			}
		}
	}()

	exit, waitErr := run.proc.Wait()
	code = exit
	o.complete(run, o.settle(run, exit, waitErr))
}

// settle decides the outcome of an exited process and commits its outputs.
func (o *Orchestrator) settle(run *activeRun, code int, waitErr error) outcome {
	if run.cancelled.Load() {
		return cancelledOutcome()
	}
	if waitErr != nil {
		return outcome{
			exitCode: code,
			err:      fmt.Errorf("%w: wait: %w", pricewise.ErrProcessCrashed, waitErr),
			stage:    progress.StageRunError,
		}
	}
	if code != 0 {
		return outcome{
			exitCode: code,
			err:      fmt.Errorf("%w: exited with code %d", pricewise.ErrProcessCrashed, code),
			stage:    progress.StageRunError,
		}
	}

	bundle, err := o.collect(run)
	if err != nil {
		return outcome{err: err, stage: progress.StageRunError}
	}
	if len(bundle.Analysis) == 0 && len(bundle.RawCSV) == 0 {
		return outcome{
			err:   fmt.Errorf("%w: no output produced", pricewise.ErrProcessCrashed),
			stage: progress.StageRunError,
		}
	}
	if len(bundle.Analysis) == 0 {
		records, err := snapshot.ParseDailyCSV(bundle.RawCSV)
		if err != nil {
			return outcome{scraped: true, err: fmt.Errorf("analyze raw data: %w", err), stage: progress.StageRunError}
		}
		analysis := analyzer.Analyze(records, run.cfg, o.clock.Now())
		data, err := json.MarshalIndent(analysis, "", "  ")
		if err != nil {
			return outcome{scraped: true, err: fmt.Errorf("encode analysis: %w", err), stage: progress.StageRunError}
		}
		bundle.Analysis = data
	}

	snap, err := o.snapshots.Commit(context.Background(), bundle, run.cfg.EnableArchiving, run.cfg.MaxArchiveFiles)
	if err != nil {
		return outcome{scraped: true, err: fmt.Errorf("commit snapshot: %w", err), stage: progress.StageRunError}
	}
	o.logger.Info("snapshot committed", zap.String("run_id", run.id), zap.Int("hotels", len(snap.Analysis.PricingMetrics)))
	if !o.cfg.KeepStaging {
		if err := os.RemoveAll(run.stageDir); err != nil {
			o.logger.Warn("remove staging directory failed", zap.String("dir", run.stageDir), zap.Error(err))
		}
	}
	return outcome{scraped: true, analyzed: true, stage: progress.StageRunDone}
}

// collect reads the files the scraper left in the staging output directory.
func (o *Orchestrator) collect(run *activeRun) (snapshot.Bundle, error) {
	outDir := filepath.Join(run.stageDir, RunOutputDir)
	var b snapshot.Bundle
	for name, dst := range map[string]*[]byte{
		snapshot.AnalysisFile:   &b.Analysis,
		snapshot.PricingCSVFile: &b.RawCSV,
		snapshot.ScrapeLogFile:  &b.ScrapeLog,
	} {
		data, err := fsutil.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			return snapshot.Bundle{}, fmt.Errorf("read staged %s: %w", name, err)
		}
		*dst = data
	}
	return b, nil
}

// complete records the outcome once and releases the active slot.
func (o *Orchestrator) complete(run *activeRun, out outcome) {
	o.finish(run, out)
	o.mu.Lock()
	if o.active == run {
		o.active = nil
	}
	o.mu.Unlock()
}

// finish records the outcome exactly once and signals waiters.
func (o *Orchestrator) finish(run *activeRun, out outcome) {
	run.finishOnce.Do(func() {
		defer close(run.done)
		o.record(run.id, run.startedAt, run.cfg, out)
	})
}

// finishRecord closes a running record that has no live process handle.
func (o *Orchestrator) finishRecord(state pricewise.RunState, out outcome) {
	run := o.runFromState(state)
	o.record(run.id, run.startedAt, run.cfg, out)
}

// record appends the history entry, moves the tracker to idle and emits the
// terminal event, in that order.
func (o *Orchestrator) record(runID string, startedAt time.Time, cfg pricewise.ScraperConfig, out outcome) {
	now := o.clock.Now().UTC()
	msg := ""
	if out.err != nil {
		msg = out.err.Error()
	}
	entry := pricewise.HistoryEntry{
		Timestamp:       now,
		RunID:           runID,
		StartedAt:       startedAt,
		Mode:            cfg.ModeName(),
		ScrapeSuccess:   out.scraped,
		AnalysisSuccess: out.analyzed,
		ExitCode:        out.exitCode,
		Error:           msg,
		Config:          pricewise.NewHistoryConfig(cfg, startedAt),
	}
	if err := o.history.Append(entry); err != nil {
		o.logger.Error("append history failed", zap.String("run_id", runID), zap.Error(err))
	}
	if _, _, err := o.tracker.Finish(runID, out.exitCode, msg); err != nil {
		o.logger.Error("persist run completion failed", zap.String("run_id", runID), zap.Error(err))
	}

	var dur time.Duration
	if !startedAt.IsZero() && now.After(startedAt) {
		dur = now.Sub(startedAt)
	}
	o.events.Emit(progress.Event{
		RunID:    runID,
		TS:       now,
		Stage:    out.stage,
		Mode:     cfg.ModeName(),
		ExitCode: out.exitCode,
		Dur:      dur,
		Note:     msg,
		History:  &entry,
	})
}
