// Package runstate persists the scraper run lifecycle and the run history.
package runstate

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/fsutil"
	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// StateFile is the run state file name inside the data directory.
const StateFile = "run_state.json"

// Tracker is the single writer of the run state record. Every transition is
// a compare-and-set under a mutex and is persisted (atomic rename plus fsync)
// before the in-memory record changes.
type Tracker struct {
	path   string
	clock  pricewise.Clock
	logger *zap.Logger

	mu    sync.Mutex
	state pricewise.RunState
}

// NewTracker loads the persisted state from path. A missing or corrupt file
// starts from idle.
func NewTracker(path string, clock pricewise.Clock, logger *zap.Logger) (*Tracker, error) {
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		path:   path,
		clock:  clock,
		logger: logger.Named("runstate"),
		state:  pricewise.RunState{Status: pricewise.RunStatusIdle},
	}
	data, err := fsutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		var loaded pricewise.RunState
		if err := json.Unmarshal(data, &loaded); err != nil {
			t.logger.Warn("run state file corrupt, starting idle", zap.Error(err))
		} else {
			if loaded.Status != pricewise.RunStatusRunning {
				loaded.Status = pricewise.RunStatusIdle
			}
			t.state = loaded
		}
	}
	return t, nil
}

// Get returns the current record.
func (t *Tracker) Get() pricewise.RunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyState(t.state)
}

// Begin transitions idle to running. It fails with ErrAlreadyRunning when a
// run is in flight.
func (t *Tracker) Begin(start pricewise.RunStart) (pricewise.RunState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Running() {
		return copyState(t.state), fmt.Errorf("begin run %s: %w (current run %s)", start.RunID, pricewise.ErrAlreadyRunning, t.state.RunID)
	}
	startedAt := start.StartedAt.UTC()
	next := t.state
	next.Status = pricewise.RunStatusRunning
	next.Revision++
	next.RunID = start.RunID
	next.StartedAt = &startedAt
	next.PID = 0
	next.LogFile = start.LogFile
	if err := t.persistLocked(next); err != nil {
		return copyState(t.state), err
	}
	t.logger.Info("run started", zap.String("run_id", start.RunID), zap.Int64("revision", next.Revision))
	return copyState(t.state), nil
}

// AttachPID records the spawned process for runID. It is ignored when runID
// is no longer the running run.
func (t *Tracker) AttachPID(runID string, pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.Running() || t.state.RunID != runID {
		t.logger.Warn("ignoring pid for inactive run", zap.String("run_id", runID), zap.Int("pid", pid))
		return nil
	}
	next := t.state
	next.PID = pid
	next.Revision++
	return t.persistLocked(next)
}

// Finish transitions runID from running to idle. It reports false without
// error when runID is not the running run, which makes it idempotent.
func (t *Tracker) Finish(runID string, exitCode int, errMsg string) (pricewise.RunState, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.Running() || t.state.RunID != runID {
		return copyState(t.state), false, nil
	}
	endedAt := t.clock.Now().UTC()
	code := exitCode
	next := pricewise.RunState{
		Status:       pricewise.RunStatusIdle,
		Revision:     t.state.Revision + 1,
		LastEndedAt:  &endedAt,
		LastExitCode: &code,
		LastRunID:    runID,
		ErrorMessage: errMsg,
	}
	if err := t.persistLocked(next); err != nil {
		return copyState(t.state), false, err
	}
	t.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("exit_code", exitCode),
		zap.String("error", errMsg),
		zap.Int64("revision", next.Revision),
	)
	return copyState(t.state), true, nil
}

func (t *Tracker) persistLocked(next pricewise.RunState) error {
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	if err := fsutil.WriteFile(t.path, data, 0o600); err != nil {
		return fmt.Errorf("persist run state: %w", err)
	}
	t.state = next
	return nil
}

func copyState(s pricewise.RunState) pricewise.RunState {
	out := s
	if s.StartedAt != nil {
		v := *s.StartedAt
		out.StartedAt = &v
	}
	if s.LastEndedAt != nil {
		v := *s.LastEndedAt
		out.LastEndedAt = &v
	}
	if s.LastExitCode != nil {
		v := *s.LastExitCode
		out.LastExitCode = &v
	}
	return out
}
