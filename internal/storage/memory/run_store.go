package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/pricewise/internal/store"
)

// RunStore is an in-memory run ledger for development and tests.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]store.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]store.Run)}
}

// RecordRunStart stores a running row, leaving terminal rows untouched.
func (s *RunStore) RecordRunStart(_ context.Context, runID string, startedAt time.Time, mode string) error {
	if runID == "" {
		return fmt.Errorf("record run start: empty run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[runID]; ok && existing.Status != store.RunRunning {
		return nil
	}
	s.runs[runID] = store.Run{
		ID:        runID,
		Mode:      mode,
		StartedAt: startedAt.UTC(),
		Status:    store.RunRunning,
	}
	return nil
}

// CompleteRun finalizes a run; unknown runs are created so late completions
// are not lost.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID string,
	finishedAt time.Time,
	status store.RunStatus,
	exitCode int,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.Run{ID: runID, StartedAt: finishedAt.UTC()}
	}
	finished := finishedAt.UTC()
	code := exitCode
	run.FinishedAt = &finished
	run.Status = status
	run.ExitCode = &code
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs ordered by start time, newest first.
func (s *RunStore) ListRuns(_ context.Context, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset > 0 {
		if offset >= len(out) {
			return []store.Run{}, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
