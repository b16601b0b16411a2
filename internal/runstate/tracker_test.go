package runstate_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewise/internal/pricewise"
	"github.com/JakeFAU/pricewise/internal/runstate"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) (*runstate.Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), runstate.StateFile)
	tracker, err := runstate.NewTracker(path, fixedClock{now: testNow}, nil)
	require.NoError(t, err)
	return tracker, path
}

func TestTrackerStartsIdle(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker(t)
	state := tracker.Get()
	assert.Equal(t, pricewise.RunStatusIdle, state.Status)
	assert.Zero(t, state.Revision)
}

func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()

	tracker, path := newTracker(t)

	state, err := tracker.Begin(pricewise.RunStart{RunID: "run-1", StartedAt: testNow, LogFile: "logs/run-run-1.log"})
	require.NoError(t, err)
	assert.True(t, state.Running())
	assert.Equal(t, "run-1", state.RunID)
	assert.Equal(t, int64(1), state.Revision)

	require.NoError(t, tracker.AttachPID("run-1", 4242))
	require.NoError(t, tracker.AttachPID("other", 1))
	assert.Equal(t, 4242, tracker.Get().PID)

	reopened, err := runstate.NewTracker(path, fixedClock{now: testNow}, nil)
	require.NoError(t, err)
	assert.Equal(t, tracker.Get(), reopened.Get(), "state must be durable before returning")

	state, changed, err := tracker.Finish("run-1", 0, "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, pricewise.RunStatusIdle, state.Status)
	require.NotNil(t, state.LastExitCode)
	assert.Equal(t, 0, *state.LastExitCode)
	assert.Equal(t, "run-1", state.LastRunID)
	assert.Empty(t, state.RunID)
	assert.Zero(t, state.PID)
	assert.Equal(t, int64(3), state.Revision)

	_, changed, err = tracker.Finish("run-1", 1, "late")
	require.NoError(t, err)
	assert.False(t, changed, "finish is idempotent")
	assert.Equal(t, 0, *tracker.Get().LastExitCode)
}

func TestTrackerRejectsSecondBegin(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker(t)
	_, err := tracker.Begin(pricewise.RunStart{RunID: "a", StartedAt: testNow})
	require.NoError(t, err)

	_, err = tracker.Begin(pricewise.RunStart{RunID: "b", StartedAt: testNow})
	require.ErrorIs(t, err, pricewise.ErrAlreadyRunning)
	assert.Equal(t, "a", tracker.Get().RunID)
}

func TestTrackerFinishIgnoresOtherRun(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker(t)
	_, err := tracker.Begin(pricewise.RunStart{RunID: "a", StartedAt: testNow})
	require.NoError(t, err)

	_, changed, err := tracker.Finish("b", pricewise.ExitCodeCancelled, "cancelled")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, tracker.Get().Running())
}

func TestTrackerConcurrentBeginSingleWinner(t *testing.T) {
	t.Parallel()

	tracker, _ := newTracker(t)
	const workers = 16

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tracker.Begin(pricewise.RunStart{RunID: string(rune('a' + i)), StartedAt: testNow})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, pricewise.ErrAlreadyRunning)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestTrackerCorruptFileStartsIdle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), runstate.StateFile)
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o600))

	tracker, err := runstate.NewTracker(path, fixedClock{now: testNow}, nil)
	require.NoError(t, err)
	assert.Equal(t, pricewise.RunStatusIdle, tracker.Get().Status)
}

func TestTrackerRequiresClock(t *testing.T) {
	t.Parallel()

	_, err := runstate.NewTracker(filepath.Join(t.TempDir(), "x.json"), nil, nil)
	require.Error(t, err)
}
