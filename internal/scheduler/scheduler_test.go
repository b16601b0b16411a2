package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewise/internal/pricewise"
	"github.com/JakeFAU/pricewise/internal/scheduler"
)

type fakeRunner struct {
	starts   atomic.Int32
	analyses atomic.Int32
	startErr error
	anaErr   error
}

func (f *fakeRunner) StartRun(context.Context) (string, error) {
	f.starts.Add(1)
	if f.startErr != nil {
		return "", f.startErr
	}
	return "run-1", nil
}

func (f *fakeRunner) RunAnalyzerOnly(context.Context) (*pricewise.Snapshot, error) {
	f.analyses.Add(1)
	if f.anaErr != nil {
		return nil, f.anaErr
	}
	return &pricewise.Snapshot{}, nil
}

type fakeFreshness struct {
	outdated bool
	err      error
}

func (f fakeFreshness) IsOutdated(context.Context) (bool, error) { return f.outdated, f.err }

func TestNewRejectsBadSchedules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, err := scheduler.New(ctx, scheduler.Config{}, nil, nil, nil)
	require.Error(t, err)

	_, err = scheduler.New(ctx, scheduler.Config{RunCron: "not a cron"}, &fakeRunner{}, nil, nil)
	require.ErrorContains(t, err, "invalid run cron")

	_, err = scheduler.New(ctx, scheduler.Config{RefreshCron: "@hourly"}, &fakeRunner{}, nil, nil)
	require.Error(t, err, "refresh needs a freshness policy")

	s, err := scheduler.New(ctx, scheduler.Config{RefreshCron: "*/5 * * * *", RunCron: "@daily"},
		&fakeRunner{}, fakeFreshness{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Jobs())
}

func TestRefreshIfOutdated(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		freshness fakeFreshness
		anaErr    error
		wantRuns  int32
		wantErr   bool
	}{
		{name: "fresh skips", freshness: fakeFreshness{outdated: false}},
		{name: "outdated analyzes", freshness: fakeFreshness{outdated: true}, wantRuns: 1},
		{name: "no raw data is fine", freshness: fakeFreshness{outdated: true}, anaErr: pricewise.ErrNoRawData, wantRuns: 1},
		{name: "analyzer failure", freshness: fakeFreshness{outdated: true}, anaErr: errors.New("disk full"), wantRuns: 1, wantErr: true},
		{name: "staleness failure", freshness: fakeFreshness{err: errors.New("boom")}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{anaErr: tc.anaErr}
			s, err := scheduler.New(context.Background(), scheduler.Config{}, runner, tc.freshness, nil)
			require.NoError(t, err)
			err = s.RefreshIfOutdated(context.Background())
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.wantRuns, runner.analyses.Load())
		})
	}
}

func TestTriggerRunToleratesInFlightRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{startErr: fmt.Errorf("begin: %w", pricewise.ErrAlreadyRunning)}
	s, err := scheduler.New(context.Background(), scheduler.Config{}, runner, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.TriggerRun(context.Background()))

	runner.startErr = errors.New("spawn failed")
	require.Error(t, s.TriggerRun(context.Background()))
	assert.Equal(t, int32(2), runner.starts.Load())
}

func TestScheduledRunFires(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s, err := scheduler.New(context.Background(), scheduler.Config{RunCron: "@every 1s"}, runner, nil, nil)
	require.NoError(t, err)
	s.Start()
	defer func() {
		require.NoError(t, s.Stop(context.Background()))
	}()

	require.Eventually(t, func() bool {
		return runner.starts.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond)
}
