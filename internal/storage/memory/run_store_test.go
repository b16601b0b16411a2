package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewise/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordRunStart(ctx, "run-1", start, "PRICING ANALYSIS"))
	require.Error(t, s.RecordRunStart(ctx, "", start, ""))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, run.Status)
	assert.Nil(t, run.FinishedAt)
	assert.Nil(t, run.ExitCode)

	msg := "cancelled by user"
	require.NoError(t, s.CompleteRun(ctx, "run-1", start.Add(time.Minute), store.RunCancelled, -2, &msg))
	msg = "mutated"

	run, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunCancelled, run.Status)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, -2, *run.ExitCode)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "cancelled by user", *run.ErrorMessage)
	assert.Equal(t, "PRICING ANALYSIS", run.Mode)

	require.NoError(t, s.RecordRunStart(ctx, "run-1", start, "PRICING ANALYSIS"))
	run, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunCancelled, run.Status, "a replayed start must not reopen a finished run")

	_, err = s.GetRun(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreListRunsPaging(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.RecordRunStart(ctx, id, base.Add(time.Duration(i)*time.Hour), ""))
	}

	all, err := s.ListRuns(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	page, err := s.ListRuns(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	empty, err := s.ListRuns(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
