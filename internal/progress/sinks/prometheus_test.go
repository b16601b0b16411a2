package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewise/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the run lifecycle.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "run-1", TS: now, Stage: progress.StageRunStart},
		{RunID: "run-1", TS: now, Stage: progress.StageRunStart},
		{RunID: "run-2", TS: now, Stage: progress.StageRunStart},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsRunning))

	batch = []progress.Event{
		{RunID: "run-1", TS: now, Stage: progress.StageRunDone, Dur: 15 * time.Minute},
		{RunID: "run-2", TS: now, Stage: progress.StageRunCancelled, ExitCode: -2, Dur: time.Minute},
		{RunID: "run-2", TS: now, Stage: progress.StageRunCancelled, ExitCode: -2},
		{TS: now, Stage: progress.StageAnalyzerDone, Dur: 40 * time.Millisecond},
		{TS: now, Stage: progress.StageAnalyzerError},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("cancelled")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.analyzerPasses.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.analyzerPasses.WithLabelValues("error")))
	require.Equal(t, 2, testutil.CollectAndCount(sink.runRuntime, "pricewise_run_runtime_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
