package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/progress"
)

// LogSink emits one structured log line per lifecycle event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("mode", evt.Mode),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Stage.Terminal() {
			fields = append(fields, zap.Int("exit_code", evt.ExitCode))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage.Result() {
		case "error":
			s.logger.Warn("lifecycle event", fields...)
		default:
			s.logger.Info("lifecycle event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
