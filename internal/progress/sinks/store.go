package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/progress"
	"github.com/JakeFAU/pricewise/internal/store"
)

// StoreSink records run transitions in a store.RunRepository.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards run events to the repository in order. Analyzer events are
// skipped. Repository errors are returned verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		switch {
		case evt.Stage == progress.StageRunStart:
			if err := s.repo.RecordRunStart(ctx, evt.RunID, evt.TS, evt.Mode); err != nil {
				return fmt.Errorf("record run start: %w", err)
			}
		case evt.Stage.Terminal():
			var note *string
			if evt.Note != "" {
				msg := evt.Note
				note = &msg
			}
			status := store.StatusFor(evt.Stage.Result())
			if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, status, evt.ExitCode, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
