package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/pricewise"
	"github.com/JakeFAU/pricewise/internal/progress"
)

// RunNotification is the message published when a scraper run ends.
type RunNotification struct {
	RunID      string                  `json:"runId"`
	Result     string                  `json:"result"`
	ExitCode   int                     `json:"exitCode"`
	Mode       string                  `json:"mode,omitempty"`
	FinishedAt time.Time               `json:"finishedAt"`
	DurationMS int64                   `json:"durationMs"`
	Error      string                  `json:"error,omitempty"`
	History    *pricewise.HistoryEntry `json:"history,omitempty"`
}

// PublishSink announces terminal run events on a message topic.
type PublishSink struct {
	publisher pricewise.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishSink constructs a PublishSink. An empty topic uses the publisher default.
func NewPublishSink(publisher pricewise.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes one notification per terminal run event.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if !evt.Stage.Terminal() {
			continue
		}
		msg := RunNotification{
			RunID:      evt.RunID,
			Result:     evt.Stage.Result(),
			ExitCode:   evt.ExitCode,
			Mode:       evt.Mode,
			FinishedAt: evt.TS.UTC(),
			DurationMS: evt.Dur.Milliseconds(),
			Error:      evt.Note,
			History:    evt.History,
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			return fmt.Errorf("publish run %s: %w", evt.RunID, err)
		}
		s.logger.Debug("run notification published", zap.String("run_id", evt.RunID), zap.String("message_id", id))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
