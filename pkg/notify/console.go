package notify

import (
	"context"

	"go.uber.org/zap"
)

// ConsoleSink writes notifications to the structured log. It is the default
// transport for a headless deployment; a chat or SMS gateway slots in behind
// the same interface.
type ConsoleSink struct {
	logger *zap.Logger
}

// NewConsoleSink constructs a ConsoleSink.
func NewConsoleSink(logger *zap.Logger) *ConsoleSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSink{logger: logger}
}

// Emit logs the notification.
func (s *ConsoleSink) Emit(ctx context.Context, target, templateKey, eventKey string, payload map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Sugar().Infow("notification",
		"target", target,
		"template", templateKey,
		"event_key", eventKey,
		"payload", payload,
	)
	return nil
}
