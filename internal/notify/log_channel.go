package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogChannel writes notifications to the logger. Used when no push keys
// are configured.
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(_ context.Context, recipientID int64, msg Message) error {
	l.logger.Info("notification",
		zap.Int64("recipient_id", recipientID),
		zap.String("audience", string(msg.Audience)),
		zap.String("title", msg.Title),
		zap.String("url", msg.URL))
	return nil
}
