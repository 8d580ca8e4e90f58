package subutils

import (
	"context"
	"encoding/json"

	"github.com/tsarna/callsec/pkg/realtime"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingSubscriber logs every event it receives and passes it on to the
// wrapped subscriber, if any.
type LoggingSubscriber struct {
	wrapped  realtime.Subscriber // can be nil
	logger   *zap.Logger
	logLevel zapcore.Level
	name     string
}

// NewLoggingSubscriber creates a LoggingSubscriber. If wrapped is nil it
// only logs.
func NewLoggingSubscriber(wrapped realtime.Subscriber, logger *zap.Logger, logLevel zapcore.Level) *LoggingSubscriber {
	return NewNamedLoggingSubscriber(wrapped, logger, logLevel, "LoggingSubscriber")
}

// NewNamedLoggingSubscriber is NewLoggingSubscriber with a name that
// identifies the subscriber in the logs.
func NewNamedLoggingSubscriber(wrapped realtime.Subscriber, logger *zap.Logger, logLevel zapcore.Level, name string) *LoggingSubscriber {
	return &LoggingSubscriber{
		wrapped:  wrapped,
		logger:   logger,
		logLevel: logLevel,
		name:     name,
	}
}

func (l *LoggingSubscriber) OnEvent(ctx context.Context, category realtime.Category, payload json.RawMessage) error {
	l.logger.Log(l.logLevel, "Event received",
		zap.String("subscriber", l.name),
		zap.String("category", string(category)),
		zap.ByteString("payload", payload),
		zap.Bool("hasWrapped", l.wrapped != nil),
	)

	if l.wrapped != nil {
		return l.wrapped.OnEvent(ctx, category, payload)
	}

	return nil
}
