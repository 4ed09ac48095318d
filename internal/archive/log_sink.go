package archive

import (
	"context"

	"go.uber.org/zap"

	"aura-gateway/internal/models"
	"aura-gateway/internal/util"
)

// LogSink records each event at debug level. It is the default sink when no
// durable archive is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("archive")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Archive(_ context.Context, event models.TelemetryEvent) error {
	s.logger.Debug("Raw telemetry",
		zap.String("event_id", util.SanitizeLogValue(event.EventID)),
		zap.String("endpoint_id", util.SanitizeLogValue(event.EndpointID)),
		zap.String("user_id", util.SanitizeLogValue(event.UserID)),
		zap.String("event_type", util.SanitizeLogValue(event.EventType)),
		zap.Int64("timestamp", event.Timestamp),
		zap.Strings("context_keys", event.ContextData.Keys()),
	)
	return nil
}
