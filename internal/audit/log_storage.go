package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogStorage writes audit events to the structured log. Used when no
// database is configured; CloudWatch keeps the trail in Lambda.
type LogStorage struct {
	logger *zap.Logger
}

func NewLogStorage(logger *zap.Logger) *LogStorage {
	return &LogStorage{logger: logger.Named("audit")}
}

func (s *LogStorage) WriteBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Info("approval audit",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("pipeline", e.Pipeline),
			zap.String("env", e.Env),
			zap.String("stage", e.Stage),
			zap.String("action", e.Action),
			zap.String("status", e.Status),
			zap.String("outcome", e.Outcome),
			zap.String("error", e.Error),
			zap.Time("timestamp", e.Timestamp),
			zap.Int64("duration_ms", e.DurationMs),
		)
	}
	return nil
}
