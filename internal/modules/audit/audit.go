package audit

import (
	"context"

	"verifybot/internal/metrics"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Logger records moderation events: who verified or denied whom, rejected
// clicks and hierarchy problems.
type Logger struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLogger(logger *zap.Logger, m *metrics.Metrics) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger, metrics: m}
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	if l == nil {
		return
	}
	_ = ctx
	l.metrics.Audit(level, event)
	fields := []zap.Field{
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.String("details", details),
	}
	switch level {
	case LevelCrit:
		l.logger.Error("audit", fields...)
	case LevelWarn:
		l.logger.Warn("audit", fields...)
	default:
		l.logger.Info("audit", fields...)
	}
}
