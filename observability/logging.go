// Package observability builds the structured loggers shared by the API
// server, the scheduler and the notification dispatcher.
package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a JSON production logger, or a console development logger
// when env is "development". An unparsable level falls back to info.
func NewLogger(env, level string) *zap.Logger {
	lvl := zap.InfoLevel
	if level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.StacktraceKey = "stacktrace"

	if env == "development" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger = zap.NewExample()
	}
	return logger.With(zap.String("service", "disputedesk"))
}
