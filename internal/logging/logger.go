// Package logging holds the zap setup and the error type used for failed
// infrastructure calls made on behalf of a sign-up session.
package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds the service logger: JSON output with a "timestamp" key.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation tags log lines with the infrastructure call being made and,
// when known, the sign-up session it serves.
func WithOperation(logger *zap.Logger, operation, sessionID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	return logger.With(fields...)
}
