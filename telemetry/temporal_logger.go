package telemetry

import (
	"context"

	sdklog "go.temporal.io/sdk/log"
)

// TemporalLogger adapts a Logger to the Temporal SDK logger interface so SDK
// internals (pollers, retries, worker state) log through the same pipeline.
// The context captured at construction carries the Clue logger settings.
type TemporalLogger struct {
	ctx    context.Context
	logger Logger
}

var _ sdklog.Logger = (*TemporalLogger)(nil)

// NewTemporalLogger returns a Temporal SDK logger writing to logger.
func NewTemporalLogger(ctx context.Context, logger Logger) *TemporalLogger {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &TemporalLogger{ctx: context.WithoutCancel(ctx), logger: logger}
}

// Debug implements sdklog.Logger.
func (l *TemporalLogger) Debug(msg string, keyvals ...any) {
	l.logger.Debug(l.ctx, msg, keyvals...)
}

// Info implements sdklog.Logger.
func (l *TemporalLogger) Info(msg string, keyvals ...any) {
	l.logger.Info(l.ctx, msg, keyvals...)
}

// Warn implements sdklog.Logger.
func (l *TemporalLogger) Warn(msg string, keyvals ...any) {
	l.logger.Warn(l.ctx, msg, keyvals...)
}

// Error implements sdklog.Logger. The SDK reports errors under the "Error"
// key; they are renamed to "err" so Clue records them as the log error.
func (l *TemporalLogger) Error(msg string, keyvals ...any) {
	keyvals = append([]any(nil), keyvals...)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if k, ok := keyvals[i].(string); ok && k == "Error" {
			if _, ok := keyvals[i+1].(error); ok {
				keyvals[i] = "err"
			}
		}
	}
	l.logger.Error(l.ctx, msg, keyvals...)
}
