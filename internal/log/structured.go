package log

import (
	"context"
	"log/slog"
	"net/http"
)

// StructuredLogger writes the request lifecycle and failure records with
// a fixed field set.
type StructuredLogger struct {
	logger *Logger
}

// NewStructuredLogger wraps logger as is; callers pick the component.
func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

func (sl *StructuredLogger) LogHTTPStart(ctx context.Context, r *http.Request, clientIP string) {
	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
		WithClientIP(clientIP)
	sl.logger.InfoContext(ctx, "HTTP request started", fields.ToSlice()...)
}

// LogHTTPEnd picks the level from the status: warn for 4xx, error for 5xx.
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "").
		WithHTTPResponse(statusCode, durationMs).
		WithClientIP(clientIP)
	sl.logger.LogContext(ctx, level, "HTTP request completed", fields.ToSlice()...)
}

// LogRejected records a request refused before any work was done.
func (sl *StructuredLogger) LogRejected(ctx context.Context, msg, operation string, fields LogFields) {
	sl.logger.WarnContext(ctx, msg, fields.orNew().WithOperation(operation).ToSlice()...)
}

// LogError records a failed operation.
func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, operation string, fields LogFields) {
	sl.logger.ErrorContext(ctx, msg, fields.orNew().WithError(err).WithOperation(operation).ToSlice()...)
}
