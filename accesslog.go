package denyproxy

import (
	"context"
	"log/slog"
	"time"
)

// AccessLogger writes structured access log entries for each proxied request.
// It uses slog.LogAttrs for low-allocation logging on the hot path.
type AccessLogger struct {
	logger *slog.Logger
}

// AccessLogEntry contains all fields for a single access log record.
type AccessLogEntry struct {
	// Timestamp when the request was received.
	Timestamp time.Time

	// CorrelationID ties the entry to the trace log lines of the request.
	CorrelationID string

	// Method is the HTTP method (GET, CONNECT, etc.).
	Method string

	// Host is the verbatim Host header.
	Host string

	// URI is the request target as sent by the client.
	URI string

	// Mode is "tunnel" or "forward".
	Mode string

	// StatusCode is the status sent to the client.
	StatusCode int

	// Outcome is "ok" or the ErrorKind of the failure.
	Outcome string

	// Duration is the time to process the request.
	Duration time.Duration

	// BytesWritten is the response body size.
	BytesWritten int64

	// ClientAddr is the client's remote address.
	ClientAddr string

	// Error is a description of any error that occurred.
	Error string

	// UserAgent is the client's User-Agent header.
	UserAgent string
}

// NewAccessLogger creates a new AccessLogger that writes to the given slog.Logger.
// For best performance, pass a logger configured with slog.NewJSONHandler.
func NewAccessLogger(logger *slog.Logger) *AccessLogger {
	return &AccessLogger{logger: logger}
}

// Log writes an access log entry.
func (al *AccessLogger) Log(e AccessLogEntry) {
	attrs := make([]slog.Attr, 0, 14)

	attrs = append(attrs,
		slog.Time("timestamp", e.Timestamp),
		slog.String("correlation_id", e.CorrelationID),
		slog.String("method", e.Method),
		slog.String("host", e.Host),
		slog.String("uri", e.URI),
		slog.String("mode", e.Mode),
		slog.String("client", e.ClientAddr),
		slog.Int("status", e.StatusCode),
		slog.String("outcome", e.Outcome),
		slog.Int64("bytes", e.BytesWritten),
		slog.Duration("duration", e.Duration),
	)

	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}

	if e.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", e.UserAgent))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "access", attrs...)
}
