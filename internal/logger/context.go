package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds per-transfer logging context. When attached to a
// context.Context with WithContext, the *Ctx logging functions add its
// fields to every line logged with that context. The transfer package
// does not attach one itself; it passes the transfer ID as an explicit
// field on the lines it logs.
type LogContext struct {
	TraceID    string    // caller-supplied trace ID, if any
	TransferID string    // UUID of the owning TransferState
	Direction  string    // "upload" or "download"
	Object     string    // object path being transferred
	StartTime  time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a transfer.
func NewLogContext(transferID, direction, object string) *LogContext {
	return &LogContext{
		TransferID: transferID,
		Direction:  direction,
		Object:     object,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:    lc.TraceID,
		TransferID: lc.TransferID,
		Direction:  lc.Direction,
		Object:     lc.Object,
		StartTime:  lc.StartTime,
	}
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
