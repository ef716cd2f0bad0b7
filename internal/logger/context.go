package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context threaded through the
// durability core: WAL append, cache writes, and upload pipeline stages
// all tag their log lines with it so a single append can be traced
// end-to-end from producer to committed object.
type LogContext struct {
	TraceID   string // distributed trace ID for request correlation
	SpanID    string // distributed span ID
	StreamID  int64  // stream the current operation belongs to
	Epoch     int64  // stream epoch, used to detect stale producers
	StartTime time.Time
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

// NewLogContext creates a new LogContext for a stream-scoped operation.
func NewLogContext(streamID int64) *LogContext {
	return &LogContext{
		StreamID:  streamID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithEpoch returns a copy with the stream epoch set
func (lc *LogContext) WithEpoch(epoch int64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Epoch = epoch
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
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
