package common

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextLogger threads request-scoped fields (tenant, database type,
// collection, object id) through a chain of operations without needing a
// context.Context lookup at every log site.
type ContextLogger struct {
	entry *logrus.Entry
}

// NewContextLogger wraps a component logger for a single operation.
func NewContextLogger(component string) *ContextLogger {
	return &ContextLogger{entry: NewLogger(component)}
}

// With returns a derived logger carrying an additional field.
func (c *ContextLogger) With(key string, value any) *ContextLogger {
	return &ContextLogger{entry: c.entry.WithField(key, value)}
}

// WithFields returns a derived logger carrying several additional fields.
func (c *ContextLogger) WithFields(fields logrus.Fields) *ContextLogger {
	return &ContextLogger{entry: c.entry.WithFields(fields)}
}

// WithError returns a derived logger carrying the given error.
func (c *ContextLogger) WithError(err error) *ContextLogger {
	return &ContextLogger{entry: c.entry.WithError(err)}
}

func (c *ContextLogger) Debug(args ...any) { c.entry.Debug(args...) }
func (c *ContextLogger) Info(args ...any)  { c.entry.Info(args...) }
func (c *ContextLogger) Warn(args ...any)  { c.entry.Warn(args...) }
func (c *ContextLogger) Error(args ...any) { c.entry.Error(args...) }

func (c *ContextLogger) Debugf(format string, args ...any) { c.entry.Debugf(format, args...) }
func (c *ContextLogger) Infof(format string, args ...any)  { c.entry.Infof(format, args...) }
func (c *ContextLogger) Warnf(format string, args ...any)  { c.entry.Warnf(format, args...) }
func (c *ContextLogger) Errorf(format string, args ...any) { c.entry.Errorf(format, args...) }

// RouteFields builds the standard field set attached to any log line
// produced while handling a routed request.
func RouteFields(tenantID, dbType, collection string) logrus.Fields {
	return logrus.Fields{
		"tenantId":   tenantID,
		"dbType":     dbType,
		"collection": collection,
	}
}

// LogDuration logs how long an operation took at Debug, or at Warn if it
// exceeded the given threshold.
func (c *ContextLogger) LogDuration(op string, start time.Time, slowThreshold time.Duration) {
	elapsed := time.Since(start)
	entry := c.entry.WithField("op", op).WithField("durationMs", elapsed.Milliseconds())
	if elapsed > slowThreshold {
		entry.Warn("operation slow")
		return
	}
	entry.Debug("operation complete")
}

// loggerKey is the context key NewLogger-derived entries are stashed
// under by WithContext/FromContext.
type loggerKey struct{}

// WithContext returns a context carrying cl for retrieval deeper in a
// call chain via FromContext.
func WithContext(ctx context.Context, cl *ContextLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, cl)
}

// FromContext retrieves a logger stashed by WithContext, or a fresh
// "unscoped" logger if none was stashed.
func FromContext(ctx context.Context) *ContextLogger {
	if cl, ok := ctx.Value(loggerKey{}).(*ContextLogger); ok {
		return cl
	}
	return NewContextLogger("unscoped")
}
