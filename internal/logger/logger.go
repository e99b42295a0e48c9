// Package logger provides a request-scoped, logrus-backed logging service.
// It is modeled on the teacher's logger.GetLogger(ctx) / logger.Infof(ctx, ...)
// call sites: a process-wide service with explicit Init/Shutdown lifecycle,
// injected into request handling via context.Context rather than accessed
// as a bare module-level global (see the "global mutable logger" design note).
package logger

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	fieldsKey     contextKey = "logger_fields"
	requestIDKey  contextKey = "request_id"
	correlationID contextKey = "correlation_id"
)

var root = logrus.New()

// Config controls the process-wide logger.
type Config struct {
	Level  string // debug|info|warn|error
	JSON   bool
	Output io.Writer
}

// Init configures the shared logger. Call once at process start.
func Init(cfg Config) {
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	root.SetLevel(lvl)
	if cfg.JSON {
		root.SetFormatter(&logrus.JSONFormatter{})
	} else {
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.Output != nil {
		root.SetOutput(cfg.Output)
	} else {
		root.SetOutput(os.Stdout)
	}
}

// Shutdown flushes any buffered log state. Present for lifecycle symmetry
// with Init; logrus itself has nothing to flush on the default writer.
func Shutdown() {}

// WithRequestID attaches a request/correlation id to the context so that
// every subsequent log call carries it automatically.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithCorrelationID attaches a search/pipeline correlation id to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationID, id)
}

// CloneContext returns a context carrying the same logger fields but
// detached from the parent's cancellation, used by handlers that need to
// keep logging after the inbound request context is done.
func CloneContext(ctx context.Context) context.Context {
	detached := context.Background()
	if v := ctx.Value(requestIDKey); v != nil {
		detached = context.WithValue(detached, requestIDKey, v)
	}
	if v := ctx.Value(correlationID); v != nil {
		detached = context.WithValue(detached, correlationID, v)
	}
	return detached
}

// entry builds a logrus.Entry seeded with whatever identifiers are present
// on the context.
func entry(ctx context.Context) *logrus.Entry {
	e := logrus.NewEntry(root)
	if ctx == nil {
		return e
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		e = e.WithField("request_id", v)
	}
	if v, ok := ctx.Value(correlationID).(string); ok && v != "" {
		e = e.WithField("correlation_id", v)
	}
	return e
}

// GetLogger returns a logrus.Entry scoped to the request context.
func GetLogger(ctx context.Context) *logrus.Entry {
	return entry(ctx)
}

func Info(ctx context.Context, args ...interface{})  { entry(ctx).Info(args...) }
func Infof(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Infof(format, args...)
}
func Warn(ctx context.Context, args ...interface{}) { entry(ctx).Warn(args...) }
func Warnf(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Warnf(format, args...)
}
func Error(ctx context.Context, args ...interface{}) { entry(ctx).Error(args...) }
func Errorf(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Errorf(format, args...)
}
func Debugf(ctx context.Context, format string, args ...interface{}) {
	entry(ctx).Debugf(format, args...)
}

// ErrorWithFields logs err along with an arbitrary structured field set.
func ErrorWithFields(ctx context.Context, err error, fields map[string]interface{}) {
	e := entry(ctx)
	if fields != nil {
		e = e.WithFields(fields)
	}
	e.WithError(err).Error("operation failed")
}

// PipelineInfo/Warn/Error log a search or ingestion pipeline stage event
// under a stable "stage"/"action" shape, mirroring the teacher's
// chat_pipline common.go pipelineInfo/pipelineWarn/pipelineError helpers.
func PipelineInfo(ctx context.Context, stage, action string, fields map[string]interface{}) {
	withStage(ctx, stage, action, fields).Info("pipeline stage")
}

func PipelineWarn(ctx context.Context, stage, action string, fields map[string]interface{}) {
	withStage(ctx, stage, action, fields).Warn("pipeline stage")
}

func PipelineError(ctx context.Context, stage, action string, fields map[string]interface{}) {
	withStage(ctx, stage, action, fields).Error("pipeline stage")
}

func withStage(ctx context.Context, stage, action string, fields map[string]interface{}) *logrus.Entry {
	e := entry(ctx).WithField("stage", stage).WithField("action", action)
	if fields != nil {
		e = e.WithFields(fields)
	}
	return e
}
