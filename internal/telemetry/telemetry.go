// Package telemetry wraps per-stage tracing and metrics for the search and
// ingestion pipelines using go.opentelemetry.io/otel, generalizing the
// teacher's chat_pipline stage-logging idiom (pipelineInfo/pipelineWarn) into
// span + counter/histogram instrumentation.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/ragcore/ragcore"
	meterName  = "github.com/ragcore/ragcore"
)

var (
	tracer = otel.Tracer(tracerName)
	meter  = otel.Meter(meterName)

	stageDuration metric.Float64Histogram
	stageErrors   metric.Int64Counter
)

func init() {
	var err error
	stageDuration, err = meter.Float64Histogram(
		"ragcore.pipeline.stage.duration_ms",
		metric.WithDescription("Wall-clock duration of a single pipeline stage, in milliseconds"),
	)
	if err != nil {
		stageDuration, _ = meter.Float64Histogram("ragcore.pipeline.stage.duration_ms")
	}
	stageErrors, err = meter.Int64Counter(
		"ragcore.pipeline.stage.errors",
		metric.WithDescription("Count of pipeline stage failures by stage name and error code"),
	)
	if err != nil {
		stageErrors, _ = meter.Int64Counter("ragcore.pipeline.stage.errors")
	}
}

// StageSpan wraps the span and timer for a single pipeline stage invocation.
type StageSpan struct {
	span    trace.Span
	stage   string
	started time.Time
}

// StartStage opens a span named "pipeline.<stage>" and starts its timer.
// Callers must call End (success) or Fail (error) exactly once.
func StartStage(ctx context.Context, stage string) (context.Context, *StageSpan) {
	ctx, span := tracer.Start(ctx, "pipeline."+stage, trace.WithAttributes(
		attribute.String("stage", stage),
	))
	return ctx, &StageSpan{span: span, stage: stage, started: time.Now()}
}

// End closes the span and records stage duration without an error.
func (s *StageSpan) End(ctx context.Context) {
	elapsed := time.Since(s.started)
	stageDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String("stage", s.stage),
	))
	s.span.End()
}

// Fail closes the span, records it as an error, and increments the stage
// error counter tagged with the given error code.
func (s *StageSpan) Fail(ctx context.Context, code string, err error) {
	elapsed := time.Since(s.started)
	stageDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String("stage", s.stage),
	))
	stageErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", s.stage),
		attribute.String("code", code),
	))
	if err != nil {
		s.span.RecordError(err)
	}
	s.span.SetStatus(codes.Error, code)
	s.span.End()
}

// SetAttributes attaches arbitrary key/value pairs to the active span,
// used by stages to record things like candidate counts or cache hits.
func (s *StageSpan) SetAttributes(kv ...attribute.KeyValue) {
	s.span.SetAttributes(kv...)
}
