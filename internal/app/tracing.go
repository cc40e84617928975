package app

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// logSpanProcessor writes every ended span to the debug log.
type logSpanProcessor struct{}

func (logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (logSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	kv := []any{
		"trace_id", s.SpanContext().TraceID().String(),
		"duration", s.EndTime().Sub(s.StartTime()).Round(time.Millisecond),
	}
	for _, a := range s.Attributes() {
		if a.Value.Type() == attribute.STRING && len(a.Value.AsString()) > 120 {
			continue
		}
		kv = append(kv, string(a.Key), a.Value.Emit())
	}
	if s.Status().Code == codes.Error {
		logger.Warn("[Trace] "+s.Name(), append(kv, "err", s.Status().Description)...)
		return
	}
	logger.Debug("[Trace] "+s.Name(), kv...)
}

func (logSpanProcessor) Shutdown(context.Context) error   { return nil }
func (logSpanProcessor) ForceFlush(context.Context) error { return nil }

// InitTracing installs a global tracer provider that reports spans to the
// logger. The returned function flushes and shuts it down.
func InitTracing(extra ...sdktrace.SpanProcessor) (*sdktrace.TracerProvider, func()) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(logSpanProcessor{}),
	}
	for _, p := range extra {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("[Trace] Failed to shut down tracer provider", "err", err)
		}
	}
}
