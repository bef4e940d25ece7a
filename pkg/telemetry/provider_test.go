package telemetry

import (
	"context"
	"testing"

	"github.com/0xb-s/fuzzer/config"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx/fxtest"
)

func TestNewTelemetryDisabled(t *testing.T) {
	tel, err := NewTelemetry(TelemetryParams{Lifecycle: fxtest.NewLifecycle(t), Config: &config.AppConfig{}})
	if err != nil || tel != nil {
		t.Fatalf("disabled telemetry = %v, %v", tel, err)
	}
}

func TestSamplerKeepsRatioOfRootsAndFollowsParents(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	never := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(newSampler(0)),
		sdktrace.WithSpanProcessor(recorder),
	).Tracer("test")

	_, root := never.Start(context.Background(), "root")
	root.End()
	if n := len(recorder.Ended()); n != 0 {
		t.Fatalf("ratio 0 recorded %d root spans", n)
	}

	// a sampled coordinator span arriving through a task trace
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	_, child := never.Start(trace.ContextWithRemoteSpanContext(context.Background(), parent), "executing task")
	child.End()
	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Parent().SpanID() != parent.SpanID() {
		t.Fatalf("child of a sampled parent must be kept, got %d spans", len(ended))
	}

	always := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(newSampler(1)),
		sdktrace.WithSpanProcessor(recorder),
	).Tracer("test")
	_, root = always.Start(context.Background(), "root")
	root.End()
	if n := len(recorder.Ended()); n != 2 {
		t.Errorf("ratio 1 must keep the root span, have %d spans", n)
	}
}

func TestResourceIdentifiesInstance(t *testing.T) {
	set := newResource("fuzzer", "instance-1").Set()
	if v, ok := set.Value(semconv.ServiceNameKey); !ok || v.AsString() != "fuzzer" {
		t.Errorf("service.name = %v", v)
	}
	if v, ok := set.Value(semconv.ServiceInstanceIDKey); !ok || v.AsString() != "instance-1" {
		t.Errorf("service.instance.id = %v", v)
	}
}
