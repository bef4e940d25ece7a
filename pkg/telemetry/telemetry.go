package telemetry

import (
	"context"
	"errors"

	"github.com/0xb-s/fuzzer/config"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

type Telemetry interface {
	GetTracer() trace.Tracer
	GetLogger() log.Logger
}

// exporters hands out the OTLP-backed tracer and, when the log exporter came up, the log emitter
type exporters struct {
	tracer trace.Tracer
	logger log.Logger
}

type TelemetryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.AppConfig
}

// NewTelemetry returns nil unless TELEMETRY_ENABLED is set; the OTLP exporters read their
// endpoints from the standard OTEL_EXPORTER_OTLP_* variables
func NewTelemetry(p TelemetryParams) (Telemetry, error) {
	if !p.Config.TelemetryEnabled {
		return nil, nil
	}
	telemetryCtx, cancel := context.WithCancel(context.Background())
	res := newResource(p.Config.ServiceName, uuid.NewString())

	traceProvider, err := newTracerProvider(telemetryCtx, res, p.Config.TelemetrySampleRatio)
	if err != nil {
		cancel()
		return nil, err
	}
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// the log SDK is still beta, so a failing log exporter only disables log export
	logProvider, _ := newLoggerProvider(telemetryCtx, res)
	var logger log.Logger
	if logProvider != nil {
		logger = logProvider.Logger(p.Config.ServiceName)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			defer cancel()
			err := traceProvider.Shutdown(ctx)
			if logProvider != nil {
				err = errors.Join(err, logProvider.Shutdown(ctx))
			}
			return err
		},
	})

	return &exporters{traceProvider.Tracer(p.Config.ServiceName), logger}, nil
}

// newResource identifies this process; every coordinator and worker gets its own instance id
func newResource(serviceName, instanceID string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceInstanceIDKey.String(instanceID),
	)
}

// newSampler keeps ratio of the root traces. Spans continuing a coordinator trace on a
// worker follow the coordinator's decision, so a distributed session is kept or dropped whole.
func newSampler(ratio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func newTracerProvider(ctx context.Context, res *resource.Resource, ratio float64) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(ratio)),
	), nil
}

func newLoggerProvider(ctx context.Context, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exp, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, err
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	), nil
}

func (e *exporters) GetTracer() trace.Tracer {
	return e.tracer
}

func (e *exporters) GetLogger() log.Logger {
	return e.logger
}
