package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects where telemetry goes.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Exporter       string  // "none", "stdout" or "otlp"
	Insecure       bool    // plain HTTP to the OTLP collector
	SampleRatio    float64 // fraction of root traces kept; 0 or 1 keeps all
}

// Providers owns the installed providers.
type Providers struct {
	// Shutdown flushes pending spans and metrics. Call it once on exit.
	Shutdown func(ctx context.Context) error
}

// Setup installs global tracer and meter providers for cfg.Exporter. With
// "none" the global no-op providers stay in place.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	if cfg.Exporter == "none" {
		return &Providers{Shutdown: func(context.Context) error { return nil }}, nil
	}

	spans, metrics, err := newExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating otel resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSampler(sampler(cfg.SampleRatio)),
		trace.WithBatcher(spans),
	)
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metrics)),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Providers{Shutdown: func(ctx context.Context) error {
		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
		return errors.Join(errs...)
	}}, nil
}

func newExporters(ctx context.Context, cfg Config) (trace.SpanExporter, metric.Exporter, error) {
	switch cfg.Exporter {
	case "otlp":
		var topts []otlptracehttp.Option
		var mopts []otlpmetrichttp.Option
		if cfg.Insecure {
			topts = append(topts, otlptracehttp.WithInsecure())
			mopts = append(mopts, otlpmetrichttp.WithInsecure())
		}
		spans, err := otlptracehttp.New(ctx, topts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating otlp span exporter: %w", err)
		}
		metrics, err := otlpmetrichttp.New(ctx, mopts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating otlp metric exporter: %w", err)
		}
		return spans, metrics, nil
	case "stdout":
		spans, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout span exporter: %w", err)
		}
		metrics, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout metric exporter: %w", err)
		}
		return spans, metrics, nil
	default:
		return nil, nil, fmt.Errorf("unsupported exporter: %q (use \"none\", \"stdout\" or \"otlp\")", cfg.Exporter)
	}
}

// sampler keeps every trace unless ratio is strictly between 0 and 1.
// Child spans follow their parent's decision.
func sampler(ratio float64) trace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return trace.ParentBased(trace.AlwaysSample())
	}
	return trace.ParentBased(trace.TraceIDRatioBased(ratio))
}
