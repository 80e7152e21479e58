package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the telemetry of one podbot command.
type ProviderConfig struct {
	// ServiceName is reported in telemetry. Default: "podbot".
	ServiceName string

	// ServiceVersion is the podbot build version.
	ServiceVersion string

	// Command names the running subcommand (record, process, ...) and is
	// attached to the resource so that recorder and processor telemetry can
	// be told apart.
	Command string

	// OTLPEndpoint is the host:port of an OTLP/HTTP collector receiving
	// spans. Empty keeps spans in-process only.
	OTLPEndpoint string

	// OTLPInsecure sends spans over plain HTTP.
	OTLPInsecure bool

	// SampleRate is the fraction of traces kept, from 0 to 1. Zero selects 1.
	SampleRate float64

	// TraceExporter overrides the OTLP exporter. Tests use an in-memory one.
	TraceExporter sdktrace.SpanExporter

	// Registerer receives the Prometheus collector.
	// Default: [prometheus.DefaultRegisterer], served by promhttp.Handler.
	Registerer prometheus.Registerer
}

// InitProvider registers the global meter and tracer providers:
//
//   - metrics go to a Prometheus exporter, scraped from /metrics while
//     recording;
//   - spans go to cfg.TraceExporter, else to the OTLP collector at
//     cfg.OTLPEndpoint, else nowhere.
//
// The returned shutdown flushes pending spans; call it before exiting.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "podbot"
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promExp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	exp := cfg.TraceExporter
	if exp == nil && cfg.OTLPEndpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if exp, err = otlptracehttp.New(ctx, opts...); err != nil {
			return nil, errors.Join(fmt.Errorf("observe: otlp exporter: %w", err), mp.Shutdown(ctx))
		}
		slog.Info("exporting traces", "endpoint", cfg.OTLPEndpoint, "sample_rate", sampleRate(cfg.SampleRate))
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	}
	if exp != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		// Spans first: the batcher may still record span metrics.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newResource(cfg ProviderConfig) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			Attr("podbot.command", cfg.Command),
		),
	)
}

func sampleRate(r float64) float64 {
	if r <= 0 || r > 1 {
		return 1
	}
	return r
}

func sampler(r float64) sdktrace.Sampler {
	if r = sampleRate(r); r == 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(r)
}
