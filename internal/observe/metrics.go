// Package observe provides application-wide observability primitives for
// podbot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint while recording. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all podbot metrics.
const meterName = "github.com/MrWong99/podbot"

// Status attribute values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Decoding ---

	// FramesDecoded counts frames decoded to PCM, including recovered ones.
	// Use with attribute.String("speaker", ...).
	FramesDecoded metric.Int64Counter

	// FramesRecovered counts frames that only decoded after a fallback
	// rewrite.
	FramesRecovered metric.Int64Counter

	// FramesDropped counts frames that could not be decoded at all.
	FramesDropped metric.Int64Counter

	// --- Capture ---

	// FragmentsOpened counts capture logs opened while recording.
	FragmentsOpened metric.Int64Counter

	// ActiveCaptures tracks the number of speakers currently being captured.
	ActiveCaptures metric.Int64UpDownCounter

	// Reconnects counts voice rejoin attempts after a dropped connection.
	// Use with attribute.String("status", ...).
	Reconnects metric.Int64Counter

	// --- Reassembly ---

	// Passes counts ffmpeg invocations. Use with attribute.String("status", ...).
	Passes metric.Int64Counter

	// PassDuration tracks the wall time of a single ffmpeg invocation.
	PassDuration metric.Float64Histogram

	// SpeakerDuration tracks the wall time of a complete speaker pipeline.
	// Use with attribute.String("status", ...).
	SpeakerDuration metric.Float64Histogram

	// SpeakersFailed counts speaker pipelines that produced no track.
	SpeakersFailed metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// jobBuckets defines histogram bucket boundaries (in seconds) for offline
// transcode jobs, which run from sub-second to several minutes.
var jobBuckets = []float64{
	0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesDecoded, err = m.Int64Counter("podbot.frames.decoded",
		metric.WithDescription("Total frames decoded to PCM by speaker."),
	); err != nil {
		return nil, err
	}
	if met.FramesRecovered, err = m.Int64Counter("podbot.frames.recovered",
		metric.WithDescription("Total frames decoded through a fallback rewrite by speaker."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("podbot.frames.dropped",
		metric.WithDescription("Total undecodable frames by speaker."),
	); err != nil {
		return nil, err
	}
	if met.FragmentsOpened, err = m.Int64Counter("podbot.fragments.opened",
		metric.WithDescription("Total capture fragments opened."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("podbot.reconnects",
		metric.WithDescription("Total voice rejoin attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.Passes, err = m.Int64Counter("podbot.passes",
		metric.WithDescription("Total ffmpeg invocations by status."),
	); err != nil {
		return nil, err
	}
	if met.SpeakersFailed, err = m.Int64Counter("podbot.speakers.failed",
		metric.WithDescription("Total speaker pipelines that failed."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.PassDuration, err = m.Float64Histogram("podbot.pass.duration",
		metric.WithDescription("Wall time of one ffmpeg invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeakerDuration, err = m.Float64Histogram("podbot.speaker.duration",
		metric.WithDescription("Wall time of one speaker pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("podbot.active_captures",
		metric.WithDescription("Number of speakers with an open capture log."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("podbot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status maps err to [StatusOK] or [StatusError].
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordFrames adds the decode outcome of one capture log to the frame
// counters.
func (m *Metrics) RecordFrames(ctx context.Context, speaker string, decoded, recovered, dropped int64) {
	attrs := metric.WithAttributes(attribute.String("speaker", speaker))
	m.FramesDecoded.Add(ctx, decoded, attrs)
	if recovered > 0 {
		m.FramesRecovered.Add(ctx, recovered, attrs)
	}
	if dropped > 0 {
		m.FramesDropped.Add(ctx, dropped, attrs)
	}
}

// RecordPass records one finished ffmpeg invocation.
func (m *Metrics) RecordPass(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Passes.Add(ctx, 1, attrs)
	m.PassDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSpeaker records one finished speaker pipeline.
func (m *Metrics) RecordSpeaker(ctx context.Context, status string, d time.Duration) {
	m.SpeakerDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
	if status != StatusOK {
		m.SpeakersFailed.Add(ctx, 1)
	}
}

// RecordCaptureOpened records a fragment opened for speaker while recording.
func (m *Metrics) RecordCaptureOpened(ctx context.Context, speaker string) {
	m.FragmentsOpened.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
	m.ActiveCaptures.Add(ctx, 1)
}

// RecordCaptureClosed records a fragment closed while recording.
func (m *Metrics) RecordCaptureClosed(ctx context.Context) {
	m.ActiveCaptures.Add(ctx, -1)
}

// RecordReconnect records one voice rejoin attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
