// Package observe provides application-wide observability primitives for
// lexicoach: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
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

// meterName is the instrumentation scope name used for all lexicoach metrics.
const meterName = "github.com/MrWong99/lexicoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Session lifecycle ---

	// Sessions counts finished sessions. Use with attribute:
	//   attribute.String("outcome", "completed"|"cancelled"|"error")
	Sessions metric.Int64Counter

	// ActiveSessions tracks the number of sessions between Start and teardown.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectDuration tracks the time from Start until the remote endpoint
	// acknowledged the stream, including microphone acquisition.
	ConnectDuration metric.Float64Histogram

	// SlowConnects counts connection attempts that raised the advisory
	// "taking longer than expected" signal.
	SlowConnects metric.Int64Counter

	// --- Audio ---

	// CaptureFrames counts capture blocks. Use with attribute:
	//   attribute.String("state", "sent"|"muted"|"failed")
	CaptureFrames metric.Int64Counter

	// PlaybackChunks counts scheduled output chunks.
	PlaybackChunks metric.Int64Counter

	// DecodeErrors counts dropped output chunks that failed to decode.
	DecodeErrors metric.Int64Counter

	// --- Transcript and cleanup ---

	// TranscriptMessages counts finalized messages. Use with attribute:
	//   attribute.String("role", "user"|"model")
	TranscriptMessages metric.Int64Counter

	// CleanupErrors counts failed teardown steps. Use with attribute:
	//   attribute.String("step", ...)
	CleanupErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks /metrics, /healthz and /readyz latency by
	// method and mux route.
	HTTPRequestDuration metric.Float64Histogram
}

// connectBuckets defines histogram bucket boundaries (in seconds) for
// connection setup, which includes a possible permission prompt.
var connectBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Session lifecycle.
	if met.Sessions, err = m.Int64Counter("lexicoach.sessions",
		metric.WithDescription("Finished conversation sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lexicoach.active_sessions",
		metric.WithDescription("Number of running conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("lexicoach.connect.duration",
		metric.WithDescription("Time from session start until the stream was acknowledged."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SlowConnects, err = m.Int64Counter("lexicoach.connect.slow",
		metric.WithDescription("Connection attempts that exceeded the advisory timeout."),
	); err != nil {
		return nil, err
	}

	// Audio.
	if met.CaptureFrames, err = m.Int64Counter("lexicoach.capture.frames",
		metric.WithDescription("Microphone blocks by state."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("lexicoach.playback.chunks",
		metric.WithDescription("Model audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("lexicoach.playback.decode_errors",
		metric.WithDescription("Model audio chunks dropped because they failed to decode."),
	); err != nil {
		return nil, err
	}

	// Transcript and cleanup.
	if met.TranscriptMessages, err = m.Int64Counter("lexicoach.transcript.messages",
		metric.WithDescription("Finalized transcript messages by role."),
	); err != nil {
		return nil, err
	}
	if met.CleanupErrors, err = m.Int64Counter("lexicoach.cleanup.errors",
		metric.WithDescription("Failed teardown steps by step name."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lexicoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordSession records a finished session with its outcome.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordConnect records how long the connection took to come up.
func (m *Metrics) RecordConnect(ctx context.Context, provider string, d time.Duration) {
	m.ConnectDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordCaptureFrame records one microphone block in the given state.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, state string) {
	m.CaptureFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordTranscriptMessage records one finalized transcript message.
func (m *Metrics) RecordTranscriptMessage(ctx context.Context, role string) {
	m.TranscriptMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordCleanupError records a failed teardown step.
func (m *Metrics) RecordCleanupError(ctx context.Context, step string) {
	m.CleanupErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}
