// Package observe records recorder metrics through the OpenTelemetry API and
// exposes them for prometheus scraping.
package observe

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Raikerian/go-discord-recorder"

// Metrics holds every instrument the recorder reports. All fields are safe
// for concurrent use.
type Metrics struct {
	// ActiveSessions tracks sessions currently held by the registry.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveCaptures tracks live per-speaker capture pipelines.
	ActiveCaptures metric.Int64UpDownCounter

	// FramesDecoded counts Opus frames decoded to PCM.
	FramesDecoded metric.Int64Counter

	// DecodeErrors counts frames a speaker's decoder rejected.
	DecodeErrors metric.Int64Counter

	// FramesDropped counts frames dropped because a capture queue was full
	// or the speaker could not be resolved.
	FramesDropped metric.Int64Counter

	// BytesWritten counts raw PCM bytes appended to session artifacts.
	BytesWritten metric.Int64Counter

	// EncodeDuration tracks the external encode step.
	EncodeDuration metric.Float64Histogram

	// HandoffStageDuration tracks each handoff stage. Use with
	// attribute.String("stage", ...).
	HandoffStageDuration metric.Float64Histogram

	// HandoffFailures counts handoff runs halted at a stage. Use with
	// attribute.String("stage", ...).
	HandoffFailures metric.Int64Counter
}

var durationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// NewMetrics creates every instrument from the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.ActiveSessions, err = m.Int64UpDownCounter("recorder.active_sessions",
		metric.WithDescription("Number of recording sessions held by the registry."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("recorder.active_captures",
		metric.WithDescription("Number of live per-speaker capture pipelines."),
	); err != nil {
		return nil, err
	}
	if met.FramesDecoded, err = m.Int64Counter("recorder.frames_decoded",
		metric.WithDescription("Opus frames decoded to PCM."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("recorder.decode_errors",
		metric.WithDescription("Opus frames that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("recorder.frames_dropped",
		metric.WithDescription("Opus frames dropped before decode."),
	); err != nil {
		return nil, err
	}
	if met.BytesWritten, err = m.Int64Counter("recorder.bytes_written",
		metric.WithDescription("Raw PCM bytes appended to session artifacts."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.EncodeDuration, err = m.Float64Histogram("recorder.encode.duration",
		metric.WithDescription("Latency of the external encode step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandoffStageDuration, err = m.Float64Histogram("recorder.handoff.stage.duration",
		metric.WithDescription("Latency of each handoff stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandoffFailures, err = m.Int64Counter("recorder.handoff.failures",
		metric.WithDescription("Handoff runs halted at a stage."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// NewNopMetrics returns instruments that record nothing.
func NewNopMetrics() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		// The noop provider never fails.
		panic(err)
	}

	return met
}
