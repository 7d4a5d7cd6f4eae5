// Package observe provides observability primitives for voicelane:
// OpenTelemetry metrics, tracing helpers, and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter is wired in via [InitProvider] so metrics are scraped from the
// standard /metrics endpoint. There is no package-level instance: components
// receive a *Metrics from the app wiring, and tests construct their own with
// [NewMetrics] and a private [metric.MeterProvider].
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicelane metrics.
const meterName = "github.com/voicelane/voicelane"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesCaptured counts audio frames read from the local input device.
	FramesCaptured metric.Int64Counter

	// FramesPlayed counts audio frames written to the local output device.
	FramesPlayed metric.Int64Counter

	// FramesDropped counts frames discarded under backpressure or barge-in.
	// Use with attributes:
	//   attribute.String("direction", ...), attribute.String("cause", ...)
	FramesDropped metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// Handoffs counts agent switches. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	Handoffs metric.Int64Counter

	// Terminations counts session terminations by reason.
	Terminations metric.Int64Counter

	// QueueDepth tracks the current depth of the playback frame queue.
	QueueDepth metric.Int64UpDownCounter

	// ToolExecutionDuration tracks business tool execution latency.
	ToolExecutionDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// in-call tool execution.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("voicelane.frames.captured",
		metric.WithDescription("Total audio frames read from the input device."),
	); err != nil {
		return nil, err
	}
	if met.FramesPlayed, err = m.Int64Counter("voicelane.frames.played",
		metric.WithDescription("Total audio frames written to the output device."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicelane.frames.dropped",
		metric.WithDescription("Total frames discarded, by direction and cause."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voicelane.tool.calls",
		metric.WithDescription("Total tool invocations by tool name, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Handoffs, err = m.Int64Counter("voicelane.handoffs",
		metric.WithDescription("Total agent hand-offs by source and target agent."),
	); err != nil {
		return nil, err
	}
	if met.Terminations, err = m.Int64Counter("voicelane.terminations",
		metric.WithDescription("Total session terminations by reason."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("voicelane.playback.queue_depth",
		metric.WithDescription("Current depth of the playback frame queue."),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("voicelane.tool_execution.duration",
		metric.WithDescription("Latency of business tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDrop records one dropped frame with the standard attribute set.
func (m *Metrics) RecordDrop(ctx context.Context, direction, cause string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("cause", cause),
		),
	)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, kind, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordHandoff records one agent switch.
func (m *Metrics) RecordHandoff(ctx context.Context, from, to string) {
	m.Handoffs.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordTermination records one session termination by reason.
func (m *Metrics) RecordTermination(ctx context.Context, reason string) {
	m.Terminations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
