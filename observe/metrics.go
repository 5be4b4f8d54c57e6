// Package observe holds the OpenTelemetry instruments of live voice sessions
// and the Prometheus endpoint that exposes them.
//
// Tests should build their own [Metrics] with [NewMetrics] and a
// ManualReader-backed provider instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/bt-bridge/consult-live"

// Drop reasons used with the frame and chunk drop counters.
const (
	ReasonQueueFull = "queue_full"
	ReasonMuted     = "muted"
	ReasonBacklog   = "backlog"
	ReasonDecode    = "decode"
)

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	ActiveSessions metric.Int64UpDownCounter
	// Sessions counts ended sessions by transport and end reason.
	Sessions metric.Int64Counter

	FramesCaptured metric.Int64Counter
	FramesSent     metric.Int64Counter
	// FramesDropped uses attribute "reason".
	FramesDropped metric.Int64Counter

	ChunksScheduled metric.Int64Counter
	// ChunksDropped uses attribute "reason".
	ChunksDropped metric.Int64Counter
	Interruptions metric.Int64Counter

	// TransportErrors uses attributes "transport" and "op".
	TransportErrors metric.Int64Counter
	ConnectDuration metric.Float64Histogram
	// PlaybackLead is how far ahead of the device clock chunks start.
	PlaybackLead metric.Float64Histogram
}

var connectBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15}

var leadBuckets = []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("live.sessions.active",
		metric.WithDescription("Number of open voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("live.sessions.ended",
		metric.WithDescription("Ended voice sessions by transport and reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesCaptured, err = m.Int64Counter("live.frames.captured",
		metric.WithDescription("Microphone frames delivered by the capture device."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("live.frames.sent",
		metric.WithDescription("Microphone frames written to the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("live.frames.dropped",
		metric.WithDescription("Microphone frames not transmitted, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("live.chunks.scheduled",
		metric.WithDescription("Output chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("live.chunks.dropped",
		metric.WithDescription("Output chunks discarded, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("live.interruptions",
		metric.WithDescription("Remote turns cut off by an interruption."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("live.transport.errors",
		metric.WithDescription("Fatal transport errors by transport and operation."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("live.connect.duration",
		metric.WithDescription("Time to complete the remote handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackLead, err = m.Float64Histogram("live.playback.lead",
		metric.WithDescription("Delay between scheduling a chunk and its start on the device clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level instance built on the global meter
// provider.
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

func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string, n int) {
	m.FramesDropped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordChunkDropped(ctx context.Context, reason string) {
	m.ChunksDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordTransportError(ctx context.Context, transport, op string) {
	m.TransportErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("op", op),
	))
}

func (m *Metrics) RecordSessionEnded(ctx context.Context, transport, reason string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("reason", reason),
	))
}
