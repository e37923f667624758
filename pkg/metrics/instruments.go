package metrics

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Push-channel metrics
var (
	// HandshakesTotal counts completed handshake sequences
	HandshakesTotal metric.Int64Counter

	// HandshakeDuration measures the duration of full handshakes
	HandshakeDuration metric.Float64Histogram

	// PushReconnectsTotal counts recoveries after a lost push channel
	PushReconnectsTotal metric.Int64Counter

	// PushFramesTotal counts received frames by result (matched/other/malformed)
	PushFramesTotal metric.Int64Counter

	// KeepalivesTotal counts keepalive pings sent on the push channel
	KeepalivesTotal metric.Int64Counter
)

// Watch-loop metrics
var (
	// WatchCyclesTotal counts refresh cycles
	WatchCyclesTotal metric.Int64Counter

	// WatchCycleDuration measures the duration of refresh cycles
	WatchCycleDuration metric.Float64Histogram

	// WatchArrivalsExtracted counts arrival estimates produced
	WatchArrivalsExtracted metric.Int64Counter

	// WatchRefreshErrors counts refresh cycles that failed
	WatchRefreshErrors metric.Int64Counter
)

// WithFrameResult attributes a PushFramesTotal increment with how the
// frame was classified.
func WithFrameResult(result string) metric.AddOption {
	return metric.WithAttributes(attribute.String("frame.result", result))
}

// initializeInstruments creates all metric instruments
func initializeInstruments() error {
	var err error

	HandshakesTotal, err = Meter.Int64Counter(
		"push.handshakes.total",
		metric.WithDescription("Completed push-channel handshake sequences"),
		metric.WithUnit("{handshake}"),
	)
	if err != nil {
		return err
	}

	HandshakeDuration, err = Meter.Float64Histogram(
		"push.handshake.duration",
		metric.WithDescription("Duration of full handshake sequences"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return err
	}

	PushReconnectsTotal, err = Meter.Int64Counter(
		"push.reconnects.total",
		metric.WithDescription("Recoveries after a lost push channel"),
		metric.WithUnit("{reconnect}"),
	)
	if err != nil {
		return err
	}

	PushFramesTotal, err = Meter.Int64Counter(
		"push.frames.total",
		metric.WithDescription("Frames received on the push channel, by result"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return err
	}

	KeepalivesTotal, err = Meter.Int64Counter(
		"push.keepalives.total",
		metric.WithDescription("Keepalive pings sent on the push channel"),
		metric.WithUnit("{ping}"),
	)
	if err != nil {
		return err
	}

	WatchCyclesTotal, err = Meter.Int64Counter(
		"watch.cycles.total",
		metric.WithDescription("Refresh cycles of the watch loop"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	WatchCycleDuration, err = Meter.Float64Histogram(
		"watch.cycle.duration",
		metric.WithDescription("Duration of watch refresh cycles"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0),
	)
	if err != nil {
		return err
	}

	WatchArrivalsExtracted, err = Meter.Int64Counter(
		"watch.arrivals.extracted",
		metric.WithDescription("Arrival estimates produced for the watched routes"),
		metric.WithUnit("{arrival}"),
	)
	if err != nil {
		return err
	}

	WatchRefreshErrors, err = Meter.Int64Counter(
		"watch.refresh.errors",
		metric.WithDescription("Refresh cycles that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	return nil
}
