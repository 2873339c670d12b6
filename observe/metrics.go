// Package observe provides the OpenTelemetry metric instruments used across
// the voice pipeline and the signaling relay.
//
// A Prometheus exporter bridge is available via [InitProvider] so metrics can
// be scraped from a /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for components built without one;
// tests should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/opd-ai/savi"

// Attribute keys.
const (
	AttrReason = attribute.Key("reason")
	AttrEvent  = attribute.Key("event")
)

// Metrics holds all metric instruments. All fields are safe for concurrent
// use; the underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// FramesEncoded counts frames that passed the voice activity gate.
	FramesEncoded metric.Int64Counter

	// FramesGated counts frames dropped below the threshold.
	FramesGated metric.Int64Counter

	// FramesDropped counts encoded frames lost before transmission. Use with
	// AttrReason ("queue_full", "encode_error", "not_ready").
	FramesDropped metric.Int64Counter

	// --- Transport ---

	// PacketsSent counts voice datagrams written to the socket.
	PacketsSent metric.Int64Counter

	// PacketsReceived counts voice datagrams accepted into the reorder buffer.
	PacketsReceived metric.Int64Counter

	// PacketsDiscarded counts datagrams dropped by the receive loop. Use with
	// AttrReason ("malformed", "foreign_source").
	PacketsDiscarded metric.Int64Counter

	// Handshakes counts readiness transitions.
	Handshakes metric.Int64Counter

	// ReorderBatch records how many items each reorder flush released.
	ReorderBatch metric.Int64Histogram

	// --- Playback ---

	// PlaybackFrames counts frames decoded and written to the device.
	PlaybackFrames metric.Int64Counter

	// DecodeErrors counts payloads the decoder rejected.
	DecodeErrors metric.Int64Counter

	// PlaybackStalls counts callbacks that had to wait for an empty queue.
	PlaybackStalls metric.Int64Counter

	// --- Signaling ---

	// RelayPeers tracks peers currently connected to the relay.
	RelayPeers metric.Int64UpDownCounter

	// RelayMessages counts messages fanned out by the relay.
	RelayMessages metric.Int64Counter

	// RelayRejected counts refused upgrade handshakes. Use with AttrReason.
	RelayRejected metric.Int64Counter

	// DecryptFailures counts control messages dropped by a client because
	// they did not decrypt.
	DecryptFailures metric.Int64Counter

	// RendezvousEvents counts peer coordination events. Use with AttrEvent.
	RendezvousEvents metric.Int64Counter
}

// batchBuckets defines histogram bucket boundaries for reorder batch sizes.
var batchBuckets = []float64{2, 3, 4, 6, 8, 12, 16, 32}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesEncoded, "savi.capture.frames_encoded", "Captured frames that passed the voice activity gate."},
		{&met.FramesGated, "savi.capture.frames_gated", "Captured frames dropped below the threshold."},
		{&met.FramesDropped, "savi.capture.frames_dropped", "Encoded frames lost before transmission by reason."},
		{&met.PacketsSent, "savi.transport.packets_sent", "Voice datagrams sent."},
		{&met.PacketsReceived, "savi.transport.packets_received", "Voice datagrams accepted."},
		{&met.PacketsDiscarded, "savi.transport.packets_discarded", "Datagrams discarded by reason."},
		{&met.Handshakes, "savi.transport.handshakes", "Readiness handshakes completed."},
		{&met.PlaybackFrames, "savi.playback.frames", "Frames decoded and played."},
		{&met.DecodeErrors, "savi.playback.decode_errors", "Payloads rejected by the decoder."},
		{&met.PlaybackStalls, "savi.playback.stalls", "Playback callbacks that waited on an empty queue."},
		{&met.RelayMessages, "savi.relay.messages", "Messages fanned out by the relay."},
		{&met.RelayRejected, "savi.relay.rejected", "Relay handshakes refused by reason."},
		{&met.DecryptFailures, "savi.signaling.decrypt_failures", "Control messages that failed to decrypt."},
		{&met.RendezvousEvents, "savi.rendezvous.events", "Peer coordination events by kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ReorderBatch, err = m.Int64Histogram("savi.transport.reorder_batch",
		metric.WithDescription("Items released per reorder flush."),
		metric.WithExplicitBucketBoundaries(batchBuckets...),
	); err != nil {
		return nil, err
	}

	if met.RelayPeers, err = m.Int64UpDownCounter("savi.relay.peers",
		metric.WithDescription("Peers connected to the relay."),
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
// fails, which does not happen with the global provider.
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

// Reason is a convenience option for the AttrReason attribute.
func Reason(reason string) metric.AddOption {
	return metric.WithAttributes(AttrReason.String(reason))
}

// Event is a convenience option for the AttrEvent attribute.
func Event(event string) metric.AddOption {
	return metric.WithAttributes(AttrEvent.String(event))
}
