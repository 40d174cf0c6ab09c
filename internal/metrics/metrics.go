package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all streaming client metrics.
// A nil *Metrics is valid and discards every update.
type Metrics struct {
	// Pacing loop counters
	FramesCaptured atomic.Uint64
	FramesSent     atomic.Uint64
	FramesSkipped  atomic.Uint64 // Capture source had no frame ready
	SendFailures   atomic.Uint64 // Channel refused or failed a send

	// Inbound counters
	MessagesReceived atomic.Uint64
	ParseErrors      atomic.Uint64
	ServerErrors     atomic.Uint64 // Messages carrying an error field

	// Connection tracking
	ReconnectAttempts atomic.Uint64
	Connected         atomic.Uint64 // 0 = disconnected, 1 = open

	// Throughput and latency
	FramesPerSecond  atomic.Uint64
	EncodeLatencyMs  atomic.Uint64
	RoundTripMs      atomic.Uint64
	EncodedFrameSize atomic.Uint64 // Bytes of the last encoded frame

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

type gauge struct {
	name  string
	help  string
	value *atomic.Uint64
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []gauge{
		{"streamer_frames_captured_total", "Total frames captured from the source", &m.FramesCaptured},
		{"streamer_frames_sent_total", "Total frames sent to the analysis service", &m.FramesSent},
		{"streamer_frames_skipped_total", "Ticks skipped because no frame was available", &m.FramesSkipped},
		{"streamer_send_failures_total", "Frames the channel refused or failed to send", &m.SendFailures},
		{"streamer_messages_received_total", "Total analysis messages received", &m.MessagesReceived},
		{"streamer_parse_errors_total", "Inbound payloads that failed to parse", &m.ParseErrors},
		{"streamer_server_errors_total", "Inbound messages carrying an error", &m.ServerErrors},
		{"streamer_reconnect_attempts_total", "Automatic reconnect attempts", &m.ReconnectAttempts},
		{"streamer_connected", "Channel open (0=closed, 1=open)", &m.Connected},
		{"streamer_frames_per_second", "Measured send rate", &m.FramesPerSecond},
		{"streamer_encode_latency_ms", "Last frame encode latency in milliseconds", &m.EncodeLatencyMs},
		{"streamer_round_trip_ms", "Last send-to-response latency in milliseconds", &m.RoundTripMs},
		{"streamer_encoded_frame_bytes", "Size of the last encoded frame", &m.EncodedFrameSize},
	}

	for _, g := range gauges {
		value := g.value
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(value.Load()) },
		))
	}
}

// Counter helpers are safe on a nil receiver

func (m *Metrics) FrameCaptured() {
	if m != nil {
		m.FramesCaptured.Add(1)
	}
}

func (m *Metrics) FrameSent() {
	if m != nil {
		m.FramesSent.Add(1)
	}
}

func (m *Metrics) FrameSkipped() {
	if m != nil {
		m.FramesSkipped.Add(1)
	}
}

func (m *Metrics) SendFailed() {
	if m != nil {
		m.SendFailures.Add(1)
	}
}

func (m *Metrics) MessageReceived() {
	if m != nil {
		m.MessagesReceived.Add(1)
	}
}

func (m *Metrics) ParseFailed() {
	if m != nil {
		m.ParseErrors.Add(1)
	}
}

func (m *Metrics) ServerError() {
	if m != nil {
		m.ServerErrors.Add(1)
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m != nil {
		m.ReconnectAttempts.Add(1)
	}
}

// SetConnected records the channel open flag
func (m *Metrics) SetConnected(open bool) {
	if m == nil {
		return
	}
	if open {
		m.Connected.Store(1)
	} else {
		m.Connected.Store(0)
	}
}

// SetFPS records the published frame rate
func (m *Metrics) SetFPS(fps int) {
	if m == nil || fps < 0 {
		return
	}
	m.FramesPerSecond.Store(uint64(fps))
}

// UpdateEncodeLatency records how long the last encode took
func (m *Metrics) UpdateEncodeLatency(duration time.Duration, size int) {
	if m == nil {
		return
	}
	m.EncodeLatencyMs.Store(uint64(duration.Milliseconds()))
	m.EncodedFrameSize.Store(uint64(size))
}

// UpdateRoundTrip records the latency between a send and its response
func (m *Metrics) UpdateRoundTrip(sentAt time.Time) {
	if m == nil || sentAt.IsZero() {
		return
	}
	m.RoundTripMs.Store(uint64(time.Since(sentAt).Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests and custom collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
