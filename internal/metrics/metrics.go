// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"stagewhisper/internal/domain"
)

// Metrics holds the registered collectors. Create one per process and share
// it; tests pass a fresh registry to keep registrations isolated.
type Metrics struct {
	registry *prometheus.Registry

	framesSent    prometheus.Counter
	framesDropped prometheus.Counter
	audioBytes    prometheus.Counter
	events        *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	connected     prometheus.Gauge
}

// New registers the collectors on registry. A nil registry gets a private
// one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "stagewhisper_audio_frames_sent_total",
			Help: "Encoded audio frames written to the provider connection.",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "stagewhisper_audio_frames_dropped_total",
			Help: "Audio frames dropped because no connection was ready or the write failed.",
		}),
		audioBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "stagewhisper_audio_bytes_sent_total",
			Help: "PCM payload bytes sent to the provider.",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stagewhisper_transcription_events_total",
			Help: "Normalized transcription events received, by kind.",
		}, []string{"kind"}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stagewhisper_sessions_total",
			Help: "Session negotiation and connection outcomes.",
		}, []string{"provider", "result"}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stagewhisper_connection_up",
			Help: "1 while the duplex provider connection is established.",
		}),
	}
}

// Registry returns the backing registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// FrameSent records one delivered audio frame and its payload size.
func (m *Metrics) FrameSent(pcmBytes int) {
	m.framesSent.Inc()
	m.audioBytes.Add(float64(pcmBytes))
}

// FrameDropped records one dropped audio frame.
func (m *Metrics) FrameDropped() { m.framesDropped.Inc() }

// Event records one normalized inbound event.
func (m *Metrics) Event(kind domain.EventKind) {
	m.events.WithLabelValues(string(kind)).Inc()
}

// SessionResult records a session lifecycle outcome.
func (m *Metrics) SessionResult(provider domain.Provider, result string) {
	m.sessions.WithLabelValues(string(provider), result).Inc()
}

// SetConnected flips the connection gauge.
func (m *Metrics) SetConnected(up bool) {
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
