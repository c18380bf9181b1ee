package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the voice bridge.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Frame metrics, labelled by direction (capture/playback)
	FramesTransferred *prometheus.CounterVec
	FramesDropped     *prometheus.CounterVec
	SilenceFrames     *prometheus.CounterVec
	HardwareErrors    *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec

	// Session metrics
	ActiveBridges    prometheus.Gauge
	BridgesStarted   prometheus.Counter
	BridgesFailed    *prometheus.CounterVec
	BridgeLifetime   prometheus.Histogram
	OutboundErrors   prometheus.Counter
	InboundFrames    prometheus.Counter
	ReconnectAttempt prometheus.Counter
}

// New creates all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesTransferred: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_frames_total",
			Help: "Total number of PCM frames moved between hardware and queue",
		}, []string{"direction"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_frames_dropped_total",
			Help: "Total number of frames dropped by drop-oldest backpressure",
		}, []string{"direction"}),
		SilenceFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_silence_frames_total",
			Help: "Total number of silence frames substituted on underrun",
		}, []string{"direction"}),
		HardwareErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_hardware_errors_total",
			Help: "Total number of mid-stream hardware read/write failures",
		}, []string{"direction"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicebridge_queue_depth",
			Help: "Frames currently queued, sampled by the consumer",
		}, []string{"direction"}),

		ActiveBridges: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_active_bridges",
			Help: "Current number of running session bridges",
		}),
		BridgesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_bridges_started_total",
			Help: "Total number of session bridges started",
		}),
		BridgesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_bridges_failed_total",
			Help: "Total number of failed bridge starts or mid-stream terminations",
		}, []string{"reason"}),
		BridgeLifetime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_bridge_lifetime_seconds",
			Help:    "Lifetime of session bridges in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),
		OutboundErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_outbound_errors_total",
			Help: "Total number of frames the remote session refused",
		}),
		InboundFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_inbound_frames_total",
			Help: "Total number of frames delivered by the remote session",
		}),
		ReconnectAttempt: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_reconnect_attempts_total",
			Help: "Total number of voice reconnect attempts",
		}),
	}
}

// Handler returns the HTTP handler exposing this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFrame increments the transferred frame counter
func (m *Metrics) RecordFrame(direction string) {
	if m == nil {
		return
	}
	m.FramesTransferred.WithLabelValues(direction).Inc()
}

// RecordDrop increments the dropped frame counter
func (m *Metrics) RecordDrop(direction string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(direction).Inc()
}

// RecordSilence increments the silence substitution counter
func (m *Metrics) RecordSilence(direction string) {
	if m == nil {
		return
	}
	m.SilenceFrames.WithLabelValues(direction).Inc()
}

// RecordHardwareError increments the hardware error counter
func (m *Metrics) RecordHardwareError(direction string) {
	if m == nil {
		return
	}
	m.HardwareErrors.WithLabelValues(direction).Inc()
}

// SetQueueDepth sets the sampled queue depth
func (m *Metrics) SetQueueDepth(direction string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(direction).Set(float64(depth))
}

// RecordBridgeStarted records a successfully started bridge
func (m *Metrics) RecordBridgeStarted() {
	if m == nil {
		return
	}
	m.BridgesStarted.Inc()
	m.ActiveBridges.Inc()
}

// RecordBridgeStopped records a bridge teardown and its lifetime
func (m *Metrics) RecordBridgeStopped(lifetimeSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveBridges.Dec()
	m.BridgeLifetime.Observe(lifetimeSeconds)
}

// RecordBridgeFailure records a failed start or a mid-stream termination
func (m *Metrics) RecordBridgeFailure(reason string) {
	if m == nil {
		return
	}
	m.BridgesFailed.WithLabelValues(reason).Inc()
}

// RecordOutboundError increments the outbound error counter
func (m *Metrics) RecordOutboundError() {
	if m == nil {
		return
	}
	m.OutboundErrors.Inc()
}

// RecordInboundFrame increments the inbound frame counter
func (m *Metrics) RecordInboundFrame() {
	if m == nil {
		return
	}
	m.InboundFrames.Inc()
}

// RecordReconnectAttempt increments the reconnect counter
func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempt.Inc()
}
