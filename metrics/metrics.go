// Package metrics exposes per-stream Prometheus counters for the streaming
// client. Every StreamMetrics method is safe on a nil receiver so components
// run unchanged when metrics are disabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hatcam"

// Skip reasons recorded by the frame producer.
const (
	SkipNoSource     = "no_source"
	SkipNotReady     = "not_ready"
	SkipDisconnected = "disconnected"
	SkipEmptyFrame   = "empty_frame"
	SkipSampleError  = "sample_error"
	SkipEncodeError  = "encode_error"
	SkipSendError    = "send_error"
)

// Discard reasons recorded by the stream session.
const (
	DiscardForeign     = "foreign"
	DiscardOtherStream = "other_stream"
)

type Metrics struct {
	registry prometheus.Gatherer

	framesSent       *prometheus.CounterVec
	frameBytes       *prometheus.CounterVec
	framesSkipped    *prometheus.CounterVec
	heartbeats       *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	exhausted        *prometheus.CounterVec
	resultsReceived  *prometheus.CounterVec
	resultsDiscarded *prometheus.CounterVec
	detections       *prometheus.CounterVec
	connectionState  *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return NewWith(reg, reg)
}

func NewWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: gatherer,
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames submitted to the detection service",
		}, []string{"stream"}),
		frameBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_total",
			Help:      "Encoded image bytes submitted, before base64",
		}, []string{"stream"}),
		framesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Capture cycles skipped, by reason",
		}, []string{"stream", "reason"}),
		heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat messages sent",
		}, []string{"stream"}),
		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts scheduled after involuntary close",
		}, []string{"stream"}),
		exhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Times reconnection was abandoned after max attempts",
		}, []string{"stream"}),
		resultsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_dispatched_total",
			Help:      "Detection results delivered to the stream consumer",
		}, []string{"stream"}),
		resultsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_discarded_total",
			Help:      "Inbound messages not delivered, by reason",
		}, []string{"stream", "reason"}),
		detections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detections received, by detection type",
		}, []string{"stream", "type"}),
		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Connection state: 0 idle, 1 connecting, 2 open, 3 closing, 4 closed",
		}, []string{"stream"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Stream returns the metrics bound to one stream identity. A nil Metrics
// yields a nil StreamMetrics.
func (m *Metrics) Stream(id string) *StreamMetrics {
	if m == nil {
		return nil
	}
	return &StreamMetrics{m: m, stream: id}
}

type StreamMetrics struct {
	m      *Metrics
	stream string
}

func (s *StreamMetrics) FrameSent(size int) {
	if s == nil {
		return
	}
	s.m.framesSent.WithLabelValues(s.stream).Inc()
	s.m.frameBytes.WithLabelValues(s.stream).Add(float64(size))
}

func (s *StreamMetrics) FrameSkipped(reason string) {
	if s == nil {
		return
	}
	s.m.framesSkipped.WithLabelValues(s.stream, reason).Inc()
}

func (s *StreamMetrics) Heartbeat() {
	if s == nil {
		return
	}
	s.m.heartbeats.WithLabelValues(s.stream).Inc()
}

func (s *StreamMetrics) Reconnect() {
	if s == nil {
		return
	}
	s.m.reconnects.WithLabelValues(s.stream).Inc()
}

func (s *StreamMetrics) Exhausted() {
	if s == nil {
		return
	}
	s.m.exhausted.WithLabelValues(s.stream).Inc()
}

func (s *StreamMetrics) ResultDispatched(detectionTypes []string) {
	if s == nil {
		return
	}
	s.m.resultsReceived.WithLabelValues(s.stream).Inc()
	for _, t := range detectionTypes {
		s.m.detections.WithLabelValues(s.stream, t).Inc()
	}
}

func (s *StreamMetrics) MessageDiscarded(reason string) {
	if s == nil {
		return
	}
	s.m.resultsDiscarded.WithLabelValues(s.stream, reason).Inc()
}

func (s *StreamMetrics) SetState(state int) {
	if s == nil {
		return
	}
	s.m.connectionState.WithLabelValues(s.stream).Set(float64(state))
}
