package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription client
type Metrics struct {
	// Audio capture metrics
	ChunksEmitted    prometheus.Counter
	ChunksSuppressed prometheus.Counter
	ChunkSize        prometheus.Histogram

	// Delivery metrics
	ChunksSent    prometheus.Counter
	ChunksDropped prometheus.Counter
	SendRetries   prometheus.Counter
	QueueSize     prometheus.Gauge

	// Connection metrics
	ReconnectAttempts prometheus.Counter
	StateTransitions  *prometheus.CounterVec
	ProtocolErrors    prometheus.Counter

	// Transcript metrics
	SegmentsReceived  *prometheus.CounterVec
	SegmentLatency    prometheus.Histogram
	SegmentConfidence prometheus.Histogram

	// Quality metrics
	WordErrorRate prometheus.Gauge
	QualityScore  prometheus.Gauge
	Completeness  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Audio capture metrics
		ChunksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_chunks_emitted_total",
			Help: "Total number of voice-active chunks emitted by the chunker",
		}),
		ChunksSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_chunks_suppressed_total",
			Help: "Total number of silent chunks suppressed before sending",
		}),
		ChunkSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_chunk_size_bytes",
			Help:    "Size of emitted audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 8),
		}),

		// Delivery metrics
		ChunksSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_chunks_sent_total",
			Help: "Total number of chunks delivered to the backend",
		}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_chunks_dropped_total",
			Help: "Total number of chunks dropped after exhausting send retries",
		}),
		SendRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_send_retries_total",
			Help: "Total number of chunk send retries",
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stt_send_queue_size",
			Help: "Current number of chunks queued waiting for an active session",
		}),

		// Connection metrics
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_reconnect_attempts_total",
			Help: "Total number of reconnection attempts",
		}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_state_transitions_total",
			Help: "Total number of session state transitions",
		}, []string{"state"}),
		ProtocolErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_protocol_errors_total",
			Help: "Total number of malformed messages received from the backend",
		}),

		// Transcript metrics
		SegmentsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_segments_received_total",
			Help: "Total number of transcript segments received",
		}, []string{"kind"}),
		SegmentLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_segment_latency_seconds",
			Help:    "Latency from segment production to local receipt",
			Buckets: prometheus.DefBuckets,
		}),
		SegmentConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_segment_confidence",
			Help:    "Confidence of received transcript segments",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 11),
		}),

		// Quality metrics
		WordErrorRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stt_word_error_rate",
			Help: "Word error rate of the last completed session",
		}),
		QualityScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stt_quality_score",
			Help: "Composite quality score of the last completed session",
		}),
		Completeness: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stt_completeness",
			Help: "Fraction of voice-active chunks covered by final segments",
		}),
	}
}

// RecordChunkEmitted records a voice-active chunk leaving the chunker
func (m *Metrics) RecordChunkEmitted(sizeBytes int) {
	m.ChunksEmitted.Inc()
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordChunkSuppressed increments the suppressed chunks counter
func (m *Metrics) RecordChunkSuppressed() {
	m.ChunksSuppressed.Inc()
}

// RecordChunkSent increments the sent chunks counter
func (m *Metrics) RecordChunkSent() {
	m.ChunksSent.Inc()
}

// RecordChunkDropped increments the dropped chunks counter
func (m *Metrics) RecordChunkDropped() {
	m.ChunksDropped.Inc()
}

// RecordSendRetry increments the send retries counter
func (m *Metrics) RecordSendRetry() {
	m.SendRetries.Inc()
}

// SetQueueSize updates the send queue gauge
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordReconnectAttempt increments the reconnect attempts counter
func (m *Metrics) RecordReconnectAttempt() {
	m.ReconnectAttempts.Inc()
}

// RecordStateTransition counts a transition into the given state
func (m *Metrics) RecordStateTransition(state string) {
	m.StateTransitions.WithLabelValues(state).Inc()
}

// RecordProtocolError increments the protocol errors counter
func (m *Metrics) RecordProtocolError() {
	m.ProtocolErrors.Inc()
}

// RecordSegment records a received transcript segment
func (m *Metrics) RecordSegment(final bool, latencySeconds, confidence float64) {
	kind := "interim"
	if final {
		kind = "final"
	}
	m.SegmentsReceived.WithLabelValues(kind).Inc()
	m.SegmentLatency.Observe(latencySeconds)
	m.SegmentConfidence.Observe(confidence)
}

// RecordQualityReport publishes the end-of-session quality gauges
func (m *Metrics) RecordQualityReport(wer, score, completeness float64) {
	m.WordErrorRate.Set(wer)
	m.QualityScore.Set(score)
	m.Completeness.Set(completeness)
}
