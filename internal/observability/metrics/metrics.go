// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dialogue_transcriber"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram
	SessionFailures *prometheus.CounterVec

	// Connection metrics
	ConnectAttempts   *prometheus.CounterVec
	SafeModeFallbacks prometheus.Counter
	Reconnects        prometheus.Counter
	CloseCodes        *prometheus.CounterVec
	CredentialLatency prometheus.Histogram
	KeepAlivesSent    prometheus.Counter

	// Inbound message metrics
	MessagesReceived *prometheus.CounterVec

	// Audio metrics
	AudioBytesSent  prometheus.Counter
	AudioFramesSent prometheus.Counter
	CaptureErrors   prometheus.Counter

	// Transcript metrics
	UtterancesEmitted prometheus.Counter
	WordsSegmented    prometheus.Counter

	// Event publish metrics
	PublishTotal   *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
	PublishDropped *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of recording sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of recording sessions currently active",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of recording sessions in seconds",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		SessionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_failures_total",
			Help:      "Total number of sessions ending in a fatal error",
		}, []string{"kind"}),

		// Connection metrics
		ConnectAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of socket connection attempts",
		}, []string{"mode"}),
		SafeModeFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safe_mode_fallbacks_total",
			Help:      "Total number of fallbacks to the reduced parameter set",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts",
		}),
		CloseCodes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_close_total",
			Help:      "Socket close events by close code",
		}, []string{"code"}),
		CredentialLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credential_fetch_seconds",
			Help:      "Time spent fetching a streaming credential",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		KeepAlivesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_sent_total",
			Help:      "Total number of keepalive control messages sent",
		}),

		// Inbound message metrics
		MessagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound service messages by classification",
		}, []string{"kind"}),

		// Audio metrics
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total PCM bytes sent to the transcription service",
		}),
		AudioFramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total PCM frames sent to the transcription service",
		}),
		CaptureErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Total number of audio read failures",
		}),

		// Transcript metrics
		UtterancesEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_emitted_total",
			Help:      "Total number of utterances appended to the conversation log",
		}),
		WordsSegmented: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "words_segmented_total",
			Help:      "Total number of words grouped into utterances",
		}),

		// Event publish metrics
		PublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Total number of events published",
		}, []string{"backend", "destination", "event_type"}),
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total number of event publish errors",
		}, []string{"backend", "destination", "event_type"}),
		PublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_latency_seconds",
			Help:      "Event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"backend"}),
		PublishDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_dropped_total",
			Help:      "Events dropped before publishing",
		}, []string{"reason"}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "code"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordSessionStart records a recording session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a recording session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionFailure records a fatal session error by kind.
func (m *Metrics) RecordSessionFailure(kind string) {
	m.SessionFailures.WithLabelValues(kind).Inc()
}

// RecordConnectAttempt records a socket dial with the parameter mode in use.
func (m *Metrics) RecordConnectAttempt(safeMode bool) {
	mode := "primary"
	if safeMode {
		mode = "safe"
	}
	m.ConnectAttempts.WithLabelValues(mode).Inc()
}

// RecordSafeModeFallback records a fallback to the reduced parameter set.
func (m *Metrics) RecordSafeModeFallback() {
	m.SafeModeFallbacks.Inc()
}

// RecordReconnect records a scheduled reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.Reconnects.Inc()
}

// RecordClose records a socket close code.
func (m *Metrics) RecordClose(code int) {
	m.CloseCodes.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordCredentialFetch records credential fetch latency.
func (m *Metrics) RecordCredentialFetch(latencySeconds float64) {
	m.CredentialLatency.Observe(latencySeconds)
}

// RecordKeepAlive records a keepalive sent.
func (m *Metrics) RecordKeepAlive() {
	m.KeepAlivesSent.Inc()
}

// RecordMessage records an inbound message classification.
func (m *Metrics) RecordMessage(kind string) {
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

// RecordAudioSent records an audio frame sent upstream.
func (m *Metrics) RecordAudioSent(bytes int) {
	m.AudioBytesSent.Add(float64(bytes))
	m.AudioFramesSent.Inc()
}

// RecordCaptureError records an audio read failure.
func (m *Metrics) RecordCaptureError() {
	m.CaptureErrors.Inc()
}

// RecordUtterances records utterances emitted from one final result.
func (m *Metrics) RecordUtterances(utterances, words int) {
	m.UtterancesEmitted.Add(float64(utterances))
	m.WordsSegmented.Add(float64(words))
}

// RecordPublish records an event publish attempt.
func (m *Metrics) RecordPublish(backend, destination, eventType string, err error, latencySeconds float64) {
	m.PublishTotal.WithLabelValues(backend, destination, eventType).Inc()
	m.PublishLatency.WithLabelValues(backend).Observe(latencySeconds)
	if err != nil {
		m.PublishErrors.WithLabelValues(backend, destination, eventType).Inc()
	}
}

// RecordPublishDropped records an event dropped before publishing.
func (m *Metrics) RecordPublishDropped(reason string) {
	m.PublishDropped.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, code int, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(latencySeconds)
}
