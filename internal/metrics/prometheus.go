package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the caption service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionsRefused prometheus.Counter
	SessionDuration prometheus.Histogram

	// Frame metrics
	FramesReceived  prometheus.Counter
	DecodeErrors    prometheus.Counter
	FramesDiscarded prometheus.Counter
	SilenceClears   prometheus.Counter

	// Broadcast metrics
	Listeners           prometheus.Gauge
	Broadcasts          *prometheus.CounterVec
	BroadcastQueued     prometheus.Counter
	BroadcastDeliveries prometheus.Counter
	ListenersPruned     prometheus.Counter

	// Inference metrics
	EngineReady        prometheus.Gauge
	PermitWait         prometheus.Histogram
	InferenceRequests  prometheus.Counter
	InferenceFailures  prometheus.Counter
	InferenceAttempts  *prometheus.CounterVec
	InferenceDuration  *prometheus.HistogramVec
	InferenceAudioSize prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "caption_active_sessions",
			Help: "Current number of audio sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_sessions_created_total",
			Help: "Total number of audio sessions created",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_sessions_closed_total",
			Help: "Total number of audio sessions closed",
		}),
		SessionsRefused: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_sessions_refused_total",
			Help: "Total number of connections refused because the engine was not ready",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caption_session_duration_seconds",
			Help:    "Duration of audio sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Frame metrics
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_frames_received_total",
			Help: "Total number of audio frames received",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_frame_decode_errors_total",
			Help: "Total number of malformed audio frames dropped",
		}),
		FramesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_frames_discarded_total",
			Help: "Total number of frames discarded during extended silence",
		}),
		SilenceClears: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_silence_clears_total",
			Help: "Total number of buffer resets caused by extended silence",
		}),

		// Broadcast metrics
		Listeners: factory.NewGauge(prometheus.GaugeOpts{
			Name: "caption_listeners",
			Help: "Current number of registered broadcast listeners",
		}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_broadcasts_total",
			Help: "Total number of broadcast events",
		}, []string{"kind"}),
		BroadcastQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_broadcast_queued_total",
			Help: "Total number of events queued for listeners",
		}),
		BroadcastDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_broadcast_deliveries_total",
			Help: "Total number of events delivered to listeners",
		}),
		ListenersPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_listeners_pruned_total",
			Help: "Total number of listeners removed after a failed or stalled send",
		}),

		// Inference metrics
		EngineReady: factory.NewGauge(prometheus.GaugeOpts{
			Name: "caption_engine_ready",
			Help: "Whether the recognition engine finished loading (1) or not (0)",
		}),
		PermitWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caption_engine_permit_wait_seconds",
			Help:    "Time spent waiting for exclusive engine access",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		}),
		InferenceRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_inference_requests_total",
			Help: "Total number of transcription requests",
		}),
		InferenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_inference_failures_total",
			Help: "Total number of transcriptions where every engine path failed",
		}),
		InferenceAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_inference_attempts_total",
			Help: "Engine calls by path and result",
		}, []string{"path", "result"}),
		InferenceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caption_inference_duration_seconds",
			Help:    "Duration of engine calls by path",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"path"}),
		InferenceAudioSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "caption_inference_audio_seconds",
			Help:    "Length of the accumulated audio handed to the engine",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caption_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caption_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated records a new session and the current session count
func (m *Metrics) RecordSessionCreated(active int) {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.ActiveSessions.Set(float64(active))
}

// RecordSessionClosed records a closed session and its duration
func (m *Metrics) RecordSessionClosed(active int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsClosed.Inc()
	m.ActiveSessions.Set(float64(active))
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionRefused increments the refused sessions counter
func (m *Metrics) RecordSessionRefused() {
	if m == nil {
		return
	}
	m.SessionsRefused.Inc()
}

// RecordFrameReceived increments the frames received counter
func (m *Metrics) RecordFrameReceived() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// RecordFrameDiscarded increments the discarded frames counter
func (m *Metrics) RecordFrameDiscarded() {
	if m == nil {
		return
	}
	m.FramesDiscarded.Inc()
}

// RecordSilenceClear increments the silence clears counter
func (m *Metrics) RecordSilenceClear() {
	if m == nil {
		return
	}
	m.SilenceClears.Inc()
}

// SetListeners sets the current number of broadcast listeners
func (m *Metrics) SetListeners(count int) {
	if m == nil {
		return
	}
	m.Listeners.Set(float64(count))
}

// RecordBroadcast records one broadcast and the number of listeners it was queued for
func (m *Metrics) RecordBroadcast(clear bool, queued int) {
	if m == nil {
		return
	}
	kind := "transcript"
	if clear {
		kind = "clear"
	}
	m.Broadcasts.WithLabelValues(kind).Inc()
	m.BroadcastQueued.Add(float64(queued))
}

// RecordDelivery records one event written to a listener
func (m *Metrics) RecordDelivery() {
	if m == nil {
		return
	}
	m.BroadcastDeliveries.Inc()
}

// RecordListenerPruned records a listener removed after a failed or stalled send
func (m *Metrics) RecordListenerPruned() {
	if m == nil {
		return
	}
	m.ListenersPruned.Inc()
}

// SetEngineReady records engine readiness
func (m *Metrics) SetEngineReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.EngineReady.Set(1)
	} else {
		m.EngineReady.Set(0)
	}
}

// RecordPermitWait records the time spent waiting for the engine permit
func (m *Metrics) RecordPermitWait(seconds float64) {
	if m == nil {
		return
	}
	m.PermitWait.Observe(seconds)
}

// RecordInferenceRequest records a transcription request and its audio length
func (m *Metrics) RecordInferenceRequest(audioSeconds float64) {
	if m == nil {
		return
	}
	m.InferenceRequests.Inc()
	m.InferenceAudioSize.Observe(audioSeconds)
}

// RecordInferenceAttempt records one engine call on a path
func (m *Metrics) RecordInferenceAttempt(path string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.InferenceAttempts.WithLabelValues(path, result).Inc()
	m.InferenceDuration.WithLabelValues(path).Observe(durationSeconds)
}

// RecordInferenceFailure increments the failed transcriptions counter
func (m *Metrics) RecordInferenceFailure() {
	if m == nil {
		return
	}
	m.InferenceFailures.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
