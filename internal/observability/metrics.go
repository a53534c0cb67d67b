package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutor_active_sessions",
		Help: "Number of live tutor sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutor_sessions_total",
		Help: "Total number of tutor sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tutor_session_duration_seconds",
		Help:    "Duration of tutor sessions in seconds",
		Buckets: []float64{5, 30, 60, 300, 600, 1200, 1800, 3600},
	})

	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_status_transitions_total",
		Help: "Session status transitions by target status",
	}, []string{"status"})

	// Browser connection metrics
	clientConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutor_client_connections",
		Help: "Number of open browser WebSocket connections",
	})

	clientMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_client_messages_total",
		Help: "Messages received from browsers by event",
	}, []string{"event"})

	// Remote link metrics
	connectRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_connect_requests_total",
		Help: "Total number of connects to the live model endpoint",
	}, []string{"status"})

	connectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tutor_connect_latency_seconds",
		Help:    "Time from connect request to session opened",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	droppedSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_dropped_sends_total",
		Help: "Outbound media dropped because the remote session was not open",
	}, []string{"kind"})

	// Media metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_audio_bytes_total",
		Help: "Total PCM audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	videoFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutor_video_frames_total",
		Help: "Total camera frames forwarded to the model",
	})

	playbackSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutor_playback_scheduled_seconds_total",
		Help: "Seconds of model speech scheduled for playback",
	})

	interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutor_interruptions_total",
		Help: "Model turns cut short by the learner speaking",
	})

	transcriptItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_transcript_items_total",
		Help: "Finished transcript utterances by speaker",
	}, []string{"speaker"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tutor_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single tutor session.
// All methods are safe on a nil receiver.
type Metrics struct {
	sessionID        string
	startTime        time.Time
	connectStartTime time.Time
	ended            bool
	mu               sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session; repeated calls are ignored
func (m *Metrics) RecordSessionEnd() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordConnectStart records the start of a connect to the remote model
func (m *Metrics) RecordConnectStart() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.connectStartTime = time.Now()
	m.mu.Unlock()
}

// RecordConnectEnd records the outcome of a connect to the remote model
func (m *Metrics) RecordConnectEnd(success bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connectStartTime.IsZero() {
		connectLatency.Observe(time.Since(m.connectStartTime).Seconds())
		m.connectStartTime = time.Time{}
	}

	status := "success"
	if !success {
		status = "error"
	}
	connectRequests.WithLabelValues(status).Inc()
}

// RecordStatus records a session status transition
func (m *Metrics) RecordStatus(status string) {
	if m == nil {
		return
	}
	statusTransitions.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	if m == nil {
		return
	}
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordVideoFrame records a camera frame forwarded to the model
func (m *Metrics) RecordVideoFrame() {
	if m == nil {
		return
	}
	videoFrames.Inc()
}

// RecordDroppedSend records media dropped before the link opened or after it closed
func (m *Metrics) RecordDroppedSend(kind string) {
	if m == nil {
		return
	}
	droppedSends.WithLabelValues(kind).Inc()
}

// RecordPlayback records model speech handed to the playback scheduler
func (m *Metrics) RecordPlayback(d time.Duration) {
	if m == nil {
		return
	}
	playbackSeconds.Add(d.Seconds())
}

// RecordInterruption records a barge-in
func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	interruptions.Inc()
}

// RecordTranscriptItem records a finished utterance
func (m *Metrics) RecordTranscriptItem(speaker string) {
	if m == nil {
		return
	}
	transcriptItems.WithLabelValues(speaker).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// TrackClientConnection counts an open browser connection until the
// returned function is called
func TrackClientConnection() (done func()) {
	clientConnections.Inc()
	var once sync.Once
	return func() {
		once.Do(clientConnections.Dec)
	}
}

// RecordClientMessage counts one browser message by event name
func RecordClientMessage(event string) {
	clientMessages.WithLabelValues(event).Inc()
}
