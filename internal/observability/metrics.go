package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_pipeline_active_calls",
		Help: "Number of active media streams",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_pipeline_calls_total",
		Help: "Total number of media streams handled",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_pipeline_call_duration_seconds",
		Help:    "Duration of media streams in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Transcription metrics
	transcripts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_transcripts_total",
		Help: "Transcript events received, by kind",
	}, []string{"kind"}) // kind: "interim" or "final"

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_turns_total",
		Help: "Turns opened, by outcome",
	}, []string{"outcome"}) // outcome: "completed", "failed", "interrupted", "superseded"

	generationFirstFragment = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_pipeline_generation_first_fragment_seconds",
		Help:    "Latency from utterance to first generated fragment",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_pipeline_barge_ins_total",
		Help: "Interruptions that cleared pending playback",
	})

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_synthesis_requests_total",
		Help: "Total number of chunk synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_pipeline_synthesis_latency_seconds",
		Help:    "Chunk synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Playback metrics
	chunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_chunks_total",
		Help: "Synthesized chunks by playback outcome",
	}, []string{"outcome"}) // outcome: "emitted", "skipped", "discarded"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_pipeline_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_pipeline_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single call. A nil *Metrics records nothing,
// which keeps collaborators usable without a registry in tests.
type Metrics struct {
	callID    string
	startTime time.Time
}

// NewCallMetrics creates a new metrics tracker for a call
func NewCallMetrics(callID string) *Metrics {
	return &Metrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordCallStart records the start of a call
func (m *Metrics) RecordCallStart() {
	if m == nil {
		return
	}
	activeCalls.Inc()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a call
func (m *Metrics) RecordCallEnd() {
	if m == nil {
		return
	}
	activeCalls.Dec()
	callDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTranscript counts an interim or final transcript event.
func (m *Metrics) RecordTranscript(final bool) {
	if m == nil {
		return
	}
	kind := "interim"
	if final {
		kind = "final"
	}
	transcripts.WithLabelValues(kind).Inc()
}

// RecordTurn counts a closed turn by outcome.
func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	turnsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFirstFragment records time-to-first-fragment for a turn.
func (m *Metrics) ObserveFirstFragment(d time.Duration) {
	if m == nil {
		return
	}
	generationFirstFragment.Observe(d.Seconds())
}

// RecordBargeIn counts an interruption.
func (m *Metrics) RecordBargeIn() {
	if m == nil {
		return
	}
	bargeIns.Inc()
}

// ObserveSynthesis records one chunk synthesis.
func (m *Metrics) ObserveSynthesis(d time.Duration, success bool) {
	if m == nil {
		return
	}
	synthesisLatency.Observe(d.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status).Inc()
}

// RecordChunk counts a chunk by playback outcome.
func (m *Metrics) RecordChunk(outcome string) {
	if m == nil {
		return
	}
	chunks.WithLabelValues(outcome).Inc()
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

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
