// Package telemetry exports voice loop counters and stage latencies to Prometheus.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the voice loop. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Capture
	FramesTotal            *prometheus.CounterVec
	FramesDropped          prometheus.Counter
	ClassificationFailures prometheus.Counter

	// Segmentation
	UtterancesEmitted   prometheus.Counter
	UtterancesDiscarded *prometheus.CounterVec
	UtteranceDuration   prometheus.Histogram
	State               *prometheus.GaugeVec
	Recording           prometheus.Gauge

	// Turns
	TurnsTotal    *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all collectors registered
// on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voiceloop"
	}

	registry := prometheus.NewRegistry()

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames consumed from the capture queue",
		},
		[]string{"class"}, // processed, ignored, suppressed
	)

	framesDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Frames dropped because the capture queue was full",
	})

	classificationFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classification_failures_total",
		Help:      "Frames the voice activity classifier failed on, treated as silence",
	})

	utterancesEmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "utterances_emitted_total",
		Help:      "Utterances handed to transcription",
	})

	utterancesDiscarded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_discarded_total",
			Help:      "Utterances dropped before or after transcription",
		},
		[]string{"reason"},
	)

	utteranceDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "utterance_duration_seconds",
		Help:      "Speech audio length of emitted utterances",
		Buckets:   []float64{.2, .5, 1, 2, 4, 8, 15, 30},
	})

	state := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "segmentation_state",
			Help:      "1 for the current segmentation state, 0 otherwise",
		},
		[]string{"state"},
	)

	recording := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "recording",
		Help:      "1 while capture is enabled",
	})

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome",
		},
		[]string{"outcome"},
	)

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each turn stage in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	stageErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Recoverable failures by stage",
		},
		[]string{"stage"},
	)

	registry.MustRegister(
		framesTotal,
		framesDropped,
		classificationFailures,
		utterancesEmitted,
		utterancesDiscarded,
		utteranceDuration,
		state,
		recording,
		turnsTotal,
		stageDuration,
		stageErrors,
	)

	return &Metrics{
		registry:               registry,
		FramesTotal:            framesTotal,
		FramesDropped:          framesDropped,
		ClassificationFailures: classificationFailures,
		UtterancesEmitted:      utterancesEmitted,
		UtterancesDiscarded:    utterancesDiscarded,
		UtteranceDuration:      utteranceDuration,
		State:                  state,
		Recording:              recording,
		TurnsTotal:             turnsTotal,
		StageDuration:          stageDuration,
		StageErrors:            stageErrors,
	}
}

// Registry exposes the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFrame counts one consumed frame.
func (m *Metrics) RecordFrame(class string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(class).Inc()
}

// RecordDropped adds queue overflow drops.
func (m *Metrics) RecordDropped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesDropped.Add(float64(n))
}

// RecordClassificationFailures adds classifier errors.
func (m *Metrics) RecordClassificationFailures(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ClassificationFailures.Add(float64(n))
}

// RecordUtterance records an emitted utterance.
func (m *Metrics) RecordUtterance(d time.Duration) {
	if m == nil {
		return
	}
	m.UtterancesEmitted.Inc()
	m.UtteranceDuration.Observe(d.Seconds())
}

// RecordDiscard counts a dropped utterance.
func (m *Metrics) RecordDiscard(reason string) {
	if m == nil {
		return
	}
	m.UtterancesDiscarded.WithLabelValues(reason).Inc()
}

// SetState marks the current segmentation state among all known states.
func (m *Metrics) SetState(current string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// SetRecording mirrors the recording flag.
func (m *Metrics) SetRecording(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Recording.Set(1)
	} else {
		m.Recording.Set(0)
	}
}

// RecordStage records a stage duration.
func (m *Metrics) RecordStage(stage string, d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordStageError counts a recoverable stage failure.
func (m *Metrics) RecordStageError(stage string) {
	if m == nil {
		return
	}
	m.StageErrors.WithLabelValues(stage).Inc()
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}
