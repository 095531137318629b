// Package metrics defines the prometheus collectors the engine reports
// invocation lifecycle events to.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/agentinvoke/core"
)

// Mode labels.
const (
	ModeInvoke = "invoke"
	ModeStream = "stream"
)

// OutcomeOK labels successful invocations; failures use the error kind.
const OutcomeOK = "ok"

// Recorder receives invocation lifecycle events.
type Recorder interface {
	InvocationStarted(mode string)
	InvocationFinished(mode string, kind core.ErrorKind, dur time.Duration)
	StreamChunk()
}

// Outcome maps an error kind onto the outcome label.
func Outcome(kind core.ErrorKind) string {
	if kind == "" {
		return OutcomeOK
	}
	return string(kind)
}

// PrometheusRecorder implements Recorder with prometheus collectors.
type PrometheusRecorder struct {
	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	inflight *prometheus.GaugeVec
	duration *prometheus.HistogramVec
	chunks   prometheus.Counter
}

// NewPrometheusRecorder registers the collectors with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewPrometheusRecorder(namespace string, reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		started: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_started_total",
				Help:      "Total number of invocations accepted after validation",
			},
			[]string{"mode"},
		),
		finished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_finished_total",
				Help:      "Total number of invocations that reached a terminal state",
			},
			[]string{"mode", "outcome"},
		),
		inflight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "invocations_inflight",
				Help:      "Current in-flight invocations",
			},
			[]string{"mode"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Time from registration to terminal state in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60, 120},
			},
			[]string{"mode", "outcome"},
		),
		chunks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_chunks_total",
				Help:      "Total number of chunks delivered to stream consumers",
			},
		),
	}
}

// InvocationStarted implements Recorder.
func (r *PrometheusRecorder) InvocationStarted(mode string) {
	r.started.WithLabelValues(mode).Inc()
	r.inflight.WithLabelValues(mode).Inc()
}

// InvocationFinished implements Recorder.
func (r *PrometheusRecorder) InvocationFinished(mode string, kind core.ErrorKind, dur time.Duration) {
	outcome := Outcome(kind)
	r.finished.WithLabelValues(mode, outcome).Inc()
	r.inflight.WithLabelValues(mode).Dec()
	r.duration.WithLabelValues(mode, outcome).Observe(dur.Seconds())
}

// StreamChunk implements Recorder.
func (r *PrometheusRecorder) StreamChunk() { r.chunks.Inc() }

// NoOpRecorder discards all events.
type NoOpRecorder struct{}

// InvocationStarted implements Recorder.
func (NoOpRecorder) InvocationStarted(string) {}

// InvocationFinished implements Recorder.
func (NoOpRecorder) InvocationFinished(string, core.ErrorKind, time.Duration) {}

// StreamChunk implements Recorder.
func (NoOpRecorder) StreamChunk() {}
