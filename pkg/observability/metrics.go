// Package observability holds the Prometheus metrics and OpenTelemetry spans
// shared by the orchestrator, pipeline and assistant.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "meetwise"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	WebhookEventsTotal      *prometheus.CounterVec
	StatusTransitionsTotal  *prometheus.CounterVec
	ArtifactsRecordedTotal  *prometheus.CounterVec
	StageSeconds            *prometheus.HistogramVec
	StageAttemptsTotal      *prometheus.CounterVec
	JobsTotal               *prometheus.CounterVec
	AssistantQuestionsTotal *prometheus.CounterVec
	LLMSeconds              *prometheus.HistogramVec
	QueueDepth              *prometheus.GaugeVec
}

// NewMetrics registers the metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "webhook_events_total",
				Help:      "Provider events received, by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		StatusTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "status_transitions_total",
				Help:      "Applied meeting status transitions",
			},
			[]string{"from", "to"},
		),
		ArtifactsRecordedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "artifacts_recorded_total",
				Help:      "Artifact writes, by kind",
			},
			[]string{"kind"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "pipeline_stage_seconds",
				Help:      "Pipeline stage latency",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage", "status"},
		),
		StageAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "pipeline_stage_attempts_total",
				Help:      "Pipeline stage attempts, by result",
			},
			[]string{"stage", "result"},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "pipeline_jobs_total",
				Help:      "Pipeline jobs, by final stage",
			},
			[]string{"result"},
		),
		AssistantQuestionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "assistant_questions_total",
				Help:      "Assistant questions, by outcome",
			},
			[]string{"outcome"},
		),
		LLMSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "llm_request_seconds",
				Help:      "LLM completion latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"purpose", "status"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "queue_depth",
				Help:      "Visible messages waiting in the job queue",
			},
			[]string{"queue"},
		),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordArtifact(kind string) {
	if m == nil {
		return
	}
	m.ArtifactsRecordedTotal.WithLabelValues(kind).Inc()
}

// RecordStageAttempt counts one attempt and observes its latency.
func (m *Metrics) RecordStageAttempt(stage, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageAttemptsTotal.WithLabelValues(stage, result).Inc()
	m.StageSeconds.WithLabelValues(stage, result).Observe(d.Seconds())
}

func (m *Metrics) RecordJob(result string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordAssistantQuestion(outcome string) {
	if m == nil {
		return
	}
	m.AssistantQuestionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordLLM(purpose, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMSeconds.WithLabelValues(purpose, status).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(queue string, depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}
