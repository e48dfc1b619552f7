package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for meetwise spans.
const TracerName = "meetwise"

// Span attribute keys.
const (
	AttrMeetingID       = "meeting_id"
	AttrJobID           = "job_id"
	AttrEventType       = "event_type"
	AttrProviderEventID = "provider_event_id"
	AttrStage           = "stage"
	AttrAttempt         = "attempt"
	AttrModel           = "model"
	AttrPurpose         = "purpose"
	AttrOutcome         = "outcome"
	AttrErrorCode       = "error_code"
	AttrRetryable       = "retryable"
)

// Span names.
const (
	SpanHandleEvent = "orchestrator.handle_event"
	SpanRunJob      = "pipeline.run_job"
	SpanLLMCall     = "llm.complete"
	SpanAsk         = "assistant.ask"
)

// Tracer wraps the global OpenTelemetry tracer. Without a configured
// provider every span is a no-op.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a tracer bound to the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

func (t *Tracer) get() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer(TracerName)
	}
	return t.tracer
}

// StartEventSpan starts a span for one provider event.
func (t *Tracer) StartEventSpan(ctx context.Context, meetingID, eventType, providerEventID string) (context.Context, trace.Span) {
	return t.get().Start(ctx, SpanHandleEvent, trace.WithAttributes(
		attribute.String(AttrMeetingID, meetingID),
		attribute.String(AttrEventType, eventType),
		attribute.String(AttrProviderEventID, providerEventID),
	))
}

// StartJobSpan starts the root span of a pipeline job run.
func (t *Tracer) StartJobSpan(ctx context.Context, jobID, meetingID string) (context.Context, trace.Span) {
	return t.get().Start(ctx, SpanRunJob, trace.WithAttributes(
		attribute.String(AttrJobID, jobID),
		attribute.String(AttrMeetingID, meetingID),
	))
}

// StartStageSpan starts a span for one attempt of a pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string, attempt int) (context.Context, trace.Span) {
	return t.get().Start(ctx, "pipeline.stage."+stage, trace.WithAttributes(
		attribute.String(AttrStage, stage),
		attribute.Int(AttrAttempt, attempt),
	))
}

// StartLLMSpan starts a span for an LLM completion.
func (t *Tracer) StartLLMSpan(ctx context.Context, model, purpose string) (context.Context, trace.Span) {
	return t.get().Start(ctx, SpanLLMCall, trace.WithAttributes(
		attribute.String(AttrModel, model),
		attribute.String(AttrPurpose, purpose),
	))
}

// StartAskSpan starts a span for an assistant question.
func (t *Tracer) StartAskSpan(ctx context.Context, meetingID string) (context.Context, trace.Span) {
	return t.get().Start(ctx, SpanAsk, trace.WithAttributes(
		attribute.String(AttrMeetingID, meetingID),
	))
}

// SpanHelper provides convenience setters for a span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper wraps span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetOutcome records a handling outcome such as applied or duplicate.
func (h *SpanHelper) SetOutcome(outcome string) {
	h.span.SetAttributes(attribute.String(AttrOutcome, outcome))
}

// SetError records err on the span.
func (h *SpanHelper) SetError(err error, code string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// TraceID returns the trace id in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
