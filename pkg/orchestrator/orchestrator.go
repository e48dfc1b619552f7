// Package orchestrator reacts to call-provider lifecycle events and drives
// meeting status transitions.
//
// Provider delivery is at-least-once. Every event is claimed in a bounded
// dedup window by its provider event id, then applied with compare-and-set
// against the meeting store. A conflict means someone else moved the meeting;
// the orchestrator re-reads and decides again instead of retrying blindly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otherjamesbrown/meetwise/pkg/audit"
	"github.com/otherjamesbrown/meetwise/pkg/dedup"
	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/events"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/meeting"
	"github.com/otherjamesbrown/meetwise/pkg/observability"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline"
	"github.com/otherjamesbrown/meetwise/pkg/store"
)

// EventType is a call-provider lifecycle event.
type EventType string

const (
	EventSessionStarted    EventType = "session-started"
	EventSessionEnded      EventType = "session-ended"
	EventRecordingReady    EventType = "recording-ready"
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
)

// Event is one inbound provider notification.
type Event struct {
	MeetingID       string    `json:"meetingId"`
	EventType       EventType `json:"eventType"`
	ProviderEventID string    `json:"providerEventId"`
	Timestamp       time.Time `json:"timestamp"`

	// RecordingURL is carried by recording-ready and optionally session-ended.
	RecordingURL string `json:"recordingUrl,omitempty"`
}

// Validate rejects events missing their identifying fields.
func (e Event) Validate() error {
	switch {
	case e.MeetingID == "":
		return fmt.Errorf("meetingId is required: %w", mwerrors.ErrValidation)
	case e.EventType == "":
		return fmt.Errorf("eventType is required: %w", mwerrors.ErrValidation)
	case e.ProviderEventID == "":
		return fmt.Errorf("providerEventId is required: %w", mwerrors.ErrValidation)
	case e.EventType == EventRecordingReady && e.RecordingURL == "":
		return fmt.Errorf("recordingUrl is required for %s: %w", e.EventType, mwerrors.ErrValidation)
	}
	return nil
}

// Outcome says what happened to an event. Every outcome is acknowledged to
// the provider.
type Outcome string

const (
	// OutcomeApplied changed the meeting.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate was seen before inside the dedup window.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored needed no change, e.g. a repeated start.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDropped targeted an unknown meeting or one in a terminal state.
	OutcomeDropped Outcome = "dropped"
	// OutcomeRejected is not valid for the meeting's current status.
	OutcomeRejected Outcome = "rejected"
)

// Result reports how an event was handled.
type Result struct {
	Outcome Outcome        `json:"outcome"`
	Status  meeting.Status `json:"status,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

// PipelineTrigger starts post-processing for a meeting that entered processing.
type PipelineTrigger interface {
	Trigger(ctx context.Context, meetingID string) (*pipeline.Job, error)

	// Resume restarts processing once a recording arrives for a processing
	// meeting. A nil job means nothing needed restarting.
	Resume(ctx context.Context, meetingID string) (*pipeline.Job, error)
}

// Orchestrator applies provider events and explicit cancellations.
type Orchestrator struct {
	meetings store.Store
	seen     dedup.Deduper
	trigger  PipelineTrigger

	notifier *events.Notifier
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   logging.Logger
	now      func() time.Time

	maxRereads int
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithNotifier publishes and audits transitions and artifact writes.
func WithNotifier(n *events.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithMetrics records event and transition metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer records event spans.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator.
func New(meetings store.Store, seen dedup.Deduper, trigger PipelineTrigger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		meetings:   meetings,
		seen:       seen,
		trigger:    trigger,
		logger:     logging.MustGlobal(),
		now:        func() time.Time { return time.Now().UTC() },
		maxRereads: 5,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(logging.Component("orchestrator"))
	return o
}

// HandleEvent applies one provider event. Only validation failures and
// infrastructure errors are returned; every other case is reported through
// Result and should be acknowledged.
func (o *Orchestrator) HandleEvent(ctx context.Context, e Event) (Result, error) {
	ctx, span := o.tracer.StartEventSpan(ctx, e.MeetingID, string(e.EventType), e.ProviderEventID)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	if err := e.Validate(); err != nil {
		o.metrics.RecordWebhookEvent(string(e.EventType), "invalid")
		helper.SetError(err, "invalid", false)
		return Result{}, err
	}

	log := o.logger.With(
		logging.MeetingID(e.MeetingID),
		logging.F("event_type", string(e.EventType)),
		logging.F("provider_event_id", e.ProviderEventID))

	claimed, err := o.seen.Claim(ctx, e.ProviderEventID)
	if err != nil {
		// The store's compare-and-set still guards correctness.
		log.Warn("Dedup unavailable, applying event unguarded", logging.Err(err))
		claimed = true
	}
	if !claimed {
		res := Result{Outcome: OutcomeDuplicate, Reason: "provider event already handled"}
		o.finish(ctx, log, e, res)
		helper.SetOutcome(string(res.Outcome))
		return res, nil
	}

	var res Result
	switch e.EventType {
	case EventSessionStarted:
		res, err = o.apply(ctx, log, e, meeting.StatusUpcoming, meeting.StatusActive)
	case EventSessionEnded:
		if e.RecordingURL != "" {
			if _, rerr := o.recordRecording(ctx, log, e); rerr != nil && !isResolved(rerr) {
				log.Warn("Recording on session end not stored", logging.Err(rerr))
			}
		}
		res, err = o.apply(ctx, log, e, meeting.StatusActive, meeting.StatusProcessing)
		if err == nil {
			err = o.afterEnded(ctx, log, e, res)
		}
	case EventRecordingReady:
		res, err = o.recordRecording(ctx, log, e)
		if err == nil {
			err = o.afterRecording(ctx, log, e, res)
		}
	case EventParticipantJoined, EventParticipantLeft:
		res = Result{Outcome: OutcomeIgnored, Reason: "participant events do not change status"}
	default:
		res = Result{Outcome: OutcomeIgnored, Reason: "unknown event type"}
	}

	if err != nil || res.Outcome == OutcomeRejected || (res.Outcome == OutcomeDropped && res.Status == "") {
		// Let a redelivery try again: the failure may be transient, the
		// events may be out of order, or the meeting may not exist yet.
		if rerr := o.seen.Release(ctx, e.ProviderEventID); rerr != nil {
			log.Warn("Failed to release dedup claim", logging.Err(rerr))
		}
	}
	if err != nil {
		o.metrics.RecordWebhookEvent(string(e.EventType), "error")
		helper.SetError(err, "", true)
		log.Error("Event handling failed", logging.Err(err))
		return Result{}, err
	}

	o.finish(ctx, log, e, res)
	helper.SetOutcome(string(res.Outcome))
	return res, nil
}

func (o *Orchestrator) finish(ctx context.Context, log logging.Logger, e Event, res Result) {
	o.metrics.RecordWebhookEvent(string(e.EventType), string(res.Outcome))

	fields := []logging.Field{logging.F("outcome", string(res.Outcome))}
	if res.Status != "" {
		fields = append(fields, logging.F("status", string(res.Status)))
	}
	if res.Reason != "" {
		fields = append(fields, logging.F("reason", res.Reason))
	}

	switch res.Outcome {
	case OutcomeApplied:
		log.Info("Event applied", fields...)
		return
	case OutcomeDropped, OutcomeRejected:
		log.Warn("Event not applied", fields...)
	default:
		log.Info("Event not applied", fields...)
	}

	// Applied events are audited with their transition or artifact.
	o.notifier.Audit(ctx, audit.Entry{
		MeetingID:       e.MeetingID,
		Action:          audit.ActionEvent,
		Outcome:         string(res.Outcome),
		FromStatus:      string(res.Status),
		ProviderEventID: e.ProviderEventID,
		Detail:          fmt.Sprintf("%s: %s", e.EventType, res.Reason),
	})
}

// apply moves the meeting from expected to next, re-reading after every
// conflict. Statuses other than expected are classified rather than forced.
func (o *Orchestrator) apply(ctx context.Context, log logging.Logger, e Event, expected, next meeting.Status) (Result, error) {
	at := o.eventTime(e)

	for i := 0; i < o.maxRereads; i++ {
		m, err := o.meetings.Get(ctx, e.MeetingID)
		if errors.Is(err, mwerrors.ErrNotFound) {
			return Result{Outcome: OutcomeDropped, Reason: "unknown meeting"}, nil
		}
		if err != nil {
			return Result{}, err
		}

		if res, done := classify(m.Status, expected, next); done {
			return res, nil
		}

		updated, err := o.meetings.CompareAndSetStatus(ctx, e.MeetingID, expected, next, at)
		if errors.Is(err, mwerrors.ErrConflict) {
			log.Debug("Status changed concurrently, re-reading", logging.F("attempt", i+1))
			continue
		}
		if err != nil {
			return Result{}, err
		}

		o.metrics.RecordTransition(string(expected), string(next))
		o.notifier.StatusChanged(ctx, updated, expected, e.ProviderEventID)
		return Result{Outcome: OutcomeApplied, Status: updated.Status}, nil
	}
	return Result{}, fmt.Errorf("meeting %s kept changing after %d reads: %w", e.MeetingID, o.maxRereads, mwerrors.ErrConflict)
}

// classify decides what an event that wants expected -> next means for a
// meeting currently in status. done is false only when the transition
// should be attempted.
func classify(status, expected, next meeting.Status) (Result, bool) {
	switch {
	case status == expected:
		return Result{}, false
	case status.IsTerminal():
		return Result{Outcome: OutcomeDropped, Status: status, Reason: "meeting is " + string(status)}, true
	case rank(status) >= rank(next):
		return Result{Outcome: OutcomeIgnored, Status: status, Reason: "meeting already " + string(status)}, true
	default:
		return Result{Outcome: OutcomeRejected, Status: status,
			Reason: fmt.Sprintf("cannot move %s to %s", status, next)}, true
	}
}

// rank orders the non-terminal lifecycle.
func rank(s meeting.Status) int {
	switch s {
	case meeting.StatusUpcoming:
		return 0
	case meeting.StatusActive:
		return 1
	case meeting.StatusProcessing:
		return 2
	case meeting.StatusCompleted:
		return 3
	}
	return -1
}

// afterEnded triggers the pipeline after the meeting enters processing. A
// repeated session-ended for a processing meeting re-issues the trigger,
// which only creates a job if the original trigger was lost.
//
// A failed trigger is returned so the event's claim is released and the
// provider redelivers it; the redelivery finds the meeting processing and
// triggers again.
func (o *Orchestrator) afterEnded(ctx context.Context, log logging.Logger, e Event, res Result) error {
	if res.Status != meeting.StatusProcessing {
		return nil
	}
	if res.Outcome != OutcomeApplied && res.Outcome != OutcomeIgnored {
		return nil
	}

	job, err := o.trigger.Trigger(ctx, e.MeetingID)
	switch {
	case err == nil:
		log.Info("Pipeline triggered", logging.JobID(job.ID))
		return nil
	case errors.Is(err, mwerrors.ErrAlreadyExists):
		log.Debug("Pipeline already triggered")
		return nil
	case errors.Is(err, mwerrors.ErrConflict):
		log.Debug("Meeting left processing before the trigger", logging.Err(err))
		return nil
	default:
		return fmt.Errorf("triggering pipeline for meeting %s: %w", e.MeetingID, err)
	}
}

// afterRecording restarts processing when the recording lands after the
// session ended, which is the usual provider order. The job started at
// session end may already have failed waiting for it.
func (o *Orchestrator) afterRecording(ctx context.Context, log logging.Logger, e Event, res Result) error {
	if res.Status != meeting.StatusProcessing {
		return nil
	}
	if res.Outcome != OutcomeApplied && res.Outcome != OutcomeIgnored {
		return nil
	}

	job, err := o.trigger.Resume(ctx, e.MeetingID)
	switch {
	case err != nil && errors.Is(err, mwerrors.ErrConflict):
		log.Debug("Meeting left processing before resume", logging.Err(err))
		return nil
	case err != nil:
		return fmt.Errorf("resuming pipeline for meeting %s: %w", e.MeetingID, err)
	case job != nil:
		log.Info("Pipeline resumed after recording arrived", logging.JobID(job.ID))
	}
	return nil
}

func (o *Orchestrator) recordRecording(ctx context.Context, log logging.Logger, e Event) (Result, error) {
	art := meeting.Recording(e.RecordingURL)

	for i := 0; i < o.maxRereads; i++ {
		m, written, err := o.meetings.RecordArtifact(ctx, e.MeetingID, art)
		switch {
		case err == nil && written:
			o.metrics.RecordArtifact(string(art.Kind))
			o.notifier.ArtifactRecorded(ctx, m, art.Kind)
			return Result{Outcome: OutcomeApplied, Status: m.Status}, nil
		case err == nil:
			return Result{Outcome: OutcomeIgnored, Status: m.Status, Reason: "recording already stored"}, nil
		case errors.Is(err, mwerrors.ErrNotFound):
			return Result{Outcome: OutcomeDropped, Reason: "unknown meeting"}, nil
		case errors.Is(err, mwerrors.ErrInvalidTransition):
			return Result{Outcome: OutcomeRejected, Reason: err.Error()}, nil
		case !errors.Is(err, mwerrors.ErrConflict):
			return Result{}, err
		}

		// A conflict is either a concurrent write (re-read and retry) or a
		// settled refusal: terminal meeting or a different recording.
		cur, gerr := o.meetings.Get(ctx, e.MeetingID)
		if gerr != nil {
			return Result{}, gerr
		}
		if cur.Status.IsTerminal() {
			return Result{Outcome: OutcomeDropped, Status: cur.Status, Reason: "meeting is " + string(cur.Status)}, nil
		}
		if cur.Artifacts.Has(art.Kind) {
			log.Warn("Different recording already stored", logging.F("recording_url", e.RecordingURL))
			return Result{Outcome: OutcomeRejected, Status: cur.Status, Reason: "a different recording is already stored"}, nil
		}
	}
	return Result{}, fmt.Errorf("meeting %s kept changing after %d reads: %w", e.MeetingID, o.maxRereads, mwerrors.ErrConflict)
}

// isResolved reports errors that need no further action.
func isResolved(err error) bool {
	return errors.Is(err, mwerrors.ErrConflict) || errors.Is(err, mwerrors.ErrInvalidTransition)
}

func (o *Orchestrator) eventTime(e Event) time.Time {
	if e.Timestamp.IsZero() {
		return o.now()
	}
	return e.Timestamp.UTC()
}

// Cancel moves an upcoming meeting to cancelled. Cancelling an already
// cancelled meeting succeeds; any other status is ErrInvalidTransition.
func (o *Orchestrator) Cancel(ctx context.Context, meetingID string) (*meeting.Meeting, error) {
	log := o.logger.With(logging.MeetingID(meetingID))

	for i := 0; i < o.maxRereads; i++ {
		m, err := o.meetings.Get(ctx, meetingID)
		if err != nil {
			return nil, err
		}
		switch m.Status {
		case meeting.StatusCancelled:
			return m, nil
		case meeting.StatusUpcoming:
		default:
			o.notifier.Audit(ctx, audit.Entry{
				MeetingID:  meetingID,
				Action:     audit.ActionCancel,
				Outcome:    string(OutcomeRejected),
				FromStatus: string(m.Status),
			})
			return nil, fmt.Errorf("meeting %s is %s, only upcoming meetings can be cancelled: %w",
				meetingID, m.Status, mwerrors.ErrInvalidTransition)
		}

		updated, err := o.meetings.CompareAndSetStatus(ctx, meetingID, meeting.StatusUpcoming, meeting.StatusCancelled, o.now())
		if errors.Is(err, mwerrors.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		o.metrics.RecordTransition(string(meeting.StatusUpcoming), string(meeting.StatusCancelled))
		o.notifier.StatusChanged(ctx, updated, meeting.StatusUpcoming, "")
		log.Info("Meeting cancelled")
		return updated, nil
	}
	return nil, fmt.Errorf("meeting %s kept changing after %d reads: %w", meetingID, o.maxRereads, mwerrors.ErrConflict)
}
