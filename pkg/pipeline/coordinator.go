package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/meetwise/pkg/audit"
	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/events"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/meeting"
	"github.com/otherjamesbrown/meetwise/pkg/observability"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline/queues"
	"github.com/otherjamesbrown/meetwise/pkg/store"
	"github.com/otherjamesbrown/meetwise/pkg/transcription"
)

// maxCASRetries bounds re-read and retry loops on store conflicts.
const maxCASRetries = 5

var (
	errClaimLost   = errors.New("job claimed by another worker")
	errNoRecording = errors.New("meeting has no recording yet")
)

// Config configures the coordinator.
type Config struct {
	Retry RetryPolicy `yaml:"retry"`

	// StageTimeout bounds a single stage attempt.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// StaleAfter is how long a live job may go without a heartbeat before
	// another worker may take it over. It must exceed StageTimeout plus the
	// longest backoff.
	StaleAfter time.Duration `yaml:"stale_after"`

	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SummaryInputChars bounds the transcript text per summarization
	// request. Longer transcripts are condensed in parts first.
	SummaryInputChars int `yaml:"summary_input_chars"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Retry:             DefaultRetryPolicy(),
		StageTimeout:      10 * time.Minute,
		StaleAfter:        30 * time.Minute,
		SweepInterval:     time.Minute,
		SummaryInputChars: DefaultSummaryInputChars,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage_timeout must be positive: %w", mwerrors.ErrValidation)
	}
	if c.StaleAfter <= c.StageTimeout+c.Retry.MaxBackoff {
		return fmt.Errorf("stale_after (%s) must exceed stage_timeout + max_backoff (%s): %w",
			c.StaleAfter, c.StageTimeout+c.Retry.MaxBackoff, mwerrors.ErrValidation)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive: %w", mwerrors.ErrValidation)
	}
	if c.SummaryInputChars < 0 {
		return fmt.Errorf("summary_input_chars must not be negative: %w", mwerrors.ErrValidation)
	}
	return nil
}

// JobTimeout is an upper bound for one Run covering both stages.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(2*c.Retry.MaxAttempts) * (c.StageTimeout + c.Retry.MaxBackoff)
}

// Deps are the collaborators a Coordinator drives.
type Deps struct {
	Meetings    store.Store
	Jobs        JobStore
	Queue       queues.Queue
	Transcriber transcription.Transcriber
	Summarizer  Summarizer
}

// JobFailedError reports a job that hit a permanent error or used up its
// attempts. The failure is already recorded on the job and the meeting.
type JobFailedError struct {
	Job   *Job
	Stage Stage
	Cause *mwerrors.ProcessingError
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed in %s after %d attempt(s): %v", e.Job.ID, e.Stage, e.Job.Attempt, e.Cause)
}

func (e *JobFailedError) Unwrap() error { return e.Cause }

// Is matches ErrPermanentFailure regardless of the cause's class.
func (e *JobFailedError) Is(target error) bool {
	return target == mwerrors.ErrPermanentFailure
}

// Coordinator owns pipeline jobs: it creates them when a meeting enters
// processing and runs their stages in order.
type Coordinator struct {
	cfg         Config
	meetings    store.Store
	jobs        JobStore
	queue       queues.Queue
	transcriber transcription.Transcriber
	summarizer  Summarizer

	notifier *events.Notifier
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   logging.Logger

	now   func() time.Time
	sleep sleepFunc
	newID func() string
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithNotifier publishes and audits artifact writes and completion.
func WithNotifier(n *events.Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithMetrics records stage and job metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer records job and stage spans.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config, deps Deps, opts ...Option) (*Coordinator, error) {
	if deps.Meetings == nil || deps.Jobs == nil || deps.Queue == nil || deps.Transcriber == nil || deps.Summarizer == nil {
		return nil, fmt.Errorf("pipeline coordinator: missing dependency: %w", mwerrors.ErrValidation)
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:         cfg,
		meetings:    deps.Meetings,
		jobs:        deps.Jobs,
		queue:       deps.Queue,
		transcriber: deps.Transcriber,
		summarizer:  deps.Summarizer,
		logger:      logging.MustGlobal(),
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepContext,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.Component("pipeline_coordinator"))
	return c, nil
}

// Trigger creates and dispatches the pipeline job for a meeting that just
// entered processing. Any existing job for the meeting, live or finished,
// makes it return ErrAlreadyExists; use Redrive to start over.
func (c *Coordinator) Trigger(ctx context.Context, meetingID string) (*Job, error) {
	m, err := c.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.Status != meeting.StatusProcessing {
		return nil, fmt.Errorf("meeting %s is %s: %w", meetingID, m.Status, mwerrors.ErrConflict)
	}

	prev, err := c.jobs.Latest(ctx, meetingID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("meeting %s already has job %s (%s): %w", meetingID, prev.ID, prev.Stage, mwerrors.ErrAlreadyExists)
	case !errors.Is(err, mwerrors.ErrNotFound):
		return nil, err
	}

	job, err := c.start(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Pipeline job created", logging.MeetingID(meetingID), logging.JobID(job.ID))
	return job, nil
}

// Redrive starts a fresh job for a processing meeting whose last job
// finished without completing it. The new job resumes from the first
// missing artifact.
func (c *Coordinator) Redrive(ctx context.Context, meetingID string) (*Job, error) {
	m, err := c.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.Status != meeting.StatusProcessing {
		return nil, fmt.Errorf("meeting %s is %s, only processing meetings can be redriven: %w",
			meetingID, m.Status, mwerrors.ErrConflict)
	}

	prev, err := c.jobs.Latest(ctx, meetingID)
	switch {
	case err == nil && !prev.Stage.IsTerminal():
		return nil, fmt.Errorf("meeting %s has live job %s (%s): %w", meetingID, prev.ID, prev.Stage, mwerrors.ErrAlreadyExists)
	case err != nil && !errors.Is(err, mwerrors.ErrNotFound):
		return nil, err
	}

	return c.restart(ctx, m, "operator redrive")
}

// Resume restarts processing for a processing meeting whose recording just
// arrived. A job that failed before the transcript was written is replaced;
// a meeting with no job at all gets its first one. It returns a nil job when
// nothing needs restarting: the meeting is not processing, has no recording
// or already has a transcript, or a job is live.
func (c *Coordinator) Resume(ctx context.Context, meetingID string) (*Job, error) {
	m, err := c.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.Status != meeting.StatusProcessing ||
		!m.Artifacts.Has(meeting.ArtifactRecording) ||
		m.Artifacts.Has(meeting.ArtifactTranscript) {
		return nil, nil
	}

	prev, err := c.jobs.Latest(ctx, meetingID)
	switch {
	case err == nil && !prev.Stage.IsTerminal():
		return nil, nil
	case err != nil && !errors.Is(err, mwerrors.ErrNotFound):
		return nil, err
	}

	job, err := c.restart(ctx, m, "recording arrived")
	if errors.Is(err, mwerrors.ErrAlreadyExists) {
		// Another resume won the race.
		return nil, nil
	}
	return job, err
}

// restart clears the meeting's error flag and starts a fresh job.
func (c *Coordinator) restart(ctx context.Context, m *meeting.Meeting, reason string) (*Job, error) {
	if m.HasErrorFlag() {
		if _, err := c.meetings.SetProcessingError(ctx, m.ID, ""); err != nil {
			return nil, fmt.Errorf("failed to clear error flag: %w", err)
		}
	}

	job, err := c.start(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	c.notifier.Audit(ctx, audit.Entry{
		MeetingID: m.ID,
		Action:    audit.ActionRedrive,
		Outcome:   "applied",
		ToStatus:  string(meeting.StatusProcessing),
		Detail:    job.ID + ": " + reason,
	})
	c.logger.Info("Pipeline job restarted",
		logging.MeetingID(m.ID),
		logging.JobID(job.ID),
		logging.F("reason", reason))
	return job, nil
}

// Job returns the latest job for a meeting.
func (c *Coordinator) Job(ctx context.Context, meetingID string) (*Job, error) {
	return c.jobs.Latest(ctx, meetingID)
}

func (c *Coordinator) start(ctx context.Context, meetingID string) (*Job, error) {
	now := c.now()
	job := &Job{
		ID:        c.newID(),
		MeetingID: meetingID,
		Stage:     StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	c.dispatch(ctx, job)
	return job, nil
}

// dispatch enqueues the job. A failed enqueue is left to the sweeper.
func (c *Coordinator) dispatch(ctx context.Context, job *Job) {
	if err := c.queue.Enqueue(ctx, queues.Message{JobID: job.ID, MeetingID: job.MeetingID}); err != nil {
		c.logger.Error("Failed to enqueue job, recovery sweep will retry",
			logging.Err(err),
			logging.JobID(job.ID),
			logging.MeetingID(job.MeetingID))
	}
}

// HandleDelivery is the worker pool handler. Failures already recorded on
// the job are acknowledged rather than redelivered.
func (c *Coordinator) HandleDelivery(ctx context.Context, d *queues.Delivery) error {
	err := c.Run(ctx, d.Message.JobID)
	var failed *JobFailedError
	if errors.As(err, &failed) {
		return nil
	}
	return err
}

type stageFunc func(ctx context.Context, meetingID string) error

// Run drives a job to a terminal stage. It returns nil when another worker
// holds the job or the job is already finished, and *JobFailedError when
// the job fails.
func (c *Coordinator) Run(ctx context.Context, jobID string) error {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	ctx, span := c.tracer.StartJobSpan(ctx, job.ID, job.MeetingID)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	log := c.logger.With(logging.JobID(job.ID), logging.MeetingID(job.MeetingID))

	if job.Stage.IsTerminal() {
		log.Debug("Job already finished", logging.F("stage", string(job.Stage)))
		helper.SetOutcome("already_finished")
		return nil
	}
	if job.Stage != StageQueued && c.now().Sub(job.UpdatedAt) < c.cfg.StaleAfter {
		log.Debug("Job held by another worker", logging.F("stage", string(job.Stage)))
		helper.SetOutcome("held")
		return nil
	}

	for {
		switch job.Stage {
		case StageQueued:
			job, err = c.claim(ctx, job)
		case StageTranscribing:
			job, err = c.runStage(ctx, job, c.transcribe)
			if err == nil {
				job, err = c.advance(ctx, job, StageSummarizing)
			}
		case StageSummarizing:
			job, err = c.runStage(ctx, job, c.summarize)
			if err == nil {
				job, err = c.advance(ctx, job, StageDone)
			}
		case StageDone:
			c.metrics.RecordJob(string(StageDone))
			helper.SetSuccess()
			log.Info("Pipeline job done")
			return nil
		default:
			return nil
		}

		if err == nil {
			continue
		}
		if errors.Is(err, errClaimLost) {
			log.Info("Job taken over by another worker")
			helper.SetOutcome("claim_lost")
			return nil
		}
		var failed *JobFailedError
		if errors.As(err, &failed) {
			helper.SetError(err, string(failed.Cause.Code), false)
			return err
		}
		helper.SetError(err, "", true)
		return err
	}
}

// claim moves a queued job to its first stage. Losing the compare-and-set
// means a duplicate delivery got there first.
func (c *Coordinator) claim(ctx context.Context, job *Job) (*Job, error) {
	m, err := c.meetings.Get(ctx, job.MeetingID)
	if err != nil {
		return nil, err
	}
	first := StageTranscribing
	if m.Artifacts.Has(meeting.ArtifactTranscript) {
		first = StageSummarizing
	}
	return c.advance(ctx, job, first)
}

func (c *Coordinator) advance(ctx context.Context, job *Job, stage Stage) (*Job, error) {
	next := job.Clone()
	if err := next.advance(stage, "", c.now()); err != nil {
		return nil, err
	}
	return c.save(ctx, next)
}

func (c *Coordinator) save(ctx context.Context, job *Job) (*Job, error) {
	saved, err := c.jobs.Update(ctx, job)
	if errors.Is(err, mwerrors.ErrConflict) {
		return nil, fmt.Errorf("job %s: %w", job.ID, errClaimLost)
	}
	return saved, err
}

// runStage attempts the job's current stage until it succeeds, fails
// permanently or reaches the attempt ceiling.
func (c *Coordinator) runStage(ctx context.Context, job *Job, fn stageFunc) (*Job, error) {
	stage := job.Stage
	policy := c.cfg.Retry
	log := c.logger.With(logging.JobID(job.ID), logging.MeetingID(job.MeetingID), logging.F("stage", string(stage)))
	lastErr := job.LastError

	for {
		// The attempt is counted before it runs, so a crash mid-attempt
		// still counts toward the ceiling. The write is also the heartbeat.
		next := job.Clone()
		next.Attempt++
		next.LastError = lastErr
		next.UpdatedAt = c.now()
		saved, err := c.save(ctx, next)
		if err != nil {
			return nil, err
		}
		job = saved

		sctx, span := c.tracer.StartStageSpan(ctx, string(stage), job.Attempt)
		sctx, cancel := context.WithTimeout(sctx, c.cfg.StageTimeout)
		start := time.Now()
		err = fn(sctx, job.MeetingID)
		cancel()
		elapsed := time.Since(start)
		helper := observability.NewSpanHelper(span)

		if err == nil {
			c.metrics.RecordStageAttempt(string(stage), "success", elapsed)
			helper.SetSuccess()
			span.End()
			log.Info("Stage completed", logging.F("attempt", job.Attempt), logging.F("duration_ms", elapsed.Milliseconds()))
			return job, nil
		}

		pe := mwerrors.ClassifyError(err, string(stage))
		helper.SetError(pe, string(pe.Code), pe.Retryable())
		span.End()

		if ctx.Err() != nil {
			// The handler deadline or shutdown interrupted us. Leave the
			// job live for recovery.
			c.metrics.RecordStageAttempt(string(stage), "interrupted", elapsed)
			return job, fmt.Errorf("%s interrupted: %w", stage, ctx.Err())
		}

		if !pe.Retryable() || policy.Exhausted(job.Attempt) {
			c.metrics.RecordStageAttempt(string(stage), "failed", elapsed)
			return c.fail(ctx, job, pe)
		}

		c.metrics.RecordStageAttempt(string(stage), "retry", elapsed)
		lastErr = pe.Error()
		backoff := policy.CalculateBackoff(job.Attempt)
		log.Warn("Stage attempt failed, retrying",
			logging.Err(pe),
			logging.F("code", string(pe.Code)),
			logging.F("attempt", job.Attempt),
			logging.F("max_attempts", policy.MaxAttempts),
			logging.F("retry_in", backoff))
		if err := c.sleep(ctx, backoff); err != nil {
			return job, fmt.Errorf("%s interrupted: %w", stage, err)
		}
	}
}

// fail marks the job failed and flags the meeting. The meeting stays in
// processing so it can be redriven.
func (c *Coordinator) fail(ctx context.Context, job *Job, pe *mwerrors.ProcessingError) (*Job, error) {
	stage := job.Stage
	next := job.Clone()
	if err := next.advance(StageFailed, pe.Error(), c.now()); err != nil {
		return nil, err
	}
	saved, err := c.save(ctx, next)
	if err != nil {
		return nil, err
	}

	flag := fmt.Sprintf("%s failed after %d attempt(s): %s", stage, saved.Attempt, pe.Error())
	if _, err := c.meetings.SetProcessingError(ctx, job.MeetingID, flag); err != nil {
		c.logger.Error("Failed to flag meeting", logging.Err(err), logging.MeetingID(job.MeetingID))
	}

	c.metrics.RecordJob(string(StageFailed))
	c.notifier.Audit(ctx, audit.Entry{
		MeetingID: job.MeetingID,
		Action:    audit.ActionProcessingError,
		Outcome:   "failed",
		ToStatus:  string(meeting.StatusProcessing),
		Detail:    flag,
	})
	c.logger.Error("Pipeline job failed",
		logging.Err(pe),
		logging.JobID(job.ID),
		logging.MeetingID(job.MeetingID),
		logging.F("stage", string(stage)),
		logging.F("code", string(pe.Code)),
		logging.F("attempts", saved.Attempt),
		logging.F("suggested_action", mwerrors.SuggestedAction(pe.Code)))

	if errors.Is(pe, errNoRecording) {
		// The recording may have landed during the last attempt, after
		// recording-ready already saw this job live.
		if next, err := c.Resume(ctx, job.MeetingID); err != nil {
			c.logger.Warn("Resume after missing recording failed", logging.Err(err), logging.MeetingID(job.MeetingID))
		} else if next != nil {
			c.logger.Info("Recording arrived during the last attempt, job restarted",
				logging.MeetingID(job.MeetingID), logging.JobID(next.ID))
		}
	}

	return saved, &JobFailedError{Job: saved, Stage: stage, Cause: pe}
}

func (c *Coordinator) transcribe(ctx context.Context, meetingID string) error {
	m, err := c.meetings.Get(ctx, meetingID)
	if err != nil {
		return err
	}
	if err := requireProcessing(m); err != nil {
		return err
	}
	if m.Artifacts.Has(meeting.ArtifactTranscript) {
		return nil
	}

	rec := m.Artifacts.Value(meeting.ArtifactRecording)
	if rec == "" {
		return mwerrors.NewProcessingError(mwerrors.CodeRecordingUnavailable, "", errNoRecording.Error(), errNoRecording)
	}

	text, err := c.transcriber.Transcribe(ctx, rec)
	if err != nil {
		return err
	}
	text = NormalizeTranscript(text)
	if text == "" {
		return mwerrors.NewProcessingError(mwerrors.CodeEmptyOutput, "", "empty transcript", nil)
	}
	return c.record(ctx, meetingID, meeting.Transcript(text))
}

// summarize writes the summary and completes the meeting. Both steps are
// skipped when already done, so a retried or resumed attempt converges.
func (c *Coordinator) summarize(ctx context.Context, meetingID string) error {
	m, err := c.meetings.Get(ctx, meetingID)
	if err != nil {
		return err
	}
	if m.Status == meeting.StatusCompleted {
		return nil
	}
	if err := requireProcessing(m); err != nil {
		return err
	}

	if !m.Artifacts.Has(meeting.ArtifactSummary) {
		transcript := m.Artifacts.Value(meeting.ArtifactTranscript)
		if transcript == "" {
			return mwerrors.NewProcessingError(mwerrors.CodeInvalidInput, "",
				"summarization requires a transcript", mwerrors.ErrInvalidTransition)
		}

		summary, err := c.summarizer.Summarize(ctx, m, transcript)
		if err != nil {
			return err
		}
		summary = strings.TrimSpace(summary)
		if summary == "" {
			return mwerrors.NewProcessingError(mwerrors.CodeEmptyOutput, "", "empty summary", nil)
		}
		if err := c.record(ctx, meetingID, meeting.Summary(summary)); err != nil {
			return err
		}
	}

	return c.complete(ctx, meetingID)
}

// record writes an artifact, re-reading on conflicts. A value already
// written by another writer is accepted.
func (c *Coordinator) record(ctx context.Context, meetingID string, art meeting.Artifact) error {
	var err error
	for i := 0; i < maxCASRetries; i++ {
		var (
			m       *meeting.Meeting
			written bool
		)
		m, written, err = c.meetings.RecordArtifact(ctx, meetingID, art)
		if err == nil {
			if written {
				c.metrics.RecordArtifact(string(art.Kind))
				c.notifier.ArtifactRecorded(ctx, m, art.Kind)
			}
			return nil
		}
		if !errors.Is(err, mwerrors.ErrConflict) {
			return err
		}
		cur, getErr := c.meetings.Get(ctx, meetingID)
		if getErr != nil {
			return getErr
		}
		if cur.Artifacts.Has(art.Kind) {
			c.logger.Warn("Artifact already written by another writer",
				logging.MeetingID(meetingID),
				logging.F("kind", string(art.Kind)))
			return nil
		}
	}
	return fmt.Errorf("recording %s after %d conflicts: %w", art.Kind, maxCASRetries, err)
}

// complete performs processing -> completed once both artifacts exist.
func (c *Coordinator) complete(ctx context.Context, meetingID string) error {
	var err error
	for i := 0; i < maxCASRetries; i++ {
		var m *meeting.Meeting
		m, err = c.meetings.CompareAndSetStatus(ctx, meetingID, meeting.StatusProcessing, meeting.StatusCompleted, c.now())
		if err == nil {
			c.metrics.RecordTransition(string(meeting.StatusProcessing), string(meeting.StatusCompleted))
			c.notifier.StatusChanged(ctx, m, meeting.StatusProcessing, "")
			c.logger.Info("Meeting completed", logging.MeetingID(meetingID))
			return nil
		}
		if !errors.Is(err, mwerrors.ErrConflict) {
			return err
		}
		cur, getErr := c.meetings.Get(ctx, meetingID)
		if getErr != nil {
			return getErr
		}
		if cur.Status == meeting.StatusCompleted {
			return nil
		}
		if cur.Status != meeting.StatusProcessing {
			return err
		}
	}
	return err
}

func requireProcessing(m *meeting.Meeting) error {
	if m.Status != meeting.StatusProcessing {
		return mwerrors.NewProcessingError(mwerrors.CodeInvalidInput, "",
			fmt.Sprintf("meeting is %s", m.Status), mwerrors.ErrInvalidTransition)
	}
	return nil
}

// Recover re-enqueues live jobs without a heartbeat for StaleAfter. It
// returns the number of jobs dispatched.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	stale, err := c.jobs.ListStale(ctx, c.now().Add(-c.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}

	n := 0
	for _, job := range stale {
		if err := c.queue.Enqueue(ctx, queues.Message{JobID: job.ID, MeetingID: job.MeetingID}); err != nil {
			return n, fmt.Errorf("failed to re-enqueue job %s: %w", job.ID, err)
		}
		n++
	}
	if n > 0 {
		c.logger.Info("Recovered stale pipeline jobs", logging.F("count", n))
	}
	return n, nil
}

// RunSweeper calls Recover now and then every SweepInterval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		if _, err := c.Recover(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Recovery sweep failed", logging.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
