// Package pipeline runs post-session processing for meetings:
// transcription, then summarization, then completion.
//
// Each meeting has at most one live job. Job stages only move forward and
// every advance is a compare-and-set on the job version, so a redelivered
// queue message cannot run a stage twice in parallel.
package pipeline

import (
	"context"
	"fmt"
	"time"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
)

// Stage of a pipeline job.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageTranscribing Stage = "transcribing"
	StageSummarizing  Stage = "summarizing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// IsTerminal reports whether no further work happens in s.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageQueued, StageTranscribing, StageSummarizing, StageDone, StageFailed:
		return true
	}
	return false
}

var stageEdges = map[Stage][]Stage{
	StageQueued:       {StageTranscribing, StageSummarizing, StageFailed},
	StageTranscribing: {StageSummarizing, StageFailed},
	StageSummarizing:  {StageDone, StageFailed},
}

// canAdvance reports whether from -> to is allowed. Staying in a
// non-terminal stage is allowed so attempts can be counted.
func canAdvance(from, to Stage) bool {
	if from == to {
		return !from.IsTerminal()
	}
	for _, s := range stageEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is the unit of post-processing work for one meeting.
type Job struct {
	ID        string    `json:"id"`
	MeetingID string    `json:"meeting_id"`
	Stage     Stage     `json:"stage"`
	Attempt   int       `json:"attempt"`
	LastError string    `json:"last_error,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of j.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}

// advance moves the job to stage next. Attempt resets on a stage change.
func (j *Job) advance(next Stage, lastErr string, at time.Time) error {
	if !canAdvance(j.Stage, next) {
		return fmt.Errorf("job %s %s -> %s: %w", j.ID, j.Stage, next, mwerrors.ErrInvalidTransition)
	}
	if next != j.Stage && next != StageFailed {
		j.Attempt = 0
	}
	j.Stage = next
	j.LastError = lastErr
	j.UpdatedAt = at
	return nil
}

// JobStore persists pipeline jobs.
type JobStore interface {
	// Create inserts a queued job. It returns ErrAlreadyExists while the
	// meeting has another live job.
	Create(ctx context.Context, job *Job) error

	Get(ctx context.Context, id string) (*Job, error)

	// Latest returns the most recently created job for the meeting or ErrNotFound.
	Latest(ctx context.Context, meetingID string) (*Job, error)

	// Update writes job if its stored version still equals job.Version and
	// returns the stored copy. A stale version is ErrConflict.
	Update(ctx context.Context, job *Job) (*Job, error)

	// ListStale returns live jobs last updated before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]*Job, error)
}
