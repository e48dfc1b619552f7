// Package store is the single source of truth for meeting records.
//
// Every mutation is a compare-and-set on the meeting's version, so a late or
// duplicated writer can never silently overwrite a newer state. A Conflict is
// returned to the caller, which must re-read and decide again.
package store

import (
	"context"
	"time"

	"github.com/otherjamesbrown/meetwise/pkg/meeting"
)

// Store is the meeting store contract.
type Store interface {
	// Create inserts a new upcoming meeting. Returns ErrAlreadyExists on id reuse.
	Create(ctx context.Context, m *meeting.Meeting) error

	// Get returns a private copy of the meeting or ErrNotFound.
	Get(ctx context.Context, id string) (*meeting.Meeting, error)

	// CompareAndSetStatus moves the meeting from expected to next. It returns
	// ErrConflict when the stored status is not expected and
	// ErrInvalidTransition when expected -> next is not a DAG edge.
	CompareAndSetStatus(ctx context.Context, id string, expected, next meeting.Status, at time.Time) (*meeting.Meeting, error)

	// RecordArtifact writes an artifact at most once. Writing the same value
	// again succeeds with written=false; a different value is ErrConflict.
	RecordArtifact(ctx context.Context, id string, art meeting.Artifact) (m *meeting.Meeting, written bool, err error)

	// SetProcessingError sets or clears the error flag on a processing meeting.
	SetProcessingError(ctx context.Context, id, msg string) (*meeting.Meeting, error)
}

// Clock returns the current time. Overridden in tests.
type Clock func() time.Time

func defaultClock() time.Time { return time.Now().UTC() }
