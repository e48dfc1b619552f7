// Package meeting defines the meeting entity, its status DAG and its artifacts.
package meeting

import (
	"fmt"
	"time"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
)

// Status is the lifecycle state of a meeting.
type Status string

const (
	StatusUpcoming   Status = "upcoming"
	StatusActive     Status = "active"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status surfaced to consumers.
var Statuses = []Status{StatusUpcoming, StatusActive, StatusProcessing, StatusCompleted, StatusCancelled}

// transitions is the status DAG. Nothing leaves completed or cancelled.
var transitions = map[Status][]Status{
	StatusUpcoming:   {StatusActive, StatusCancelled},
	StatusActive:     {StatusProcessing},
	StatusProcessing: {StatusCompleted},
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether from -> to is an edge of the DAG.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q: %w", s, mwerrors.ErrValidation)
	}
	return st, nil
}

// Meeting is the durable record owned by the store.
type Meeting struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	AgentID string `json:"agent_id"`
	Status  Status `json:"status"`

	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`

	Artifacts Artifacts `json:"artifacts"`

	// ProcessingError is set when the pipeline gave up on this meeting.
	// The meeting stays processing so it can be redriven.
	ProcessingError string `json:"processing_error,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an upcoming meeting.
func New(id, name, agentID string, now time.Time) *Meeting {
	return &Meeting{
		ID:        id,
		Name:      name,
		AgentID:   agentID,
		Status:    StatusUpcoming,
		Artifacts: Artifacts{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks fields required for a new meeting.
func (m *Meeting) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("meeting id is required: %w", mwerrors.ErrValidation)
	}
	if m.AgentID == "" {
		return fmt.Errorf("meeting %s: agent id is required: %w", m.ID, mwerrors.ErrValidation)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("meeting %s: invalid status %q: %w", m.ID, m.Status, mwerrors.ErrValidation)
	}
	return nil
}

// HasErrorFlag reports whether the pipeline marked this meeting as failed.
func (m *Meeting) HasErrorFlag() bool {
	return m.ProcessingError != ""
}

// Clone returns a deep copy so callers never share a snapshot.
func (m *Meeting) Clone() *Meeting {
	if m == nil {
		return nil
	}
	c := *m
	if m.StartedAt != nil {
		t := *m.StartedAt
		c.StartedAt = &t
	}
	if m.EndedAt != nil {
		t := *m.EndedAt
		c.EndedAt = &t
	}
	if m.DurationSeconds != nil {
		d := *m.DurationSeconds
		c.DurationSeconds = &d
	}
	c.Artifacts = make(Artifacts, len(m.Artifacts))
	for k, v := range m.Artifacts {
		c.Artifacts[k] = v
	}
	return &c
}

// ApplyTransition moves m from expected to next at the given time.
// It does not bump the version; stores do that on commit.
//
// Entering active stamps startedAt. Entering processing stamps endedAt and
// derives the duration. Entering completed requires both transcript and summary.
func (m *Meeting) ApplyTransition(expected, next Status, at time.Time) error {
	if m.Status != expected {
		return fmt.Errorf("meeting %s is %s, expected %s: %w", m.ID, m.Status, expected, mwerrors.ErrConflict)
	}
	if !CanTransition(expected, next) {
		return fmt.Errorf("meeting %s: %s -> %s: %w", m.ID, expected, next, mwerrors.ErrInvalidTransition)
	}

	switch next {
	case StatusActive:
		t := at.UTC()
		m.StartedAt = &t
	case StatusProcessing:
		t := at.UTC()
		m.EndedAt = &t
		if m.StartedAt != nil {
			d := int64(t.Sub(*m.StartedAt).Seconds())
			if d < 0 {
				d = 0
			}
			m.DurationSeconds = &d
		}
	case StatusCompleted:
		if !m.Artifacts.Has(ArtifactTranscript) || !m.Artifacts.Has(ArtifactSummary) {
			return fmt.Errorf("meeting %s: completed requires transcript and summary: %w", m.ID, mwerrors.ErrInvalidTransition)
		}
		m.ProcessingError = ""
	}

	m.Status = next
	m.UpdatedAt = at.UTC()
	return nil
}
