// Package audit records a durable trail of meeting lifecycle decisions:
// applied transitions, artifact writes, and webhook events that were
// dropped, ignored or rejected.
package audit

import (
	"context"
	"sync"
	"time"
)

// Action names what was attempted.
type Action string

const (
	ActionEvent           Action = "event"
	ActionTransition      Action = "transition"
	ActionArtifact        Action = "artifact"
	ActionProcessingError Action = "processing_error"
	ActionCancel          Action = "cancel"
	ActionRedrive         Action = "redrive"
)

// Entry is one audit row.
type Entry struct {
	ID              int64     `json:"id"`
	MeetingID       string    `json:"meeting_id"`
	Action          Action    `json:"action"`
	Outcome         string    `json:"outcome"`
	FromStatus      string    `json:"from_status,omitempty"`
	ToStatus        string    `json:"to_status,omitempty"`
	ProviderEventID string    `json:"provider_event_id,omitempty"`
	Detail          string    `json:"detail,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Filter narrows List results.
type Filter struct {
	Actions []Action
	Limit   int
}

// Recorder persists audit entries. Record failures must never block
// the lifecycle operation that produced the entry.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, meetingID string, f Filter) ([]Entry, error)
}

// NopRecorder discards entries.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) error { return nil }
func (NopRecorder) List(context.Context, string, Filter) ([]Entry, error) {
	return nil, nil
}

// MemoryRecorder keeps entries in process.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
	nextID  int64
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRecorder) List(_ context.Context, meetingID string, f Filter) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	for _, e := range r.entries {
		if e.MeetingID != meetingID || !f.matches(e.Action) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// All returns every entry in insertion order.
func (r *MemoryRecorder) All() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

func (f Filter) matches(a Action) bool {
	if len(f.Actions) == 0 {
		return true
	}
	for _, want := range f.Actions {
		if want == a {
			return true
		}
	}
	return false
}

func (f Filter) actionStrings() []string {
	out := make([]string, len(f.Actions))
	for i, a := range f.Actions {
		out[i] = string(a)
	}
	return out
}

var (
	_ Recorder = NopRecorder{}
	_ Recorder = (*MemoryRecorder)(nil)
	_ Recorder = (*PostgresRecorder)(nil)
)
