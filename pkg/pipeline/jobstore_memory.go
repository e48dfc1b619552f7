package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
)

// MemoryJobStore keeps jobs in process.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	seq  int64
	// order preserves creation order for Latest when timestamps tie.
	order map[string]int64
}

// NewMemoryJobStore returns an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:  make(map[string]*Job),
		order: make(map[string]int64),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, mwerrors.ErrAlreadyExists)
	}
	for _, j := range s.jobs {
		if j.MeetingID == job.MeetingID && !j.Stage.IsTerminal() {
			return fmt.Errorf("meeting %s has live job %s: %w", job.MeetingID, j.ID, mwerrors.ErrAlreadyExists)
		}
	}

	c := job.Clone()
	c.Version = 1
	s.seq++
	s.jobs[c.ID] = c
	s.order[c.ID] = s.seq
	job.Version = 1
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, mwerrors.ErrNotFound)
	}
	return j.Clone(), nil
}

func (s *MemoryJobStore) Latest(_ context.Context, meetingID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Job
	for _, j := range s.jobs {
		if j.MeetingID != meetingID {
			continue
		}
		if latest == nil || s.order[j.ID] > s.order[latest.ID] {
			latest = j
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no job for meeting %s: %w", meetingID, mwerrors.ErrNotFound)
	}
	return latest.Clone(), nil
}

func (s *MemoryJobStore) Update(_ context.Context, job *Job) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[job.ID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", job.ID, mwerrors.ErrNotFound)
	}
	if cur.Version != job.Version {
		return nil, fmt.Errorf("job %s changed since version %d: %w", job.ID, job.Version, mwerrors.ErrConflict)
	}
	c := job.Clone()
	c.Version = cur.Version + 1
	s.jobs[c.ID] = c
	return c.Clone(), nil
}

func (s *MemoryJobStore) ListStale(_ context.Context, cutoff time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, j := range s.jobs {
		if !j.Stage.IsTerminal() && j.UpdatedAt.Before(cutoff) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return s.order[out[a].ID] < s.order[out[b].ID] })
	return out, nil
}

// LiveCount returns the number of non-terminal jobs for meetingID.
func (s *MemoryJobStore) LiveCount(meetingID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.MeetingID == meetingID && !j.Stage.IsTerminal() {
			n++
		}
	}
	return n
}
