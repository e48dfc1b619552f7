package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/meeting"
)

// MemoryStore is an in-process Store used by tests and single-node setups.
type MemoryStore struct {
	mu       sync.Mutex
	meetings map[string]*meeting.Meeting
	now      Clock
}

// NewMemoryStore returns an empty store. A nil clock uses the wall clock.
func NewMemoryStore(now Clock) *MemoryStore {
	if now == nil {
		now = defaultClock
	}
	return &MemoryStore{meetings: make(map[string]*meeting.Meeting), now: now}
}

func (s *MemoryStore) Create(_ context.Context, m *meeting.Meeting) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[m.ID]; ok {
		return fmt.Errorf("meeting %s: %w", m.ID, mwerrors.ErrAlreadyExists)
	}
	c := m.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
		c.UpdatedAt = c.CreatedAt
	}
	s.meetings[m.ID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", id, mwerrors.ErrNotFound)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) CompareAndSetStatus(_ context.Context, id string, expected, next meeting.Status, at time.Time) (*meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", id, mwerrors.ErrNotFound)
	}

	upd := cur.Clone()
	if err := upd.ApplyTransition(expected, next, at); err != nil {
		return nil, err
	}
	upd.Version++
	s.meetings[id] = upd
	return upd.Clone(), nil
}

func (s *MemoryStore) RecordArtifact(_ context.Context, id string, art meeting.Artifact) (*meeting.Meeting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.meetings[id]
	if !ok {
		return nil, false, fmt.Errorf("meeting %s: %w", id, mwerrors.ErrNotFound)
	}

	upd := cur.Clone()
	if err := upd.RecordArtifact(art, s.now()); err != nil {
		if errors.Is(err, meeting.ErrUnchanged) {
			return cur.Clone(), false, nil
		}
		return nil, false, err
	}
	upd.Version++
	s.meetings[id] = upd
	return upd.Clone(), true, nil
}

func (s *MemoryStore) SetProcessingError(_ context.Context, id, msg string) (*meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", id, mwerrors.ErrNotFound)
	}
	if cur.Status != meeting.StatusProcessing {
		return nil, fmt.Errorf("meeting %s is %s: %w", id, cur.Status, mwerrors.ErrConflict)
	}

	upd := cur.Clone()
	upd.ProcessingError = msg
	upd.UpdatedAt = s.now()
	upd.Version++
	s.meetings[id] = upd
	return upd.Clone(), nil
}
