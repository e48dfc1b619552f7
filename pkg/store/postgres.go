package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/meeting"
)

const uniqueViolation = "23505"

// PostgresStore persists meetings in the meetings and meeting_artifacts tables.
//
// Writes read the current row, apply the change in Go and commit with
// "WHERE version = $read", so concurrent writers lose with ErrConflict
// instead of overwriting each other.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
	now    Clock
}

// NewPostgresStore creates a store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger.With(logging.Component("meeting_store")),
		now:    defaultClock,
	}
}

func (s *PostgresStore) Create(ctx context.Context, m *meeting.Meeting) error {
	if err := m.Validate(); err != nil {
		return err
	}
	now := s.now()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO meetings (id, name, agent_id, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
	`, m.ID, m.Name, m.AgentID, string(m.Status), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("meeting %s: %w", m.ID, mwerrors.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create meeting: %w", err)
	}

	m.Version = 1
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*meeting.Meeting, error) {
	return s.load(ctx, s.pool, id)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) load(ctx context.Context, q querier, id string) (*meeting.Meeting, error) {
	var (
		m      meeting.Meeting
		status string
	)
	err := q.QueryRow(ctx, `
		SELECT id, name, agent_id, status, started_at, ended_at, duration_seconds,
		       processing_error, version, created_at, updated_at
		FROM meetings
		WHERE id = $1
	`, id).Scan(
		&m.ID, &m.Name, &m.AgentID, &status, &m.StartedAt, &m.EndedAt, &m.DurationSeconds,
		&m.ProcessingError, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("meeting %s: %w", id, mwerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	if m.Status, err = meeting.ParseStatus(status); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT kind, value, recorded_at
		FROM meeting_artifacts
		WHERE meeting_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get artifacts: %w", err)
	}
	defer rows.Close()

	m.Artifacts = meeting.Artifacts{}
	for rows.Next() {
		var a meeting.Artifact
		var kind string
		if err := rows.Scan(&kind, &a.Value, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.Kind = meeting.ArtifactKind(kind)
		m.Artifacts[a.Kind] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read artifacts: %w", err)
	}
	return &m, nil
}

// commit bumps the version of a row read at readVersion, writing the mutable columns.
func commit(ctx context.Context, tx pgx.Tx, m *meeting.Meeting, readVersion int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE meetings
		SET status = $3, started_at = $4, ended_at = $5, duration_seconds = $6,
		    processing_error = $7, updated_at = $8, version = version + 1
		WHERE id = $1 AND version = $2
	`, m.ID, readVersion, string(m.Status), m.StartedAt, m.EndedAt, m.DurationSeconds,
		m.ProcessingError, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("meeting %s changed since version %d: %w", m.ID, readVersion, mwerrors.ErrConflict)
	}
	m.Version = readVersion + 1
	return nil
}

// mutate runs fn against a fresh read inside a transaction and commits it
// with a version check. fn returning meeting.ErrUnchanged rolls back quietly.
func (s *PostgresStore) mutate(ctx context.Context, id string, fn func(tx pgx.Tx, m *meeting.Meeting) error) (*meeting.Meeting, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := s.load(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	readVersion := m.Version

	if err := fn(tx, m); err != nil {
		if errors.Is(err, meeting.ErrUnchanged) {
			return m, err
		}
		return nil, err
	}
	if err := commit(ctx, tx, m, readVersion); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, id string, expected, next meeting.Status, at time.Time) (*meeting.Meeting, error) {
	m, err := s.mutate(ctx, id, func(_ pgx.Tx, m *meeting.Meeting) error {
		return m.ApplyTransition(expected, next, at)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Meeting status changed",
		logging.MeetingID(id),
		logging.F("from", string(expected)),
		logging.F("to", string(next)),
		logging.F("version", m.Version))
	return m, nil
}

func (s *PostgresStore) RecordArtifact(ctx context.Context, id string, art meeting.Artifact) (*meeting.Meeting, bool, error) {
	m, err := s.mutate(ctx, id, func(tx pgx.Tx, m *meeting.Meeting) error {
		if err := m.RecordArtifact(art, s.now()); err != nil {
			return err
		}
		stored := m.Artifacts[art.Kind]
		tag, err := tx.Exec(ctx, `
			INSERT INTO meeting_artifacts (meeting_id, kind, value, recorded_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (meeting_id, kind) DO NOTHING
		`, id, string(stored.Kind), stored.Value, stored.RecordedAt)
		if err != nil {
			return fmt.Errorf("failed to insert artifact: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("meeting %s %s written concurrently: %w", id, art.Kind, mwerrors.ErrConflict)
		}
		return nil
	})
	if errors.Is(err, meeting.ErrUnchanged) {
		return m, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (s *PostgresStore) SetProcessingError(ctx context.Context, id, msg string) (*meeting.Meeting, error) {
	return s.mutate(ctx, id, func(_ pgx.Tx, m *meeting.Meeting) error {
		if m.Status != meeting.StatusProcessing {
			return fmt.Errorf("meeting %s is %s: %w", id, m.Status, mwerrors.ErrConflict)
		}
		m.ProcessingError = msg
		m.UpdatedAt = s.now()
		return nil
	})
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
