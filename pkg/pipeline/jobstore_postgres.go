package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	mwerrors "github.com/otherjamesbrown/meetwise/pkg/errors"
)

const uniqueViolation = "23505"

// PostgresJobStore persists jobs in pipeline_jobs. The partial unique index
// on live jobs per meeting enforces the single-live-job rule across
// processes.
type PostgresJobStore struct {
	pool *pgxpool.Pool
}

// NewPostgresJobStore creates a job store backed by pool.
func NewPostgresJobStore(pool *pgxpool.Pool) *PostgresJobStore {
	return &PostgresJobStore{pool: pool}
}

const jobColumns = `id, meeting_id, stage, attempt, last_error, version, created_at, updated_at`

func (s *PostgresJobStore) Create(ctx context.Context, job *Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_jobs (id, meeting_id, stage, attempt, last_error, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7)
	`, job.ID, job.MeetingID, string(job.Stage), job.Attempt, job.LastError, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("meeting %s has a live job: %w", job.MeetingID, mwerrors.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	job.Version = 1
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM pipeline_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, mwerrors.ErrNotFound)
	}
	return j, err
}

func (s *PostgresJobStore) Latest(ctx context.Context, meetingID string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM pipeline_jobs
		WHERE meeting_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, meetingID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no job for meeting %s: %w", meetingID, mwerrors.ErrNotFound)
	}
	return j, err
}

func (s *PostgresJobStore) Update(ctx context.Context, job *Job) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE pipeline_jobs
		SET stage = $3, attempt = $4, last_error = $5, updated_at = $6, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+jobColumns,
		job.ID, job.Version, string(job.Stage), job.Attempt, job.LastError, job.UpdatedAt)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.Get(ctx, job.ID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("job %s changed since version %d: %w", job.ID, job.Version, mwerrors.ErrConflict)
	}
	return j, err
}

func (s *PostgresJobStore) ListStale(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM pipeline_jobs
		WHERE stage NOT IN ('done', 'failed') AND updated_at < $1
		ORDER BY updated_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var stage string
	if err := row.Scan(&j.ID, &j.MeetingID, &stage, &j.Attempt, &j.LastError, &j.Version, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	j.Stage = Stage(stage)
	return &j, nil
}

var (
	_ JobStore = (*MemoryJobStore)(nil)
	_ JobStore = (*PostgresJobStore)(nil)
)
