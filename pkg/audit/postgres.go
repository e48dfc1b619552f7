package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRecorder writes to the meeting_audit table through
// database/sql. It uses its own small pool so audit writes never
// compete with lifecycle transactions for connections.
type PostgresRecorder struct {
	db *sql.DB
}

// OpenPostgresRecorder opens a recorder on dsn.
func OpenPostgresRecorder(dsn string) (*PostgresRecorder, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRecorder{db: db}, nil
}

// NewPostgresRecorder wraps an existing handle.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Close closes the database handle.
func (r *PostgresRecorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO meeting_audit (
			meeting_id, action, outcome, from_status, to_status, provider_event_id, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		e.MeetingID,
		string(e.Action),
		e.Outcome,
		e.FromStatus,
		e.ToStatus,
		e.ProviderEventID,
		e.Detail,
	)
	if err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) List(ctx context.Context, meetingID string, f Filter) ([]Entry, error) {
	query := `
		SELECT id, meeting_id, action, outcome, from_status, to_status,
			provider_event_id, detail, created_at
		FROM meeting_audit
		WHERE meeting_id = $1`
	args := []interface{}{meetingID}

	if len(f.Actions) > 0 {
		query += " AND action = ANY($2)"
		args = append(args, pq.Array(f.actionStrings()))
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		if err := rows.Scan(
			&e.ID, &e.MeetingID, &action, &e.Outcome, &e.FromStatus, &e.ToStatus,
			&e.ProviderEventID, &e.Detail, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
