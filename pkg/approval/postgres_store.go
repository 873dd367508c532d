package approval

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warden-systems/warden/core/pkg/contracts"

	_ "github.com/lib/pq"
)

// PostgresStore persists approval records in PostgreSQL for deployments
// where the approval trail must survive the process.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the approval_records table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS approval_records (
			action_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			decided_at TIMESTAMPTZ,
			decided_by TEXT,
			expires_at TIMESTAMPTZ NOT NULL
		)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, rec *contracts.ApprovalRecord) error {
	query := `
		INSERT INTO approval_records (action_id, status, reason, created_at, decided_at, decided_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ActionID, string(rec.Status), rec.Reason, rec.CreatedAt, rec.DecidedAt, nullIfEmpty(rec.DecidedBy), rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert approval record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, actionID string) (*contracts.ApprovalRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT action_id, status, reason, created_at, decided_at, decided_by, expires_at FROM approval_records WHERE action_id = $1",
		actionID)

	var rec contracts.ApprovalRecord
	var status string
	var reason, decidedBy sql.NullString
	var decidedAt sql.NullTime
	err := row.Scan(&rec.ActionID, &status, &reason, &rec.CreatedAt, &decidedAt, &decidedBy, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval record: %w", err)
	}

	rec.Status = contracts.ApprovalStatus(status)
	rec.Reason = reason.String
	rec.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		t := decidedAt.Time
		rec.DecidedAt = &t
	}
	return &rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, rec *contracts.ApprovalRecord) error {
	query := `
		UPDATE approval_records SET status = $2, decided_at = $3, decided_by = $4
		WHERE action_id = $1
	`
	res, err := s.db.ExecContext(ctx, query, rec.ActionID, string(rec.Status), rec.DecidedAt, nullIfEmpty(rec.DecidedBy))
	if err != nil {
		return fmt.Errorf("failed to update approval record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]*contracts.ApprovalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT action_id, status, reason, created_at, decided_at, decided_by, expires_at FROM approval_records WHERE status = $1 ORDER BY created_at ASC",
		string(contracts.ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*contracts.ApprovalRecord
	for rows.Next() {
		var rec contracts.ApprovalRecord
		var status string
		var reason, decidedBy sql.NullString
		var decidedAt sql.NullTime
		if err := rows.Scan(&rec.ActionID, &status, &reason, &rec.CreatedAt, &decidedAt, &decidedBy, &rec.ExpiresAt); err != nil {
			return nil, err
		}
		rec.Status = contracts.ApprovalStatus(status)
		rec.Reason = reason.String
		rec.DecidedBy = decidedBy.String
		if decidedAt.Valid {
			t := decidedAt.Time
			rec.DecidedAt = &t
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
