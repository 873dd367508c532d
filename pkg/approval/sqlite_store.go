package approval

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warden-systems/warden/core/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists approval records in SQLite for single-node runs.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS approval_records (
        action_id TEXT PRIMARY KEY,
        status TEXT NOT NULL,
        reason TEXT,
        created_at DATETIME NOT NULL,
        decided_at DATETIME,
        decided_by TEXT,
        expires_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_approval_status ON approval_records(status);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, rec *contracts.ApprovalRecord) error {
	query := `INSERT INTO approval_records (action_id, status, reason, created_at, decided_at, decided_by, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	var decidedAt any
	if rec.DecidedAt != nil {
		decidedAt = rec.DecidedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.ActionID, string(rec.Status), rec.Reason,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), decidedAt, rec.DecidedBy,
		rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, actionID string) (*contracts.ApprovalRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT action_id, status, reason, created_at, decided_at, decided_by, expires_at
        FROM approval_records WHERE action_id = ?`, actionID)
	return scanApprovalRow(row)
}

func (s *SQLiteStore) Update(ctx context.Context, rec *contracts.ApprovalRecord) error {
	var decidedAt any
	if rec.DecidedAt != nil {
		decidedAt = rec.DecidedAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE approval_records SET status = ?, decided_at = ?, decided_by = ? WHERE action_id = ?`,
		string(rec.Status), decidedAt, rec.DecidedBy, rec.ActionID)
	if err != nil {
		return fmt.Errorf("failed to update approval record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]*contracts.ApprovalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT action_id, status, reason, created_at, decided_at, decided_by, expires_at
        FROM approval_records WHERE status = ? ORDER BY created_at ASC`,
		string(contracts.ApprovalPending))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*contracts.ApprovalRecord
	for rows.Next() {
		rec, err := scanApprovalRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(scanner rowScanner) (*contracts.ApprovalRecord, error) {
	var (
		actionID  string
		status    string
		reason    sql.NullString
		createdAt string
		decidedAt sql.NullString
		decidedBy sql.NullString
		expiresAt string
	)
	if err := scanner.Scan(&actionID, &status, &reason, &createdAt, &decidedAt, &decidedBy, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	rec := &contracts.ApprovalRecord{
		ActionID:  actionID,
		Status:    contracts.ApprovalStatus(status),
		Reason:    reason.String,
		CreatedAt: parseTime(createdAt),
		DecidedBy: decidedBy.String,
		ExpiresAt: parseTime(expiresAt),
	}
	if decidedAt.Valid && decidedAt.String != "" {
		t := parseTime(decidedAt.String)
		rec.DecidedAt = &t
	}
	return rec, nil
}

func scanApprovalRow(row *sql.Row) (*contracts.ApprovalRecord, error)   { return scanApproval(row) }
func scanApprovalRows(rows *sql.Rows) (*contracts.ApprovalRecord, error) { return scanApproval(rows) }

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
