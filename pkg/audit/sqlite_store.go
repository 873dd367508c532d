package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit entries durably. It is fed through a Log
// handler so the in-memory chain stays authoritative for hashing order.
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
    CREATE TABLE IF NOT EXISTS audit_entries (
        entry_id TEXT PRIMARY KEY,
        sequence INTEGER NOT NULL,
        timestamp DATETIME NOT NULL,
        action_id TEXT NOT NULL,
        service TEXT,
        stage TEXT NOT NULL,
        result TEXT,
        error TEXT,
        metadata JSON,
        previous_hash TEXT NOT NULL,
        entry_hash TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_entries(action_id);
    CREATE INDEX IF NOT EXISTS idx_audit_stage ON audit_entries(stage);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Save inserts one entry. There is no update or delete path.
func (s *SQLiteStore) Save(ctx context.Context, e *Entry) error {
	query := `INSERT INTO audit_entries (
		entry_id, sequence, timestamp, action_id, service, stage, result, error, metadata, previous_hash, entry_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	metaJSON, _ := json.Marshal(e.Metadata)
	timestamp := e.Timestamp.UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, query,
		e.EntryID, e.Sequence, timestamp, e.ActionID, e.Service, string(e.Stage), e.Result, e.Error, string(metaJSON), e.PreviousHash, e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Handler returns an EntryHandler that persists entries, for attaching to a
// Log. Persistence failures are reported through onError rather than
// blocking the chain append.
func (s *SQLiteStore) Handler(onError func(error)) EntryHandler {
	return func(entry *Entry) {
		if err := s.Save(context.Background(), entry); err != nil && onError != nil {
			onError(err)
		}
	}
}

// ForAction returns all persisted entries for an action in sequence order.
func (s *SQLiteStore) ForAction(ctx context.Context, actionID string) ([]*Entry, error) {
	query := `
        SELECT entry_id, sequence, timestamp, action_id, service, stage, result, error, metadata, previous_hash, entry_hash
        FROM audit_entries
        WHERE action_id = ?
        ORDER BY sequence ASC
    `
	rows, err := s.db.QueryContext(ctx, query, actionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// List returns the most recent entries up to limit.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	query := `
        SELECT entry_id, sequence, timestamp, action_id, service, stage, result, error, metadata, previous_hash, entry_hash
        FROM audit_entries
        ORDER BY sequence DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanEntryRow(rows *sql.Rows) (*Entry, error) {
	var (
		entryID      string
		sequence     uint64
		timestamp    string
		actionID     string
		service      sql.NullString
		stage        string
		result       sql.NullString
		errText      sql.NullString
		metaJSON     sql.NullString
		previousHash string
		entryHash    string
	)
	if err := rows.Scan(&entryID, &sequence, &timestamp, &actionID, &service, &stage, &result, &errText, &metaJSON, &previousHash, &entryHash); err != nil {
		return nil, err
	}

	var meta map[string]string
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		_ = json.Unmarshal([]byte(metaJSON.String), &meta)
	}

	return &Entry{
		EntryID:      entryID,
		Sequence:     sequence,
		Timestamp:    parseTime(timestamp),
		ActionID:     actionID,
		Service:      service.String,
		Stage:        Stage(stage),
		Result:       result.String,
		Error:        errText.String,
		Metadata:     meta,
		PreviousHash: previousHash,
		EntryHash:    entryHash,
	}, nil
}

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
