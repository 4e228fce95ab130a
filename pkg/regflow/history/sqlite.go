package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/sensorlab/regflow/pkg/regflow/entry"
)

// SQLiteStore persists transaction history to SQLite so diagnostics survive
// a process restart. Suitable for single-process use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) a history database at path. Use
// ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transaction_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			transaction_id INTEGER NOT NULL,
			trigger_event_id INTEGER NOT NULL,
			trigger_counter INTEGER NOT NULL,
			num_entries INTEGER NOT NULL,
			error_code INTEGER NOT NULL,
			completion_index INTEGER NOT NULL,
			submitted_at TEXT NOT NULL,
			completed_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_history_transaction_id
		ON transaction_history(transaction_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO transaction_history (
			transaction_id, trigger_event_id, trigger_counter,
			num_entries, error_code, completion_index,
			submitted_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.TransactionID, rec.TriggerEventID, rec.TriggerCounter,
		rec.NumEntries, int32(rec.ErrorCode), rec.CompletionIndex,
		rec.SubmittedAt.UTC().Format(time.RFC3339Nano),
		rec.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	return nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(n int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT transaction_id, trigger_event_id, trigger_counter,
		       num_entries, error_code, completion_index,
		       submitted_at, completed_at
		FROM transaction_history
		ORDER BY seq DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var code int32
		var submitted, completed string
		if err := rows.Scan(
			&rec.TransactionID, &rec.TriggerEventID, &rec.TriggerCounter,
			&rec.NumEntries, &code, &rec.CompletionIndex,
			&submitted, &completed,
		); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		rec.ErrorCode = entry.Code(code)
		if rec.SubmittedAt, err = time.Parse(time.RFC3339Nano, submitted); err != nil {
			return nil, fmt.Errorf("parse submitted_at: %w", err)
		}
		if rec.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
