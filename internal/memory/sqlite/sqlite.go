// Package sqlite persists conversation sessions in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"flightrag/internal/domain"
	"flightrag/internal/memory"
)

var _ memory.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	user_id    TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT    NOT NULL,
	text       TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, seq)
)`

// Store keeps turns in a single table keyed by user and position.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the database file and its schema if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) Load(ctx context.Context, userID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role, text, created_at FROM turns WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("loading turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var (
			t    domain.Turn
			role string
			ts   int64
		)
		if err := rows.Scan(&role, &t.Text, &ts); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = domain.Role(role)
		t.Timestamp = time.Unix(0, ts).UTC()
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Save replaces the user's turns in one transaction.
func (s *Store) Save(ctx context.Context, userID string, turns []domain.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting turns: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO turns (user_id, seq, role, text, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()
	for i, t := range turns {
		if _, err := stmt.ExecContext(ctx, userID, i, string(t.Role), t.Text, t.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("inserting turn: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting turns: %w", err)
	}
	return nil
}
