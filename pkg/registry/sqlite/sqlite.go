// Package sqlite persists sandbox lifecycle records so an operator can see
// which sessions held which containers, including after a crash.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warrenlabs/warren/pkg/registry"
)

// Store implements registry.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ registry.Store = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs
// migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sandboxes (
		session_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		container_id TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sandboxes_state ON sandboxes(state);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put inserts or updates the record for rec.SessionID. The original
// created_at survives updates.
func (s *Store) Put(ctx context.Context, rec registry.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sandboxes (session_id, name, container_id, address, image, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			name = excluded.name,
			container_id = excluded.container_id,
			address = excluded.address,
			image = excluded.image,
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP`,
		rec.SessionID, rec.Name, rec.ContainerID, rec.Address, rec.Image, rec.State)
	if err != nil {
		return fmt.Errorf("upsert sandbox record: %w", err)
	}
	return nil
}

// Get returns the record for a session id.
func (s *Store) Get(ctx context.Context, sessionID string) (registry.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, name, container_id, address, image, state, created_at, updated_at
		FROM sandboxes WHERE session_id = ?`, sessionID)
	return scanRecord(row)
}

// List returns all records, most recently updated first.
func (s *Store) List(ctx context.Context) ([]registry.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, name, container_id, address, image, state, created_at, updated_at
		FROM sandboxes ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []registry.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (registry.Record, error) {
	var rec registry.Record
	err := sc.Scan(&rec.SessionID, &rec.Name, &rec.ContainerID, &rec.Address,
		&rec.Image, &rec.State, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return registry.Record{}, err
	}
	return rec, nil
}
