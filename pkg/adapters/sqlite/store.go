// Package sqlite provides SQLite-backed mutation and graph stores.
//
// The database runs in WAL mode with a single connection, so one process owns
// writes; the mutations table doubles as a durable outbox for the queue.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

var (
	_ ports.MutationStore = (*Store)(nil)
	_ ports.GraphStore    = (*Store)(nil)
)

// Store implements ports.MutationStore and ports.GraphStore on one database.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path. Use ":memory:" for a
// throwaway database. The schema is applied idempotently.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:" coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the mutation record.
func (s *Store) Save(ctx context.Context, m domain.Mutation) error {
	if m.ID == "" {
		return domain.Invalid("id", "required")
	}
	record, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mutations (id, type, entity_id, status, timestamp, retry_count, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			entity_id = excluded.entity_id,
			status = excluded.status,
			timestamp = excluded.timestamp,
			retry_count = excluded.retry_count,
			record = excluded.record`,
		m.ID, m.Type, m.EntityID, string(m.Status), m.Timestamp, m.RetryCount, string(record))
	if err != nil {
		return fmt.Errorf("failed to save mutation %s: %w", m.ID, err)
	}
	return nil
}

// Load retrieves the mutation record.
func (s *Store) Load(ctx context.Context, id string) (*domain.Mutation, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM mutations WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("mutation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mutation %s: %w", id, err)
	}
	var m domain.Mutation
	if err := json.Unmarshal([]byte(record), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mutation %s: %w", id, err)
	}
	return &m, nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete mutation %s: %w", id, err)
	}
	return nil
}

// List returns every record ordered by timestamp, then id.
func (s *Store) List(ctx context.Context) ([]domain.Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM mutations ORDER BY timestamp, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	out := []domain.Mutation{}
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		var m domain.Mutation
		if err := json.Unmarshal([]byte(record), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mutation %s: %w", id, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountByStatus reports how many records sit in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[domain.MutationStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM mutations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count mutations: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.MutationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out[domain.MutationStatus(status)] = n
	}
	return out, rows.Err()
}
