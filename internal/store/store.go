package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavelanni/examprep/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a test or snapshot does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tests (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL,
		total_marks REAL NOT NULL DEFAULT 0,
		doc TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS progress_snapshots (
		key TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		test_id TEXT NOT NULL,
		answers TEXT NOT NULL DEFAULT '{}',
		current_section TEXT NOT NULL DEFAULT '',
		elapsed_seconds INTEGER NOT NULL DEFAULT 0,
		attempts TEXT NOT NULL DEFAULT '[]',
		last_saved_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_progress_student ON progress_snapshots(student_id);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS exam_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// PutTest stores a test document, replacing any previous version.
func (s *Store) PutTest(ctx context.Context, t model.Test) error {
	if t.ID == "" {
		return errors.New("test id is required")
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal test %s: %w", t.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tests (id, title, format, total_marks, doc, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title, format = excluded.format,
		   total_marks = excluded.total_marks, doc = excluded.doc,
		   updated_at = excluded.updated_at`,
		t.ID, t.Title, t.Format, t.TotalMarks, string(doc),
	)
	return err
}

// GetTest returns a test by ID, or ErrNotFound.
func (s *Store) GetTest(ctx context.Context, id string) (*model.Test, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM tests WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("test %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var t model.Test
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("decode test %s: %w", id, err)
	}
	return &t, nil
}

// TestSummary is a question-bank listing row.
type TestSummary struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Format     model.Format `json:"format"`
	TotalMarks float64      `json:"total_marks"`
}

// ListTests returns a summary of every test in the question bank.
func (s *Store) ListTests(ctx context.Context) ([]TestSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, format, total_marks FROM tests ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tests []TestSummary
	for rows.Next() {
		var t TestSummary
		if err := rows.Scan(&t.ID, &t.Title, &t.Format, &t.TotalMarks); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// TestCount returns the number of tests in the question bank.
func (s *Store) TestCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tests`).Scan(&count)
	return count, err
}
