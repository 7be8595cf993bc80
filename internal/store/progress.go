package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examprep/internal/model"
)

const snapshotColumns = `student_id, test_id, answers, current_section, elapsed_seconds, attempts, last_saved_at`

// GetSnapshot returns the local progress snapshot, or ErrNotFound.
func (s *Store) GetSnapshot(ctx context.Context, studentID, testID string) (model.ProgressSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM progress_snapshots WHERE key = ?`,
		model.SnapshotKey(studentID, testID),
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProgressSnapshot{}, fmt.Errorf("snapshot %s: %w", model.SnapshotKey(studentID, testID), ErrNotFound)
	}
	return snap, err
}

// PutSnapshot writes every field of a snapshot in one statement.
func (s *Store) PutSnapshot(ctx context.Context, snap model.ProgressSnapshot) error {
	answers, err := json.Marshal(nonNilAnswers(snap.Answers))
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	attempts, err := json.Marshal(nonNilAttempts(snap.Attempts))
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	savedAt := snap.LastSavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO progress_snapshots (key, `+snapshotColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   answers = excluded.answers, current_section = excluded.current_section,
		   elapsed_seconds = excluded.elapsed_seconds, attempts = excluded.attempts,
		   last_saved_at = excluded.last_saved_at`,
		model.SnapshotKey(snap.StudentID, snap.TestID), snap.StudentID, snap.TestID,
		string(answers), snap.CurrentSection, snap.ElapsedSeconds, string(attempts), savedAt,
	)
	return err
}

// SaveAnswers updates only the answers and current section, creating the
// row if needed. Attempts and elapsed time are left as stored.
func (s *Store) SaveAnswers(ctx context.Context, studentID, testID string, answers model.AnswerTree, currentSection string) error {
	data, err := json.Marshal(nonNilAnswers(answers))
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO progress_snapshots (key, student_id, test_id, answers, current_section, last_saved_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   answers = excluded.answers, current_section = excluded.current_section,
		   last_saved_at = excluded.last_saved_at`,
		model.SnapshotKey(studentID, testID), studentID, testID, string(data), currentSection, time.Now().UTC(),
	)
	return err
}

// SaveElapsed updates only the elapsed seconds, creating the row if needed.
func (s *Store) SaveElapsed(ctx context.Context, studentID, testID string, elapsed int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_snapshots (key, student_id, test_id, elapsed_seconds, last_saved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   elapsed_seconds = excluded.elapsed_seconds, last_saved_at = excluded.last_saved_at`,
		model.SnapshotKey(studentID, testID), studentID, testID, elapsed, time.Now().UTC(),
	)
	return err
}

// ListAttempts returns the attempt history of a student on one test, oldest first.
func (s *Store) ListAttempts(ctx context.Context, studentID, testID string) ([]model.AttemptRecord, error) {
	snap, err := s.GetSnapshot(ctx, studentID, testID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap.Attempts, nil
}

// ListSnapshots returns every snapshot of a student, ordered by test.
func (s *Store) ListSnapshots(ctx context.Context, studentID string) ([]model.ProgressSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM progress_snapshots WHERE student_id = ? ORDER BY test_id`,
		studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var snaps []model.ProgressSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (model.ProgressSnapshot, error) {
	var (
		snap     model.ProgressSnapshot
		answers  string
		attempts string
	)
	err := row.Scan(&snap.StudentID, &snap.TestID, &answers, &snap.CurrentSection,
		&snap.ElapsedSeconds, &attempts, &snap.LastSavedAt)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(answers), &snap.Answers); err != nil {
		return snap, fmt.Errorf("decode answers: %w", err)
	}
	if err := json.Unmarshal([]byte(attempts), &snap.Attempts); err != nil {
		return snap, fmt.Errorf("decode attempts: %w", err)
	}
	return snap, nil
}

func nonNilAnswers(a model.AnswerTree) model.AnswerTree {
	if a == nil {
		return model.AnswerTree{}
	}
	return a
}

func nonNilAttempts(a []model.AttemptRecord) []model.AttemptRecord {
	if a == nil {
		return []model.AttemptRecord{}
	}
	return a
}
