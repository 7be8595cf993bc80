package exam

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pavelanni/examprep/internal/grading"
	"github.com/pavelanni/examprep/internal/model"
)

// Session is one student working on one test. Its methods are safe for
// concurrent use.
type Session struct {
	key       string
	studentID string
	testID    string
	identity  string
	test      *model.Test

	local    LocalStore
	executor *grading.Executor
	timer    *Timer
	sched    *Scheduler
	now      func() time.Time

	mu       sync.Mutex
	answers  model.AnswerTree
	section  string
	attempts []model.AttemptRecord
	closed   bool

	submitMu sync.Mutex
}

// State is the view of a session handed to the presentation layer.
type State struct {
	Key                string           `json:"key"`
	TestID             string           `json:"testId"`
	Answers            model.AnswerTree `json:"answers"`
	CurrentSection     string           `json:"currentSection"`
	ElapsedSeconds     int              `json:"elapsedSeconds"`
	IsPaused           bool             `json:"isPaused"`
	TimerState         string           `json:"timerState"`
	SyncStatus         model.SyncStatus `json:"syncStatus"`
	ProgressPercentage int              `json:"progressPercentage"`
	AnsweredCount      int              `json:"answeredCount"`
	IncompleteCount    int              `json:"incompleteCount"`
	Attempts           int              `json:"attempts"`
}

func newSession(test *model.Test, studentID, identity string, snap model.ProgressSnapshot, local LocalStore, remote RemoteStore, executor *grading.Executor, cfg model.ExamConfig) *Session {
	s := &Session{
		key:       model.SnapshotKey(studentID, test.ID),
		studentID: studentID,
		testID:    test.ID,
		identity:  identity,
		test:      test,
		local:     local,
		executor:  executor,
		now:       time.Now,
		answers:   snap.Answers,
		section:   snap.CurrentSection,
		attempts:  snap.Attempts,
	}
	if s.answers == nil {
		s.answers = model.AnswerTree{}
	}
	s.sched = NewScheduler(local, remote, identity, studentID, test.ID, cfg.SyncDebounce, s.Snapshot)
	s.timer = NewTimer(snap.ElapsedSeconds, cfg.AutosaveInterval, s.saveElapsed)
	return s
}

// Key returns the session key, "<studentID>_<testID>".
func (s *Session) Key() string { return s.key }

// StudentID returns the student the session belongs to.
func (s *Session) StudentID() string { return s.studentID }

// Test returns the question tree.
func (s *Session) Test() *model.Test { return s.test }

// Identity returns the remote-sync identity, or "" for an anonymous session.
func (s *Session) Identity() string { return s.identity }

// SetAnswer stores value at path, replacing whatever was there, and
// persists the change.
func (s *Session) SetAnswer(ctx context.Context, path []string, value string) error {
	if len(path) == 0 {
		return fmt.Errorf("exam: empty answer path")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	s.answers = s.answers.With(path, value)
	s.sched.Changed(ctx, s.answers, s.section)
	return nil
}

// SetSection records the section the student is viewing.
func (s *Session) SetSection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	s.section = id
	s.sched.Changed(ctx, s.answers, s.section)
	return nil
}

// TogglePause pauses or resumes the clock and reports whether it is now paused.
func (s *Session) TogglePause() (bool, error) {
	if s.isClosed() {
		return false, ErrSessionClosed
	}
	return s.timer.TogglePause(), nil
}

// SetHidden pauses the clock while the exam is not visible.
func (s *Session) SetHidden(hidden bool) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if hidden {
		s.timer.Hide()
	} else {
		s.timer.Show()
	}
	return nil
}

// State returns the current view of the session.
func (s *Session) State() State {
	s.mu.Lock()
	answers, section, attempts := s.answers, s.section, len(s.attempts)
	s.mu.Unlock()

	progress := grading.Completion(s.test, answers)
	state := s.timer.State()
	return State{
		Key:                s.key,
		TestID:             s.testID,
		Answers:            answers,
		CurrentSection:     section,
		ElapsedSeconds:     s.timer.Elapsed(),
		IsPaused:           state != Running,
		TimerState:         state.String(),
		SyncStatus:         s.sched.Status(),
		ProgressPercentage: progress.Percentage,
		AnsweredCount:      progress.Answered,
		IncompleteCount:    progress.Incomplete,
		Attempts:           attempts,
	}
}

// Snapshot returns the persisted form of the session.
func (s *Session) Snapshot() model.ProgressSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.ProgressSnapshot{
		StudentID:      s.studentID,
		TestID:         s.testID,
		Answers:        s.answers,
		CurrentSection: s.section,
		ElapsedSeconds: s.timer.Elapsed(),
		LastSavedAt:    s.now().UTC(),
		Attempts:       slices.Clone(s.attempts),
	}
}

// Attempts returns the attempt history, oldest first.
func (s *Session) Attempts() []model.AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.attempts)
}

// Submit grades the current answers. With unanswered units and confirmed
// false it returns *IncompleteError without side effects. On success the
// attempt is appended, the working answers and clock are reset for a
// retake and the result is returned. Fatal failures return *SubmitError,
// leave the stored snapshot untouched and may be retried.
func (s *Session) Submit(ctx context.Context, confirmed bool) (model.Result, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	// The clock is frozen under s.mu so no edit lands between taking the
	// answers and grading them.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.Result{}, ErrSessionClosed
	}
	answers := s.answers
	progress := grading.Completion(s.test, answers)
	if progress.Incomplete > 0 && !confirmed {
		s.mu.Unlock()
		return model.Result{}, &IncompleteError{Incomplete: progress.Incomplete, Total: progress.Total}
	}
	elapsed := s.timer.Freeze()
	s.mu.Unlock()

	slog.Info("grading submission", "key", s.key, "answered", progress.Answered, "total", progress.Total, "elapsed", elapsed)

	results, attempt, err := s.grade(ctx, answers, elapsed)
	if err != nil {
		s.timer.Thaw()
		slog.Error("submission failed", "key", s.key, "error", err)
		return model.Result{}, newSubmitError(err)
	}

	if err := s.commit(ctx, attempt); err != nil {
		s.timer.Thaw()
		slog.Error("saving attempt failed", "key", s.key, "error", err)
		return model.Result{}, newSubmitError(err)
	}

	// The attempt is stored locally; remote failures only change the sync status.
	_ = s.sched.Flush(ctx)

	failed := grading.CountFailed(results)
	slog.Info("submission graded", "key", s.key, "score", attempt.TotalScore, "max", attempt.MaxScore,
		"grade", attempt.Grade, "failed", failed)
	return model.Result{TestID: s.testID, Results: results, Attempt: attempt, Failed: failed}, nil
}

// grade builds and runs the plan. A panic while grading is reported as an
// error so the student can retry.
func (s *Session) grade(ctx context.Context, answers model.AnswerTree, elapsed int) (results []model.GradingResult, attempt model.AttemptRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("grading panicked: %v", r)
		}
	}()

	plan, err := grading.BuildPlan(s.test, answers)
	if err != nil {
		return nil, model.AttemptRecord{}, fmt.Errorf("build grading plan: %w", err)
	}
	slog.Debug("grading plan", "key", s.key, "tasks", len(plan.Tasks), "oracle", plan.OracleCount(), "skipped", len(plan.Skipped))

	results = s.executor.Execute(ctx, plan)
	attempt = grading.Aggregate(s.test, results, elapsed, s.now())
	return results, attempt, nil
}

// commit writes the new attempt and the reset working state in one local
// write, then applies it in memory.
func (s *Session) commit(ctx context.Context, attempt model.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	attempts := append(slices.Clone(s.attempts), attempt)
	snap := model.ProgressSnapshot{
		StudentID:   s.studentID,
		TestID:      s.testID,
		Answers:     model.AnswerTree{},
		LastSavedAt: s.now().UTC(),
		Attempts:    attempts,
	}
	if err := s.local.PutSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}

	s.attempts = attempts
	s.answers = model.AnswerTree{}
	s.section = ""
	s.timer.Reset()
	return nil
}

// start launches the clock.
func (s *Session) start() {
	s.timer.Run(context.Background())
}

// Close stops the clock, persists the elapsed time and cancels any pending
// remote sync. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.timer.Stop()
	s.sched.Close()
	slog.Info("session closed", "key", s.key)
}

// editableLocked reports whether answers may change. s.mu must be held.
func (s *Session) editableLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.timer.State() == PausedSubmitting {
		return ErrSubmitting
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) saveElapsed(elapsed int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.local.SaveElapsed(ctx, s.studentID, s.testID, elapsed); err != nil {
		slog.Error("saving elapsed time failed", "key", s.key, "error", err)
	}
}
