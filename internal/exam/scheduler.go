package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/examprep/internal/model"
	"github.com/pavelanni/examprep/internal/store"
)

// LocalStore persists progress on this device. GetSnapshot returns an error
// wrapping store.ErrNotFound when nothing is stored.
type LocalStore interface {
	GetSnapshot(ctx context.Context, studentID, testID string) (model.ProgressSnapshot, error)
	PutSnapshot(ctx context.Context, snap model.ProgressSnapshot) error
	SaveAnswers(ctx context.Context, studentID, testID string, answers model.AnswerTree, currentSection string) error
	SaveElapsed(ctx context.Context, studentID, testID string, elapsed int) error
}

// RemoteStore syncs progress across devices for an authenticated identity.
// Load returns nil, nil when nothing is stored.
type RemoteStore interface {
	Save(ctx context.Context, identity string, snap model.ProgressSnapshot) error
	Load(ctx context.Context, identity, testID string) (*model.ProgressSnapshot, error)
}

const remoteTimeout = 10 * time.Second

// Scheduler writes every change locally and pushes a debounced copy to the
// remote store.
type Scheduler struct {
	local     LocalStore
	remote    RemoteStore
	identity  string
	studentID string
	testID    string
	debounce  time.Duration
	snapshot  func() model.ProgressSnapshot

	mu     sync.Mutex
	timer  *time.Timer
	status model.SyncStatus
	gen    uint64 // bumped on every scheduled change
	closed bool

	pushMu sync.Mutex
}

// NewScheduler creates a scheduler. Remote sync is disabled when remote is
// nil or identity is empty. snapshot returns the full state to push.
func NewScheduler(local LocalStore, remote RemoteStore, identity, studentID, testID string, debounce time.Duration, snapshot func() model.ProgressSnapshot) *Scheduler {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Scheduler{
		local:     local,
		remote:    remote,
		identity:  identity,
		studentID: studentID,
		testID:    testID,
		debounce:  debounce,
		snapshot:  snapshot,
		status:    model.SyncSynced,
	}
}

func (s *Scheduler) syncEnabled() bool {
	return s.remote != nil && s.identity != ""
}

// Load returns the stored snapshot, preferring the local copy. A remote
// snapshot is copied into the local store. found is false for a fresh start.
func (s *Scheduler) Load(ctx context.Context) (snap model.ProgressSnapshot, found bool, err error) {
	snap, err = s.local.GetSnapshot(ctx, s.studentID, s.testID)
	if err == nil {
		return snap, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.ProgressSnapshot{}, false, fmt.Errorf("load local snapshot: %w", err)
	}
	if !s.syncEnabled() {
		return model.ProgressSnapshot{}, false, nil
	}

	rctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	remote, err := s.remote.Load(rctx, s.identity, s.testID)
	if err != nil {
		slog.Warn("remote snapshot load failed", "identity", s.identity, "test_id", s.testID, "error", err)
		return model.ProgressSnapshot{}, false, nil
	}
	if remote == nil {
		return model.ProgressSnapshot{}, false, nil
	}

	snap = *remote
	snap.StudentID, snap.TestID = s.studentID, s.testID
	if err := s.local.PutSnapshot(ctx, snap); err != nil {
		slog.Warn("seeding local snapshot failed", "key", model.SnapshotKey(s.studentID, s.testID), "error", err)
	}
	slog.Info("restored progress from remote", "identity", s.identity, "test_id", s.testID)
	return snap, true, nil
}

// Changed records a mutation: the answers and current section are written
// locally right away and a remote push is (re)scheduled.
func (s *Scheduler) Changed(ctx context.Context, answers model.AnswerTree, currentSection string) {
	if err := s.local.SaveAnswers(ctx, s.studentID, s.testID, answers, currentSection); err != nil {
		slog.Error("local save failed", "key", model.SnapshotKey(s.studentID, s.testID), "error", err)
	}
	s.schedule()
}

func (s *Scheduler) schedule() {
	if !s.syncEnabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.gen++
	s.status = model.SyncPending
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		_ = s.push(context.Background())
	})
}

// Flush cancels any pending debounce and pushes immediately.
func (s *Scheduler) Flush(ctx context.Context) error {
	if !s.syncEnabled() {
		return nil
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.push(ctx)
}

func (s *Scheduler) push(ctx context.Context) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	s.mu.Lock()
	closed, gen := s.closed, s.gen
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	snap := s.snapshot()
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	err := s.remote.Save(ctx, s.identity, snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status = model.SyncFailed
		slog.Warn("remote sync failed", "identity", s.identity, "test_id", s.testID, "error", err)
		return fmt.Errorf("remote sync: %w", err)
	}
	// A mutation that arrived during the push keeps the status pending.
	if s.gen == gen {
		s.status = model.SyncSynced
	}
	slog.Debug("remote sync ok", "identity", s.identity, "test_id", s.testID)
	return nil
}

// Status returns the remote sync state.
func (s *Scheduler) Status() model.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Close cancels the debounce timer and waits for an in-flight push.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	// Wait for an in-flight push.
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
}
