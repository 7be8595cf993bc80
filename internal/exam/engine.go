// Package exam owns live exam sessions: in-memory answers, the elapsed-time
// clock, local and remote persistence, and submission.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/examprep/internal/grading"
	"github.com/pavelanni/examprep/internal/model"
)

// QuestionBank returns question trees by test ID.
type QuestionBank interface {
	GetTest(ctx context.Context, id string) (*model.Test, error)
}

// Engine is the registry of live sessions, keyed "<studentID>_<testID>".
type Engine struct {
	bank     QuestionBank
	local    LocalStore
	remote   RemoteStore
	executor *grading.Executor
	cfg      model.ExamConfig

	opening singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Session
	shutdown bool
}

// NewEngine creates an engine. remote may be nil to disable remote sync.
func NewEngine(bank QuestionBank, local LocalStore, remote RemoteStore, oracle grading.Oracle, cfg model.ExamConfig) *Engine {
	var opts []grading.Option
	if cfg.OracleTimeout > 0 {
		opts = append(opts, grading.WithTimeout(cfg.OracleTimeout))
	}
	if cfg.OracleLimit > 0 {
		opts = append(opts, grading.WithConcurrency(cfg.OracleLimit))
	}
	return &Engine{
		bank:     bank,
		local:    local,
		remote:   remote,
		executor: grading.NewExecutor(oracle, opts...),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Open returns the live session for the student and test, creating it from
// the stored snapshot if needed. identity enables remote sync when non-empty.
// A live anonymous session is closed and reopened when its owner opens it
// with an identity, so remote sync starts. A session that already syncs
// under an identity is returned as is; callers check who may see it.
func (e *Engine) Open(ctx context.Context, studentID, testID, identity string) (*Session, error) {
	if studentID == "" || testID == "" {
		return nil, errors.New("exam: student and test ids are required")
	}
	key := model.SnapshotKey(studentID, testID)

	for {
		s, err := e.lookupOrLoad(ctx, key, studentID, testID, identity)
		if err != nil {
			return nil, err
		}
		if identity == "" || s.Identity() != "" {
			return s, nil
		}
		slog.Info("reopening session with remote identity", "key", key, "identity", identity)
		e.evict(key, s)
	}
}

// lookupOrLoad returns the registered session or loads one without holding
// e.mu, so a slow remote load only delays callers opening the same key.
func (e *Engine) lookupOrLoad(ctx context.Context, key, studentID, testID, identity string) (*Session, error) {
	if s, ok := e.lookup(key); ok {
		return s, nil
	}
	v, err, _ := e.opening.Do(key, func() (any, error) {
		if s, ok := e.lookup(key); ok {
			return s, nil
		}
		s, err := e.load(context.WithoutCancel(ctx), studentID, testID, identity)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.shutdown {
			s.Close()
			return nil, ErrSessionClosed
		}
		e.sessions[key] = s
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (e *Engine) lookup(key string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[key]
	return s, ok
}

func (e *Engine) load(ctx context.Context, studentID, testID, identity string) (*Session, error) {
	test, err := e.bank.GetTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("load test %s: %w", testID, err)
	}

	loader := NewScheduler(e.local, e.remote, identity, studentID, testID, e.cfg.SyncDebounce, nil)
	snap, found, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	s := newSession(test, studentID, identity, snap, e.local, e.remote, e.executor, e.cfg)
	s.start()
	slog.Info("session opened", "key", s.Key(), "resumed", found, "elapsed", snap.ElapsedSeconds,
		"attempts", len(snap.Attempts), "remote_sync", identity != "" && e.remote != nil)
	return s, nil
}

// evict removes s from the registry if it is still registered under key
// and closes it.
func (e *Engine) evict(key string, s *Session) {
	e.mu.Lock()
	if e.sessions[key] == s {
		delete(e.sessions, key)
	}
	e.mu.Unlock()
	s.Close()
}

// Get returns a live session by key.
func (e *Engine) Get(key string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Keys returns the keys of all live sessions, sorted.
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.sessions))
	for k := range e.sessions {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Close tears down a session and removes it from the registry.
func (e *Engine) Close(key string) error {
	e.mu.Lock()
	s, ok := e.sessions[key]
	delete(e.sessions, key)
	e.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Shutdown closes every live session.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[string]*Session)
	e.shutdown = true
	e.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
