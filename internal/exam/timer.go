package exam

import (
	"context"
	"sync"
	"time"
)

// TimerState is the state of the elapsed-time clock.
type TimerState int

const (
	Running TimerState = iota
	PausedManual
	PausedHidden
	PausedSubmitting
)

func (s TimerState) String() string {
	switch s {
	case Running:
		return "running"
	case PausedManual:
		return "paused"
	case PausedHidden:
		return "hidden"
	case PausedSubmitting:
		return "submitting"
	}
	return "unknown"
}

// Timer counts whole seconds while Running. Elapsed time only grows,
// except through Reset after a submission.
type Timer struct {
	mu       sync.Mutex
	state    TimerState
	frozen   TimerState // state to restore on Thaw
	elapsed  int
	lastSave int

	persist  func(elapsed int)
	tick     time.Duration
	autosave time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTimer creates a running timer starting at elapsed seconds. persist is
// called with the elapsed seconds on autosave, on Hide and on Stop; it may
// be nil.
func NewTimer(elapsed int, autosave time.Duration, persist func(elapsed int)) *Timer {
	if autosave <= 0 {
		autosave = 30 * time.Second
	}
	return &Timer{
		state:    Running,
		elapsed:  elapsed,
		lastSave: elapsed,
		persist:  persist,
		tick:     time.Second,
		autosave: autosave,
	}
}

// Tick advances the clock by one second if it is running.
func (t *Timer) Tick() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Running {
		t.elapsed++
	}
	return t.elapsed
}

// Elapsed returns the elapsed seconds.
func (t *Timer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

// State returns the current state.
func (t *Timer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Paused reports whether the clock is stopped for any reason.
func (t *Timer) Paused() bool {
	return t.State() != Running
}

// Hide pauses a running clock when the exam is not visible and persists
// the elapsed time immediately.
func (t *Timer) Hide() {
	t.mu.Lock()
	if t.state == Running {
		t.state = PausedHidden
	}
	t.mu.Unlock()
	t.save(true)
}

// Show resumes a clock paused by Hide. A manual pause survives visibility changes.
func (t *Timer) Show() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == PausedHidden {
		t.state = Running
	}
}

// TogglePause switches between Running and PausedManual and reports
// whether the clock is now paused. It has no effect while submitting.
func (t *Timer) TogglePause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case Running:
		t.state = PausedManual
	case PausedManual, PausedHidden:
		t.state = Running
	}
	return t.state != Running
}

// Freeze stops the clock for a submission.
func (t *Timer) Freeze() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != PausedSubmitting {
		t.frozen = t.state
		t.state = PausedSubmitting
	}
	return t.elapsed
}

// Thaw restores the state held before Freeze.
func (t *Timer) Thaw() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == PausedSubmitting {
		t.state = t.frozen
	}
}

// Reset zeroes the clock for a retake and leaves it paused until the
// student resumes.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.elapsed = 0
	t.lastSave = 0
	t.state = PausedManual
}

// Run drives Tick once per second and autosaves until ctx is done or Stop
// is called.
func (t *Timer) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		cancel()
		return
	}
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.tick)
		defer ticker.Stop()
		save := time.NewTicker(t.autosave)
		defer save.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Tick()
			case <-save.C:
				t.save(false)
			}
		}
	}()
}

// Stop cancels the tick and autosave loop and persists the final value.
func (t *Timer) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	t.save(false)
}

// save persists the elapsed time, skipping unchanged values unless forced.
func (t *Timer) save(force bool) {
	t.mu.Lock()
	elapsed := t.elapsed
	changed := elapsed != t.lastSave
	t.lastSave = elapsed
	t.mu.Unlock()

	if t.persist != nil && (force || changed) {
		t.persist(elapsed)
	}
}
