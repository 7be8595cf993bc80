package exam

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/pavelanni/examprep/internal/grading"
)

var (
	// ErrSessionClosed is returned by operations on a torn-down session.
	ErrSessionClosed = errors.New("exam: session closed")
	// ErrSessionNotFound is returned when no live session has the given key.
	ErrSessionNotFound = errors.New("exam: session not found")
	// ErrSubmitting is returned for edits made while a submission is being graded.
	ErrSubmitting = errors.New("exam: submission in progress")
)

// IncompleteError gates a submission with unanswered units until the
// student confirms.
type IncompleteError struct {
	Incomplete int
	Total      int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("exam: %d of %d questions unanswered", e.Incomplete, e.Total)
}

// SubmitError is a fatal submission failure. The stored snapshot is left
// as it was and the submission may be retried from the start.
type SubmitError struct {
	// Network is set when the cause looks like a connectivity problem.
	Network bool
	Err     error
}

func (e *SubmitError) Error() string {
	return "exam: submit failed: " + e.Err.Error()
}

func (e *SubmitError) Unwrap() error { return e.Err }

func newSubmitError(err error) *SubmitError {
	return &SubmitError{Network: isNetworkError(err), Err: err}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, grading.ErrOracleUnavailable):
		return true
	}
	return false
}
