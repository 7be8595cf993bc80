package grading

import (
	"context"
	"errors"

	"github.com/pavelanni/examprep/internal/model"
)

// ErrOracleUnavailable is returned by oracles that cannot reach their backend.
var ErrOracleUnavailable = errors.New("grading oracle unavailable")

// OracleRequest is the logical request sent to the free-text grader.
type OracleRequest struct {
	Question     string
	Answer       string
	Marks        float64
	SampleAnswer string
	Format       model.Format
}

// OracleResponse is the grader's verdict.
type OracleResponse struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Oracle scores free-text answers. Implementations must treat any
// transport failure, non-success status or malformed payload as an error.
type Oracle interface {
	Grade(ctx context.Context, req OracleRequest) (OracleResponse, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, req OracleRequest) (OracleResponse, error)

// Grade calls f.
func (f OracleFunc) Grade(ctx context.Context, req OracleRequest) (OracleResponse, error) {
	return f(ctx, req)
}
