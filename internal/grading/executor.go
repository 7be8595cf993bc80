package grading

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	appI18n "github.com/pavelanni/examprep/internal/i18n"
	"github.com/pavelanni/examprep/internal/model"
)

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout bounds each oracle call.
func WithTimeout(d time.Duration) Option { return func(e *Executor) { e.timeout = d } }

// WithConcurrency caps in-flight oracle calls (0 = unlimited).
func WithConcurrency(n int) Option { return func(e *Executor) { e.limit = n } }

// Executor runs a grading plan: auto tasks locally, oracle tasks concurrently.
type Executor struct {
	oracle  Oracle
	timeout time.Duration
	limit   int
}

// NewExecutor creates an executor. A nil oracle fails every oracle task.
func NewExecutor(o Oracle, opts ...Option) *Executor {
	e := &Executor{oracle: o, timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute grades every task and returns one result per plan unit, sorted in
// question-tree order. A failing oracle call never affects its siblings;
// Execute returns only after every dispatched call has settled.
func (e *Executor) Execute(ctx context.Context, plan Plan) []model.GradingResult {
	results := make([]model.GradingResult, len(plan.Tasks))

	var g errgroup.Group
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i, task := range plan.Tasks {
		if task.Kind == model.TaskAuto {
			results[i] = gradeAuto(ctx, task)
			continue
		}
		g.Go(func() error {
			results[i] = e.gradeOracle(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	results = append(results, plan.Skipped...)
	slices.SortStableFunc(results, func(a, b model.GradingResult) int {
		return a.Order - b.Order
	})
	return results
}

func gradeAuto(ctx context.Context, task model.GradingTask) model.GradingResult {
	var ok bool
	switch task.Match {
	case model.MatchPosition:
		ok = positionMatch(task.StudentAnswer, task.Expected)
	case model.MatchContains:
		ok = exactMatch(task.StudentAnswer, task.Expected) || containsMatch(task.StudentAnswer, task.Expected)
	default:
		ok = exactMatch(task.StudentAnswer, task.Expected)
		for _, alias := range task.Accept {
			ok = ok || exactMatch(task.StudentAnswer, alias)
		}
	}

	res := newResult(task)
	score := 0.0
	if ok {
		score = task.Marks
		res.Feedback = appI18n.T(ctx, "FeedbackCorrect")
	} else {
		res.Feedback = appI18n.Td(ctx, "FeedbackIncorrectExpected", map[string]any{"Expected": task.Expected})
	}
	res.Score = &score
	return res
}

func (e *Executor) gradeOracle(ctx context.Context, task model.GradingTask) model.GradingResult {
	res := newResult(task)
	if e.oracle == nil {
		return e.failed(ctx, task, res, ErrOracleUnavailable)
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.oracle.Grade(callCtx, OracleRequest{
		Question:     task.QuestionText,
		Answer:       task.StudentAnswer,
		Marks:        task.Marks,
		SampleAnswer: task.SampleAnswer,
		Format:       task.Format,
	})
	if err != nil {
		return e.failed(ctx, task, res, err)
	}

	score := round1(min(max(resp.Score, 0), task.Marks))
	res.Score = &score
	res.Feedback = resp.Feedback
	if res.Feedback == "" {
		res.Feedback = scoreFeedback(ctx, score, task.Marks)
	}
	return res
}

// scoreFeedback is used when the oracle returns a score without comments.
func scoreFeedback(ctx context.Context, score, marks float64) string {
	switch {
	case score >= marks:
		return appI18n.T(ctx, "FeedbackCorrect")
	case score > 0:
		return appI18n.Td(ctx, "FeedbackPartial", map[string]any{"Score": score, "Marks": marks})
	default:
		return appI18n.T(ctx, "FeedbackIncorrect")
	}
}

// failed records an oracle failure. Math distinguishes "not graded" (nil)
// from "graded 0".
func (e *Executor) failed(ctx context.Context, task model.GradingTask, res model.GradingResult, err error) model.GradingResult {
	slog.Warn("oracle grading failed", "task", task.ID, "error", err)
	res.Failed = true
	if task.Format == model.FormatMath {
		res.Score = nil
		res.Feedback = appI18n.T(ctx, "NotGraded")
		return res
	}
	zero := 0.0
	res.Score = &zero
	res.Feedback = appI18n.T(ctx, "OracleFailed")
	return res
}

func newResult(task model.GradingTask) model.GradingResult {
	return model.GradingResult{
		ID:            task.ID,
		Order:         task.Order,
		SectionID:     task.SectionID,
		QuestionRef:   task.QuestionRef,
		QuestionText:  task.QuestionText,
		Kind:          task.Kind,
		MaxScore:      task.Marks,
		StudentAnswer: task.StudentAnswer,
		Expected:      task.Expected,
	}
}
