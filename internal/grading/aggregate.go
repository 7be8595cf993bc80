package grading

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examprep/internal/model"
)

// LetterGrade maps a percentage to the fixed grade scale.
func LetterGrade(pct int) string {
	switch {
	case pct >= 90:
		return "A+"
	case pct >= 80:
		return "A"
	case pct >= 70:
		return "B+"
	case pct >= 60:
		return "B"
	case pct >= 50:
		return "C+"
	case pct >= 40:
		return "C"
	case pct >= 32:
		return "D"
	default:
		return "E"
	}
}

// Aggregate sums the results into an attempt record. Nil scores count as 0.
// The maximum is the test's declared total marks when present, otherwise the
// sum of per-result maxima.
func Aggregate(test *model.Test, results []model.GradingResult, elapsedSeconds int, now time.Time) model.AttemptRecord {
	sections := make(map[string]float64, len(test.Sections))
	for _, s := range test.Sections {
		sections[s.ID] = 0
	}

	var total, sumMax float64
	for _, r := range results {
		total += r.Points()
		sumMax += r.MaxScore
		sections[r.SectionID] += r.Points()
	}
	for k, v := range sections {
		sections[k] = round1(v)
	}

	maxScore := test.TotalMarks
	if maxScore <= 0 {
		maxScore = round1(sumMax)
	}
	total = round1(total)

	pct := 0
	if maxScore > 0 {
		pct = int(math.Round(total / maxScore * 100))
	}

	return model.AttemptRecord{
		ID:               uuid.NewString(),
		Timestamp:        now.UTC(),
		SectionScores:    sections,
		TotalScore:       total,
		MaxScore:         maxScore,
		Percentage:       pct,
		Grade:            LetterGrade(pct),
		TimeTakenSeconds: elapsedSeconds,
	}
}

// CountFailed returns how many results carry the oracle-failure marker.
func CountFailed(results []model.GradingResult) int {
	n := 0
	for _, r := range results {
		if r.Failed {
			n++
		}
	}
	return n
}
