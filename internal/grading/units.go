package grading

import (
	"math"
	"strings"

	"github.com/pavelanni/examprep/internal/model"
)

// Choice-then-write answers are stored as {selectedOption, response}.
const (
	FieldSelectedOption = "selectedOption"
	FieldResponse       = "response"
)

// Unit is one gradable sub-unit of a test in question-tree order. Both the
// plan builder and the completion estimator walk the same units, so the
// number of grading results always equals the number of units.
type Unit struct {
	Order    int
	Path     []string
	Format   model.Format
	Section  *model.Section
	Question *model.Question
	Sub      *model.SubQuestion
	Type     model.QuestionType
	Marks    float64
}

// ID is the dotted answer path, stable across submissions.
func (u Unit) ID() string {
	return strings.Join(u.Path, ".")
}

// Units enumerates the gradable units of a test.
//
// Answer paths by format:
//
//	english            [sectionID, questionID] or [sectionID, questionID, gapID]
//	math               [questionNumber, label]
//	nepali/science/... [questionID] or [questionID, subID]
func Units(test *model.Test) []Unit {
	var units []Unit
	for si := range test.Sections {
		sec := &test.Sections[si]
		var prefix []string
		if test.Format == model.FormatEnglish {
			prefix = []string{sec.ID}
		}
		share := splitMarks(sec.Marks, len(sec.Questions))

		for qi := range sec.Questions {
			q := &sec.Questions[qi]
			qType := q.Type
			if qType == "" {
				qType = sec.Type
			}
			qMarks := q.Marks
			if qMarks <= 0 {
				qMarks = share
			}
			base := appendPath(prefix, q.AnswerKey(test.Format))

			if qType == model.TypeChoiceWrite || len(q.SubQuestions) == 0 {
				units = append(units, Unit{
					Path:     base,
					Format:   test.Format,
					Section:  sec,
					Question: q,
					Type:     qType,
					Marks:    qMarks,
				})
				continue
			}

			subShare := splitMarks(qMarks, len(q.SubQuestions))
			for ri := range q.SubQuestions {
				sub := &q.SubQuestions[ri]
				m := sub.Marks
				if m <= 0 {
					m = subShare
				}
				units = append(units, Unit{
					Path:     appendPath(base, sub.ID),
					Format:   test.Format,
					Section:  sec,
					Question: q,
					Sub:      sub,
					Type:     qType,
					Marks:    m,
				})
			}
		}
	}
	for i := range units {
		units[i].Order = i
	}
	return units
}

// Answered applies the "non-empty trimmed string" predicate to a unit.
// Choice-then-write needs both a selected option and a response.
func (u Unit) Answered(answers model.AnswerTree) bool {
	if u.Type == model.TypeChoiceWrite {
		return strings.TrimSpace(answers.Text(appendPath(u.Path, FieldSelectedOption)...)) != "" &&
			strings.TrimSpace(answers.Text(appendPath(u.Path, FieldResponse)...)) != ""
	}
	return strings.TrimSpace(u.AnswerText(answers)) != ""
}

// AnswerText returns the student's free text for the unit.
func (u Unit) AnswerText(answers model.AnswerTree) string {
	if u.Type == model.TypeChoiceWrite {
		return answers.Text(appendPath(u.Path, FieldResponse)...)
	}
	return answers.Text(u.Path...)
}

// splitMarks divides marks evenly across n siblings, rounded to one decimal.
// The rounded shares may not sum exactly to the total.
func splitMarks(total float64, n int) float64 {
	if n <= 0 || total <= 0 {
		return 0
	}
	return round1(total / float64(n))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func appendPath(base []string, more ...string) []string {
	out := make([]string, 0, len(base)+len(more))
	out = append(out, base...)
	return append(out, more...)
}
