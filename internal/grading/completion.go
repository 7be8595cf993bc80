package grading

import "github.com/pavelanni/examprep/internal/model"

// Progress counts answered and unanswered units.
type Progress struct {
	Total      int `json:"total"`
	Answered   int `json:"answered"`
	Incomplete int `json:"incomplete"`
	Percentage int `json:"percentage"`
}

// Completion computes exam progress using the same units and the same
// "answered" predicate as the grading plan.
func Completion(test *model.Test, answers model.AnswerTree) Progress {
	if test == nil {
		return Progress{}
	}
	var p Progress
	for _, u := range Units(test) {
		p.Total++
		if u.Answered(answers) {
			p.Answered++
		}
	}
	p.Incomplete = p.Total - p.Answered
	if p.Total > 0 {
		p.Percentage = p.Answered * 100 / p.Total
	}
	return p
}
