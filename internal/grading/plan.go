package grading

import (
	"errors"
	"strings"

	"github.com/pavelanni/examprep/internal/model"
)

// ErrNoQuestions is returned when a test has no gradable units.
var ErrNoQuestions = errors.New("test has no gradable questions")

// Plan is the grading plan for one submission: tasks to execute plus the
// zero-score results of skipped (blank) units.
type Plan struct {
	Tasks   []model.GradingTask
	Skipped []model.GradingResult
	// Total is the number of units walked.
	Total int
}

// OracleCount returns the number of tasks that need the oracle.
func (p Plan) OracleCount() int {
	n := 0
	for _, t := range p.Tasks {
		if t.Kind == model.TaskOracle {
			n++
		}
	}
	return n
}

// BuildPlan walks the question tree in order and emits one task (or one
// skipped result) per unit. answers must be a snapshot the caller will not
// mutate while grading runs.
func BuildPlan(test *model.Test, answers model.AnswerTree) (Plan, error) {
	if test == nil {
		return Plan{}, errors.New("build plan: nil test")
	}
	units := Units(test)
	if len(units) == 0 {
		return Plan{}, ErrNoQuestions
	}

	plan := Plan{Total: len(units)}
	for _, u := range units {
		if !u.Answered(answers) {
			plan.Skipped = append(plan.Skipped, skippedResult(u, answers))
			continue
		}
		plan.Tasks = append(plan.Tasks, buildTask(u, answers))
	}
	return plan, nil
}

func skippedResult(u Unit, answers model.AnswerTree) model.GradingResult {
	zero := 0.0
	return model.GradingResult{
		ID:            u.ID(),
		Order:         u.Order,
		SectionID:     u.Section.ID,
		QuestionRef:   questionRef(u),
		QuestionText:  questionText(u),
		Score:         &zero,
		MaxScore:      u.Marks,
		StudentAnswer: u.AnswerText(answers),
		Expected:      expectedAnswer(u),
		Skipped:       true,
	}
}

func buildTask(u Unit, answers model.AnswerTree) model.GradingTask {
	task := model.GradingTask{
		ID:            u.ID(),
		Order:         u.Order,
		Format:        u.Format,
		SectionID:     u.Section.ID,
		QuestionRef:   questionRef(u),
		QuestionText:  questionText(u),
		Marks:         u.Marks,
		StudentAnswer: strings.TrimSpace(u.AnswerText(answers)),
	}
	expected := expectedAnswer(u)

	switch {
	case u.Type == model.TypeChoiceWrite:
		selected := strings.TrimSpace(answers.Text(appendPath(u.Path, FieldSelectedOption)...))
		task.Kind = model.TaskOracle
		task.QuestionText, task.SampleAnswer = choiceContext(u, selected)

	case u.Type.IsObjective() && expected != "":
		task.Kind = model.TaskAuto
		task.Match = model.MatchExact
		if u.Type == model.TypeOrdering {
			task.Match = model.MatchPosition
		}
		task.Expected = expected
		task.Accept = optionAliases(u.Question, expected)

	case u.Type == model.TypeFillBlank && expected != "":
		task.Kind = model.TaskAuto
		task.Match = model.MatchContains
		task.Expected = expected

	default:
		// Free text: a contains-match saves an oracle round trip.
		task.Expected = expected
		if expected != "" && (exactMatch(task.StudentAnswer, expected) || containsMatch(task.StudentAnswer, expected)) {
			task.Kind = model.TaskAuto
			task.Match = model.MatchContains
			return task
		}
		task.Kind = model.TaskOracle
		task.SampleAnswer = sampleAnswer(u)
	}
	return task
}

func questionRef(u Unit) string {
	ref := u.Question.Number
	if ref == "" {
		ref = u.Question.ID
	}
	if u.Sub != nil {
		ref += "." + u.Sub.ID
	}
	return ref
}

func questionText(u Unit) string {
	text := u.Question.Text
	if text == "" || (u.Format == model.FormatNepali && u.Question.TextNe != "") {
		text = firstNonEmpty(u.Question.TextNe, u.Question.Text)
	}
	if u.Sub != nil && u.Sub.Text != "" {
		if text != "" {
			text += "\n"
		}
		text += "(" + u.Sub.ID + ") " + u.Sub.Text
	}
	return text
}

func expectedAnswer(u Unit) string {
	if u.Sub != nil {
		return strings.TrimSpace(firstNonEmpty(u.Sub.CorrectAnswer, u.Sub.ExpectedAnswer))
	}
	return strings.TrimSpace(u.Question.CorrectAnswer)
}

// sampleAnswer assembles the oracle's reference context: the first
// non-empty field wins, preferring Nepali variants for Nepali tests.
func sampleAnswer(u Unit) string {
	var candidates []string
	if u.Sub != nil {
		if u.Format == model.FormatNepali {
			candidates = append(candidates, u.Sub.SampleAnswerNe)
		}
		candidates = append(candidates, u.Sub.Explanation, u.Sub.SampleAnswer, u.Sub.SampleAnswerNe, u.Sub.ExpectedAnswer, u.Sub.CorrectAnswer)
	}
	q := u.Question
	if u.Format == model.FormatNepali {
		candidates = append(candidates, q.ExplanationNe, q.SampleAnswerNe)
	}
	candidates = append(candidates,
		q.Explanation, q.ExplanationNe,
		q.SampleAnswer, q.SampleAnswerNe,
		q.ExpectedAnswer, q.CorrectAnswer,
		q.ReferencePassage,
		u.Section.Passage, u.Section.PassageNe,
	)
	return firstNonEmpty(candidates...)
}

// choiceContext resolves the selected option to its clue text and folds the
// chosen topic into the question text.
func choiceContext(u Unit, selected string) (question, sample string) {
	question = questionText(u)
	var opt *model.Option
	for i := range u.Question.Options {
		o := &u.Question.Options[i]
		if o.ID == selected || exactMatch(o.Text, selected) {
			opt = o
			break
		}
	}
	if opt == nil {
		return question + "\nTopic: " + selected, sampleAnswer(u)
	}
	question += "\nTopic: " + opt.Text
	clue := opt.Clue
	if u.Format == model.FormatNepali {
		clue = firstNonEmpty(opt.ClueNe, opt.Clue)
	}
	return question, firstNonEmpty(clue, opt.ClueNe, sampleAnswer(u))
}

// optionAliases lets a student answer by option id when the key holds the
// option text, and the other way round.
func optionAliases(q *model.Question, expected string) []string {
	for _, o := range q.Options {
		if exactMatch(o.ID, expected) || exactMatch(o.Text, expected) {
			return []string{o.ID, o.Text}
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
