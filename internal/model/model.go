package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user. A logged-in student is the "identity"
// that remote progress sync is keyed by.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Format is the subject-specific layout of a test. It decides how answers
// are addressed in the AnswerTree and how sub-units are graded.
type Format string

const (
	FormatEnglish Format = "english"
	FormatMath    Format = "math"
	FormatNepali  Format = "nepali"
	FormatScience Format = "science"
	FormatSocial  Format = "social"
)

// QuestionType represents the grammar of a single question or section.
type QuestionType string

const (
	TypeTrueFalse         QuestionType = "true_false"
	TypeTrueFalseNotGiven QuestionType = "true_false_not_given"
	TypeMultipleChoice    QuestionType = "multiple_choice"
	TypeMatching          QuestionType = "matching"
	TypeOrdering          QuestionType = "ordering"
	TypeFillBlank         QuestionType = "fill_blank"
	TypeShortAnswer       QuestionType = "short_answer"
	TypeEssay             QuestionType = "essay"
	TypeReproduce         QuestionType = "reproduce"
	TypeGrammar           QuestionType = "grammar"
	TypeCloze             QuestionType = "cloze"
	TypeChoiceWrite       QuestionType = "choice_write"
)

// IsObjective reports whether a type has a single deterministic answer.
func (t QuestionType) IsObjective() bool {
	switch t {
	case TypeTrueFalse, TypeTrueFalseNotGiven, TypeMultipleChoice, TypeMatching, TypeOrdering:
		return true
	}
	return false
}

// Test is the full question tree of one practice exam.
type Test struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Format          Format    `json:"format"`
	DurationMinutes int       `json:"duration_minutes"`
	TotalMarks      float64   `json:"total_marks"`
	Sections        []Section `json:"sections"`
}

// Validate checks the fields the engine relies on when loading a test.
func (t Test) Validate() error {
	if t.ID == "" {
		return errors.New("test id is required")
	}
	switch t.Format {
	case FormatEnglish, FormatMath, FormatNepali, FormatScience, FormatSocial:
	default:
		return fmt.Errorf("test %s: unknown format %q", t.ID, t.Format)
	}
	if len(t.Sections) == 0 {
		return fmt.Errorf("test %s: no sections", t.ID)
	}
	return nil
}

// Section groups questions. For English it is a reading/writing section,
// for Science and Social Studies a question group.
type Section struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Type      QuestionType `json:"type,omitempty"`
	Marks     float64      `json:"marks"`
	Passage   string       `json:"passage,omitempty"`
	PassageNe string       `json:"passage_ne,omitempty"`
	Questions []Question   `json:"questions"`
}

// Option is a selectable choice of a multiple-choice or choice-then-write question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	// Clue is the reference material shown for a choice-then-write topic.
	Clue   string `json:"clue,omitempty"`
	ClueNe string `json:"clue_ne,omitempty"`
}

// Question is a single gradable question. Math questions and Nepali
// multi-part questions carry SubQuestions; cloze questions carry gaps as
// SubQuestions.
type Question struct {
	ID               string        `json:"id"`
	Number           string        `json:"number,omitempty"`
	Type             QuestionType  `json:"type,omitempty"`
	Text             string        `json:"text"`
	TextNe           string        `json:"text_ne,omitempty"`
	Marks            float64       `json:"marks,omitempty"`
	CorrectAnswer    string        `json:"correct_answer,omitempty"`
	Options          []Option      `json:"options,omitempty"`
	SubQuestions     []SubQuestion `json:"sub_questions,omitempty"`
	Explanation      string        `json:"explanation,omitempty"`
	ExplanationNe    string        `json:"explanation_ne,omitempty"`
	SampleAnswer     string        `json:"sample_answer,omitempty"`
	SampleAnswerNe   string        `json:"sample_answer_ne,omitempty"`
	ExpectedAnswer   string        `json:"expected_answer,omitempty"`
	ReferencePassage string        `json:"reference_passage,omitempty"`
}

// AnswerKey returns the question identifier used in answer paths.
// Math addresses questions by number, everything else by id.
func (q Question) AnswerKey(f Format) string {
	if f == FormatMath && q.Number != "" {
		return q.Number
	}
	return q.ID
}

// SubQuestion is a labelled part of a question (math label, cloze gap, Nepali part).
type SubQuestion struct {
	ID             string  `json:"id"`
	Text           string  `json:"text,omitempty"`
	Marks          float64 `json:"marks,omitempty"`
	CorrectAnswer  string  `json:"correct_answer,omitempty"`
	Explanation    string  `json:"explanation,omitempty"`
	SampleAnswer   string  `json:"sample_answer,omitempty"`
	SampleAnswerNe string  `json:"sample_answer_ne,omitempty"`
	ExpectedAnswer string  `json:"expected_answer,omitempty"`
}

// TaskKind tells the executor whether a task is graded locally or by the oracle.
type TaskKind string

const (
	TaskAuto   TaskKind = "auto"
	TaskOracle TaskKind = "oracle"
)

// MatchRule is the local comparison applied to an auto task.
type MatchRule string

const (
	// MatchExact compares case-insensitively after trimming.
	MatchExact MatchRule = "exact"
	// MatchContains has already been decided by the plan builder.
	MatchContains MatchRule = "contains"
	// MatchPosition compares an ordering position, tolerating "3" vs "3." vs " 3 ".
	MatchPosition MatchRule = "position"
)

// GradingTask is one unit of grading work, created per submission.
type GradingTask struct {
	ID            string    `json:"id"`
	Order         int       `json:"order"`
	Kind          TaskKind  `json:"kind"`
	Match         MatchRule `json:"match,omitempty"`
	Format        Format    `json:"format"`
	SectionID     string    `json:"section_id"`
	QuestionRef   string    `json:"question_ref"`
	QuestionText  string    `json:"question_text"`
	Expected      string    `json:"expected,omitempty"`
	Accept        []string  `json:"accept,omitempty"` // aliases of Expected (option id/text)
	Marks         float64   `json:"marks"`
	StudentAnswer string    `json:"student_answer"`
	SampleAnswer  string    `json:"sample_answer,omitempty"`
}

// GradingResult is the immutable outcome of one task or skipped unit.
// A nil Score means the oracle was unavailable and the item needs manual review.
type GradingResult struct {
	ID            string   `json:"id"`
	Order         int      `json:"order"`
	SectionID     string   `json:"section_id"`
	QuestionRef   string   `json:"question_ref"`
	QuestionText  string   `json:"question_text"`
	Kind          TaskKind `json:"kind,omitempty"`
	Score         *float64 `json:"score"`
	MaxScore      float64  `json:"max_score"`
	Feedback      string   `json:"feedback"`
	StudentAnswer string   `json:"student_answer"`
	Expected      string   `json:"expected,omitempty"`
	Skipped       bool     `json:"skipped,omitempty"`
	Failed        bool     `json:"failed,omitempty"`
}

// Points returns the score counted towards totals (nil counts as zero).
func (r GradingResult) Points() float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// AttemptRecord summarizes one completed submission. Never mutated.
type AttemptRecord struct {
	ID               string             `json:"id"`
	Timestamp        time.Time          `json:"timestamp"`
	SectionScores    map[string]float64 `json:"section_scores"`
	TotalScore       float64            `json:"total_score"`
	MaxScore         float64            `json:"max_score"`
	Percentage       int                `json:"percentage"`
	Grade            string             `json:"grade"`
	TimeTakenSeconds int                `json:"time_taken_seconds"`
}

// ProgressSnapshot is the persisted form of a session plus attempt history.
type ProgressSnapshot struct {
	StudentID      string          `json:"student_id"`
	TestID         string          `json:"test_id"`
	Answers        AnswerTree      `json:"answers"`
	CurrentSection string          `json:"current_tab"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	LastSavedAt    time.Time       `json:"last_saved_at"`
	Attempts       []AttemptRecord `json:"attempts"`
}

// SnapshotKey is the local store key for a student's progress on a test.
func SnapshotKey(studentID, testID string) string {
	return studentID + "_" + testID
}

// Result is handed to the presentation layer after a submission.
type Result struct {
	TestID  string          `json:"test_id"`
	Results []GradingResult `json:"results"`
	Attempt AttemptRecord   `json:"attempt"`
	Failed  int             `json:"failed"`
}

// SyncStatus is the remote sync state shown to the student.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncFailed  SyncStatus = "failed"
)

// ExamConfig holds runtime engine parameters set via CLI flags.
type ExamConfig struct {
	Lang             string
	SyncDebounce     time.Duration // remote sync debounce window
	AutosaveInterval time.Duration // elapsed-time save period
	OracleTimeout    time.Duration // per oracle call
	OracleLimit      int           // concurrent oracle calls, 0 = unlimited
}
