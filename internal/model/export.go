package model

// AttemptExport is the attempt history of one student across tests,
// as written by the attempts command.
type AttemptExport struct {
	StudentID string        `json:"student_id"`
	Tests     []TestHistory `json:"tests"`
}

// TestHistory holds every attempt a student made on one test.
type TestHistory struct {
	TestID         string          `json:"test_id"`
	Title          string          `json:"title,omitempty"`
	Format         Format          `json:"format,omitempty"`
	BestPercentage int             `json:"best_percentage"`
	LastGrade      string          `json:"last_grade,omitempty"`
	Attempts       []AttemptRecord `json:"attempts"`
}
