package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/examprep/internal/model"
)

// ExportAttempts builds the attempt history of a student across all tests.
// Tests the student opened but never submitted are left out.
func (s *Store) ExportAttempts(ctx context.Context, studentID string) (model.AttemptExport, error) {
	export := model.AttemptExport{StudentID: studentID, Tests: []model.TestHistory{}}

	snaps, err := s.ListSnapshots(ctx, studentID)
	if err != nil {
		return export, fmt.Errorf("list snapshots: %w", err)
	}

	for _, snap := range snaps {
		if len(snap.Attempts) == 0 {
			continue
		}
		h := model.TestHistory{TestID: snap.TestID, Attempts: snap.Attempts}

		// A test removed from the bank still has history worth exporting.
		t, err := s.GetTest(ctx, snap.TestID)
		switch {
		case err == nil:
			h.Title = t.Title
			h.Format = t.Format
		case !errors.Is(err, ErrNotFound):
			return export, fmt.Errorf("get test %s: %w", snap.TestID, err)
		}

		for _, a := range snap.Attempts {
			h.BestPercentage = max(h.BestPercentage, a.Percentage)
		}
		h.LastGrade = snap.Attempts[len(snap.Attempts)-1].Grade
		export.Tests = append(export.Tests, h)
	}
	return export, nil
}
