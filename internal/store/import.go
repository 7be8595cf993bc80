package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examprep/internal/model"
)

// ImportResult reports what ImportTest did with a file.
type ImportResult struct {
	TestID    string `json:"test_id"`
	Unchanged bool   `json:"unchanged"`
}

// ImportTest loads a test JSON document into the question bank under the
// given file name. Files whose SHA-256 matches the last import are skipped.
// A changed file replaces the stored test; live sessions keep the version
// they were opened with.
func (s *Store) ImportTest(ctx context.Context, name string, data []byte) (ImportResult, error) {
	hash := sha256sum(data)
	stored, err := s.GetImportedFileHash(name)
	if err != nil {
		return ImportResult{}, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if stored == hash {
		slog.Info("test file unchanged, skipping", "name", name)
		return ImportResult{Unchanged: true}, nil
	}

	var t model.Test
	if err := json.Unmarshal(data, &t); err != nil {
		return ImportResult{}, fmt.Errorf("parse %s: %w", name, err)
	}
	if err := t.Validate(); err != nil {
		return ImportResult{}, fmt.Errorf("validate %s: %w", name, err)
	}
	if err := s.PutTest(ctx, t); err != nil {
		return ImportResult{}, fmt.Errorf("store test from %s: %w", name, err)
	}
	if err := s.SetImportedFileHash(name, hash); err != nil {
		return ImportResult{}, fmt.Errorf("record import for %s: %w", name, err)
	}

	if stored != "" {
		slog.Warn("test file changed since last import, replaced", "name", name, "test", t.ID)
	} else {
		slog.Info("imported test", "name", name, "test", t.ID, "sections", len(t.Sections))
	}
	return ImportResult{TestID: t.ID}, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
