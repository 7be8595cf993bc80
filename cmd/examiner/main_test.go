package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/examprep/internal/model"
	"github.com/pavelanni/examprep/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeRemote struct {
	snaps []model.ProgressSnapshot
}

func (f *fakeRemote) Save(context.Context, string, model.ProgressSnapshot) error { return nil }

func (f *fakeRemote) Load(context.Context, string, string) (*model.ProgressSnapshot, error) {
	return nil, nil
}

func (f *fakeRemote) LoadAll(context.Context, string) ([]model.ProgressSnapshot, error) {
	return f.snaps, nil
}

func (f *fakeRemote) Close() error { return nil }

func TestRootCmdFlags(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"addr", "db", "lang", "llm-url", "prompt-variant", "oracle-timeout",
		"oracle-concurrency", "remote-driver", "remote-dsn", "sync-debounce", "autosave-interval", "admin-password"} {
		if root.Flags().Lookup(name) == nil {
			t.Errorf("root is missing serve flag --%s", name)
		}
	}
	for _, sub := range []string{"serve", "import", "attempts", "pull"} {
		if cmd, _, err := root.Find([]string{sub}); err != nil || cmd.Name() != sub {
			t.Errorf("subcommand %s not registered", sub)
		}
	}
}

func TestExamConfigDefaults(t *testing.T) {
	cmd := serveCmd()
	if err := cmd.Flags().Parse([]string{"--sync-debounce=5s", "--oracle-concurrency=4"}); err != nil {
		t.Fatal(err)
	}
	cfg := examConfig(viperForCmd(cmd))
	if cfg.SyncDebounce != 5*time.Second || cfg.OracleLimit != 4 {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.AutosaveInterval != 30*time.Second || cfg.OracleTimeout != time.Minute || cfg.Lang != "en" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestSeedAdmin(t *testing.T) {
	db := newTestStore(t)

	if err := seedAdmin(db, ""); err == nil {
		t.Fatal("expected error without a password")
	}
	if err := seedAdmin(db, "s3cret"); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	// A second call is a no-op once users exist.
	if err := seedAdmin(db, ""); err != nil {
		t.Fatalf("seedAdmin again: %v", err)
	}
	u, err := db.GetUserByUsername("admin")
	if err != nil || u == nil || u.Role != model.UserRoleAdmin {
		t.Fatalf("admin user = %+v, %v", u, err)
	}
}

func TestImportFiles(t *testing.T) {
	db := newTestStore(t)
	dir := t.TempDir()

	doc := model.Test{ID: "soc-1", Title: "Social Studies", Format: model.FormatSocial,
		Sections: []model.Section{{ID: "g1", Questions: []model.Question{{ID: "1", Text: "Name the capital."}}}}}
	data, _ := json.Marshal(doc)
	path := filepath.Join(dir, "social.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := importFiles(ctx, db, []string{path, path}); err != nil {
		t.Fatalf("importFiles: %v", err)
	}
	if n, _ := db.TestCount(); n != 1 {
		t.Errorf("TestCount = %d, want 1", n)
	}

	if err := importFiles(ctx, db, []string{filepath.Join(dir, "missing.json")}); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestPullSnapshots(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	if err := db.PutSnapshot(ctx, model.ProgressSnapshot{
		StudentID: "sita", TestID: "sci-1", ElapsedSeconds: 10,
		Answers: model.AnswerTree{}.With([]string{"1"}, "local"),
	}); err != nil {
		t.Fatal(err)
	}

	rs := &fakeRemote{snaps: []model.ProgressSnapshot{
		{StudentID: "other", TestID: "sci-1", ElapsedSeconds: 500},
		{StudentID: "other", TestID: "math-1", ElapsedSeconds: 90,
			Attempts: []model.AttemptRecord{{ID: "a1", Grade: "A"}}},
	}}

	n, err := pullSnapshots(ctx, db, rs, "9800000000", "sita")
	if err != nil {
		t.Fatalf("pullSnapshots: %v", err)
	}
	if n != 1 {
		t.Errorf("copied = %d, want 1", n)
	}

	kept, _ := db.GetSnapshot(ctx, "sita", "sci-1")
	if kept.ElapsedSeconds != 10 {
		t.Errorf("local snapshot overwritten: %+v", kept)
	}
	pulled, err := db.GetSnapshot(ctx, "sita", "math-1")
	if err != nil {
		t.Fatalf("pulled snapshot: %v", err)
	}
	if pulled.StudentID != "sita" || len(pulled.Attempts) != 1 {
		t.Errorf("unexpected pulled snapshot: %+v", pulled)
	}
}

func TestWriteExport(t *testing.T) {
	var buf bytes.Buffer
	export := model.AttemptExport{StudentID: "sita", Tests: []model.TestHistory{{TestID: "sci-1", BestPercentage: 80}}}
	if err := writeExport(&buf, export); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasSuffix(out, "}\n") {
		t.Errorf("missing trailing newline: %q", out)
	}
	var back model.AttemptExport
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if back.StudentID != "sita" || back.Tests[0].BestPercentage != 80 {
		t.Errorf("round trip = %+v", back)
	}
}
