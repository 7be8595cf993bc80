package exam

import (
	"context"
	"fmt"
	"sync"

	"github.com/pavelanni/examprep/internal/model"
	"github.com/pavelanni/examprep/internal/store"
)

type fakeLocal struct {
	mu          sync.Mutex
	snaps       map[string]model.ProgressSnapshot
	answerSaves int
	elapsed     []int
	putErr      error
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{snaps: map[string]model.ProgressSnapshot{}}
}

func (f *fakeLocal) GetSnapshot(_ context.Context, studentID, testID string) (model.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[model.SnapshotKey(studentID, testID)]
	if !ok {
		return model.ProgressSnapshot{}, fmt.Errorf("snapshot: %w", store.ErrNotFound)
	}
	return snap, nil
}

func (f *fakeLocal) PutSnapshot(_ context.Context, snap model.ProgressSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.snaps[model.SnapshotKey(snap.StudentID, snap.TestID)] = snap
	return nil
}

func (f *fakeLocal) SaveAnswers(_ context.Context, studentID, testID string, answers model.AnswerTree, section string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := model.SnapshotKey(studentID, testID)
	snap := f.snaps[key]
	snap.StudentID, snap.TestID = studentID, testID
	snap.Answers, snap.CurrentSection = answers, section
	f.snaps[key] = snap
	f.answerSaves++
	return nil
}

func (f *fakeLocal) SaveElapsed(_ context.Context, studentID, testID string, elapsed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := model.SnapshotKey(studentID, testID)
	snap := f.snaps[key]
	snap.StudentID, snap.TestID = studentID, testID
	snap.ElapsedSeconds = elapsed
	f.snaps[key] = snap
	f.elapsed = append(f.elapsed, elapsed)
	return nil
}

func (f *fakeLocal) get(studentID, testID string) (model.ProgressSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[model.SnapshotKey(studentID, testID)]
	return snap, ok
}

func (f *fakeLocal) setPutErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr = err
}

type fakeRemote struct {
	mu        sync.Mutex
	snaps     map[string]model.ProgressSnapshot
	saves     int
	loads     int
	saveErr   error
	loadErr   error
	lastSaved model.ProgressSnapshot
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{snaps: map[string]model.ProgressSnapshot{}}
}

func (f *fakeRemote) Save(_ context.Context, identity string, snap model.ProgressSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.snaps[identity+"/"+snap.TestID] = snap
	f.lastSaved = snap
	return nil
}

func (f *fakeRemote) Load(_ context.Context, identity, testID string) (*model.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	snap, ok := f.snaps[identity+"/"+testID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (f *fakeRemote) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeRemote) setSaveErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

func (f *fakeRemote) last() model.ProgressSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSaved
}

type fakeBank map[string]*model.Test

func (b fakeBank) GetTest(_ context.Context, id string) (*model.Test, error) {
	t, ok := b[id]
	if !ok {
		return nil, fmt.Errorf("test %s: %w", id, store.ErrNotFound)
	}
	return t, nil
}

// scienceTest has two true/false questions (2 marks each) and one short
// answer worth 6 marks.
func scienceTest() *model.Test {
	return &model.Test{
		ID:         "sci-1",
		Format:     model.FormatScience,
		TotalMarks: 10,
		Sections: []model.Section{
			{ID: "g1", Type: model.TypeTrueFalse, Marks: 4, Questions: []model.Question{
				{ID: "1", Text: "Sound needs a medium.", CorrectAnswer: "true"},
				{ID: "2", Text: "The moon emits light.", CorrectAnswer: "false"},
			}},
			{ID: "g2", Type: model.TypeShortAnswer, Marks: 6, Questions: []model.Question{
				{ID: "3", Text: "Define force.", SampleAnswer: "A push or a pull."},
			}},
		},
	}
}
