package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examprep/internal/exam"
	"github.com/pavelanni/examprep/internal/grading"
	appI18n "github.com/pavelanni/examprep/internal/i18n"
	"github.com/pavelanni/examprep/internal/model"
	"github.com/pavelanni/examprep/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type testServer struct {
	store  *store.Store
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.PutTest(ctx, scienceTest()))
	require.NoError(t, st.PutTest(ctx, model.Test{
		ID: "blank", Format: model.FormatScience, Sections: []model.Section{{ID: "g1"}},
	}))

	oracle := grading.OracleFunc(func(_ context.Context, req grading.OracleRequest) (grading.OracleResponse, error) {
		return grading.OracleResponse{Score: req.Marks / 2, Feedback: "partly right"}, nil
	})
	engine := exam.NewEngine(st, st, nil, oracle, model.ExamConfig{
		SyncDebounce:     10 * time.Millisecond,
		AutosaveInterval: time.Hour,
		OracleTimeout:    time.Second,
	})
	t.Cleanup(engine.Shutdown)

	for _, u := range []struct {
		name string
		role model.UserRole
	}{{"admin", model.UserRoleAdmin}, {"sita", model.UserRoleStudent}, {"ram", model.UserRoleStudent}} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.name+"-pw"), bcrypt.MinCost)
		require.NoError(t, err)
		_, err = st.CreateUser(model.User{Username: u.name, DisplayName: u.name, PasswordHash: string(hash), Role: u.role, Active: true})
		require.NoError(t, err)
	}

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	New(st, engine).Routes(r)
	return &testServer{store: st, router: r}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: username, Password: username + "-pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func scienceTest() model.Test {
	return model.Test{
		ID:         "sci-1",
		Title:      "Science Practice 1",
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

func TestLoginAndLogout(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: "sita", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid username or password", decode[errorResponse](t, rec).Error)

	token := ts.login(t, "sita")
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/tests", token, nil).Code)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/api/logout", token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/tests", token, nil).Code)
}

func TestListTests(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/tests", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tests := decode[[]store.TestSummary](t, rec)
	require.Len(t, tests, 2)
	assert.Equal(t, "Science Practice 1", tests[1].Title)
}

func TestAnonymousSessionFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions", "", openSessionRequest{StudentID: "stu", TestID: "sci-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state := decode[exam.State](t, rec)
	assert.Equal(t, "stu_sci-1", state.Key)
	assert.Equal(t, 3, state.IncompleteCount)

	base := "/api/sessions/stu_sci-1"
	rec = ts.do(t, http.MethodPut, base+"/answers", "", answerRequest{Path: []string{"1"}, Value: "true"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[exam.State](t, rec).AnsweredCount)

	rec = ts.do(t, http.MethodPut, base+"/answers", "", answerRequest{Value: "true"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, base+"/section", "", sectionRequest{Section: "g2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "g2", decode[exam.State](t, rec).CurrentSection)

	rec = ts.do(t, http.MethodPost, base+"/pause", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[exam.State](t, rec).IsPaused)

	rec = ts.do(t, http.MethodPost, base+"/visibility", "", visibilityRequest{Hidden: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[exam.State](t, rec).IsPaused)

	// Unanswered questions gate the submission until confirmed.
	rec = ts.do(t, http.MethodPost, base+"/submit", "", submitRequest{})
	require.Equal(t, http.StatusConflict, rec.Code)
	gate := decode[incompleteResponse](t, rec)
	assert.Equal(t, 2, gate.IncompleteCount)
	assert.Equal(t, "You have 2 unanswered questions. Submit anyway?", gate.Error)

	rec = ts.do(t, http.MethodPost, base+"/submit", "", submitRequest{Confirm: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[model.Result](t, rec)
	assert.Equal(t, 2.0, result.Attempt.TotalScore)
	assert.Len(t, result.Results, 3)

	rec = ts.do(t, http.MethodGet, "/api/students/stu/tests/sci-1/attempts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.AttemptRecord](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/students/stu/attempts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	export := decode[model.AttemptExport](t, rec)
	require.Len(t, export.Tests, 1)
	assert.Equal(t, "sci-1", export.Tests[0].TestID)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, base, "", nil).Code)
	rec = ts.do(t, http.MethodGet, base, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "This exam session is no longer active.", decode[errorResponse](t, rec).Error)
}

func TestAttemptsEmptyHistory(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/students/nobody/tests/sci-1/attempts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestOpenSessionValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions", "", openSessionRequest{TestID: "sci-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions", "", openSessionRequest{StudentID: "stu", TestID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions", "", []byte(`{"studentId":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionOwnership(t *testing.T) {
	ts := newTestServer(t)
	sita := ts.login(t, "sita")

	rec := ts.do(t, http.MethodPost, "/api/sessions", sita, openSessionRequest{TestID: "sci-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "sita_sci-1", decode[exam.State](t, rec).Key)

	rec = ts.do(t, http.MethodPost, "/api/sessions", sita, openSessionRequest{StudentID: "ram", TestID: "sci-1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	base := "/api/sessions/sita_sci-1"
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, base, "", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, base, ts.login(t, "ram"), nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, base, ts.login(t, "admin"), nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, base, sita, nil).Code)

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/students/ram/attempts", sita, nil).Code)
}

func TestAnonymousCannotOpenAccountSession(t *testing.T) {
	ts := newTestServer(t)
	sita := ts.login(t, "sita")

	rec := ts.do(t, http.MethodPost, "/api/sessions", sita, openSessionRequest{TestID: "sci-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPut, "/api/sessions/sita_sci-1/answers", sita, answerRequest{Path: []string{"1"}, Value: "secret-answer"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions", "", openSessionRequest{StudentID: "sita", TestID: "sci-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-answer")

	rec = ts.do(t, http.MethodPost, "/api/sessions", ts.login(t, "ram"), openSessionRequest{StudentID: "sita", TestID: "sci-1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-answer")
}

func TestOwnerTakesOverAdminOpenedSession(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "admin")
	sita := ts.login(t, "sita")

	// An admin opening a student's test does not sync under the student.
	rec := ts.do(t, http.MethodPost, "/api/sessions", admin, openSessionRequest{StudentID: "sita", TestID: "sci-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPut, "/api/sessions/sita_sci-1/answers", admin, answerRequest{Path: []string{"1"}, Value: "true"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/sessions/sita_sci-1", "", nil).Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions", sita, openSessionRequest{TestID: "sci-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[exam.State](t, rec).AnsweredCount)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/sessions/sita_sci-1", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/sessions/sita_sci-1", ts.login(t, "ram"), nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/sessions/sita_sci-1", admin, nil).Code)
}

func TestAttemptsOfAccountRequireLogin(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/students/sita/attempts", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/students/sita/tests/sci-1/attempts", "", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/students/sita/attempts", ts.login(t, "sita"), nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/students/sita/attempts", ts.login(t, "admin"), nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/students/stu/attempts", "", nil).Code)
}

func TestSubmitFatalFailure(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions", "", openSessionRequest{StudentID: "stu", TestID: "blank"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions/stu_blank/submit", "", submitRequest{Confirm: true})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Something went wrong while grading your test. Your answers are saved; please try again.",
		decode[errorResponse](t, rec).Error)
}

func TestAdminRequiresRole(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/admin/users", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/admin/users", ts.login(t, "sita"), nil).Code)
}

func TestAdminUsers(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "admin")

	rec := ts.do(t, http.MethodPost, "/api/admin/users", admin, createUserRequest{Username: "gita", Password: "secret"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	gita := decode[userResponse](t, rec)
	assert.Equal(t, model.UserRoleStudent, gita.Role)
	assert.Equal(t, "gita", gita.DisplayName)

	rec = ts.do(t, http.MethodPost, "/api/admin/users", admin, createUserRequest{Username: "gita", Password: "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/users", admin, createUserRequest{Username: "x", Password: "y", Role: "teacher"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/users?role=student", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]userResponse](t, rec), 3)

	rec = ts.do(t, http.MethodPost, "/api/admin/users/"+strconv.FormatInt(gita.ID, 10)+"/toggle", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[userResponse](t, rec).Active)

	rec = ts.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: "gita", Password: "secret"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "deactivated users cannot log in")

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/admin/users/9999/toggle", admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/admin/users/abc/toggle", admin, nil).Code)
}

func TestAdminUploadTest(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "admin")

	doc := scienceTest()
	doc.ID = "sci-2"
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/admin/tests?name=sci-2.json", admin, data)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, store.ImportResult{TestID: "sci-2"}, decode[store.ImportResult](t, rec))

	rec = ts.do(t, http.MethodPost, "/api/admin/tests?name=sci-2.json", admin, data)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[store.ImportResult](t, rec).Unchanged)

	_, err = ts.store.GetTest(context.Background(), "sci-2")
	assert.NoError(t, err)

	rec = ts.do(t, http.MethodPost, "/api/admin/tests?name=bad.json", admin, []byte(`{"id":"x","format":"music"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/tests", admin, data)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminListSessions(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "admin")

	ts.do(t, http.MethodPost, "/api/sessions", "", openSessionRequest{StudentID: "b", TestID: "sci-1"})
	ts.do(t, http.MethodPost, "/api/sessions", "", openSessionRequest{StudentID: "a", TestID: "sci-1"})

	rec := ts.do(t, http.MethodGet, "/api/admin/sessions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a_sci-1", "b_sci-1"}, decode[[]string](t, rec))
}
