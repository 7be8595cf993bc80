package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examprep/internal/exam"
	appI18n "github.com/pavelanni/examprep/internal/i18n"
	"github.com/pavelanni/examprep/internal/model"
	"github.com/pavelanni/examprep/internal/store"
)

// maxBodyBytes bounds JSON request bodies. Test uploads use maxUploadBytes.
const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	engine *exam.Engine
}

// New creates a new Handler.
func New(s *store.Store, e *exam.Engine) *Handler {
	return &Handler{store: s, engine: e}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.Post("/logout", h.handleLogout)
			r.Get("/tests", h.handleListTests)

			r.Post("/sessions", h.handleOpenSession)
			r.Route("/sessions/{key}", func(r chi.Router) {
				r.Use(h.sessionCtx)
				r.Get("/", h.handleSessionState)
				r.Put("/answers", h.handleSetAnswer)
				r.Put("/section", h.handleSetSection)
				r.Post("/pause", h.handleTogglePause)
				r.Post("/visibility", h.handleVisibility)
				r.Post("/submit", h.handleSubmit)
				r.Delete("/", h.handleCloseSession)
			})

			r.Get("/students/{studentID}/attempts", h.handleExportAttempts)
			r.Get("/students/{studentID}/tests/{testID}/attempts", h.handleListAttempts)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				h.adminRoutes(r)
			})
		})
	})
}

type openSessionRequest struct {
	StudentID string `json:"studentId"`
	TestID    string `json:"testId"`
}

func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// Logged-in users sync remotely under their username; anonymous
	// sessions stay on this device.
	var identity string
	if user := model.UserFromContext(r.Context()); user != nil {
		if req.StudentID == "" {
			req.StudentID = user.Username
		}
		if req.StudentID == user.Username {
			identity = user.Username
		}
	}
	if req.StudentID == "" || req.TestID == "" {
		writeError(w, http.StatusBadRequest, "studentId and testId are required")
		return
	}
	if !h.authorizeStudent(w, r, req.StudentID) {
		return
	}

	sess, err := h.engine.Open(r.Context(), req.StudentID, req.TestID, identity)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "test not found")
		return
	}
	if err != nil {
		slog.Error("failed to open session", "student", req.StudentID, "test", req.TestID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !h.authorizeSession(w, r, sess) {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (h *Handler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFromContext(r.Context()).State())
}

type answerRequest struct {
	Path  []string `json:"path"`
	Value string   `json:"value"`
}

func (h *Handler) handleSetAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Path) == 0 {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	sess := sessionFromContext(r.Context())
	if err := sess.SetAnswer(r.Context(), req.Path, req.Value); err != nil {
		h.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

type sectionRequest struct {
	Section string `json:"section"`
}

func (h *Handler) handleSetSection(w http.ResponseWriter, r *http.Request) {
	var req sectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess := sessionFromContext(r.Context())
	if err := sess.SetSection(r.Context(), req.Section); err != nil {
		h.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (h *Handler) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if _, err := sess.TogglePause(); err != nil {
		h.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

type visibilityRequest struct {
	Hidden bool `json:"hidden"`
}

func (h *Handler) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess := sessionFromContext(r.Context())
	if err := sess.SetHidden(req.Hidden); err != nil {
		h.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

type submitRequest struct {
	Confirm bool `json:"confirm"`
}

type incompleteResponse struct {
	Error           string `json:"error"`
	IncompleteCount int    `json:"incompleteCount"`
	Total           int    `json:"total"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess := sessionFromContext(r.Context())

	result, err := sess.Submit(r.Context(), req.Confirm)
	var incomplete *exam.IncompleteError
	var submitErr *exam.SubmitError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusConflict, incompleteResponse{
			Error:           appI18n.Tp(r.Context(), "IncompleteWarning", incomplete.Incomplete),
			IncompleteCount: incomplete.Incomplete,
			Total:           incomplete.Total,
		})
	case errors.As(err, &submitErr) && submitErr.Network:
		writeError(w, http.StatusBadGateway, appI18n.T(r.Context(), "SubmitNetworkError"))
	case errors.As(err, &submitErr):
		writeError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "SubmitError"))
	default:
		h.sessionError(w, r, err)
	}
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if err := h.engine.Close(sess.Key()); err != nil {
		h.sessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.store.ListTests(r.Context())
	if err != nil {
		slog.Error("failed to list tests", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, tests)
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	if !h.authorizeStudent(w, r, studentID) {
		return
	}
	attempts, err := h.store.ListAttempts(r.Context(), studentID, chi.URLParam(r, "testID"))
	if err != nil {
		slog.Error("failed to list attempts", "student", studentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if attempts == nil {
		attempts = []model.AttemptRecord{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *Handler) handleExportAttempts(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	if !h.authorizeStudent(w, r, studentID) {
		return
	}
	export, err := h.store.ExportAttempts(r.Context(), studentID)
	if err != nil {
		slog.Error("failed to export attempts", "student", studentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *Handler) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, exam.ErrSessionNotFound), errors.Is(err, exam.ErrSessionClosed):
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "SessionNotFound"))
	case errors.Is(err, exam.ErrSubmitting):
		writeError(w, http.StatusConflict, appI18n.T(r.Context(), "SessionSubmitting"))
	default:
		slog.Error("session request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		// An empty body is the same as "{}".
		if errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
