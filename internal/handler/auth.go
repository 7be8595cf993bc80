package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examprep/internal/exam"
	appI18n "github.com/pavelanni/examprep/internal/i18n"
	"github.com/pavelanni/examprep/internal/model"
)

type sessionCtxKey struct{}

// authenticate attaches the user behind a bearer token to the request
// context. Requests without a token continue anonymously; an unknown,
// expired or deactivated token is rejected.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := h.store.UserForToken(token)
		if err != nil {
			slog.Error("failed to resolve auth token", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

// sessionCtx loads the live exam session named in the URL.
func (h *Handler) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.engine.Get(chi.URLParam(r, "key"))
		if err != nil {
			h.sessionError(w, r, err)
			return
		}

		if !h.authorizeSession(w, r, sess) {
			return
		}

		ctx := context.WithValue(r.Context(), sessionCtxKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorizeSession writes an error and returns false unless the caller may
// use sess. A session that syncs under an identity is only reachable by that
// user or an admin.
func (h *Handler) authorizeSession(w http.ResponseWriter, r *http.Request, sess *exam.Session) bool {
	if owner := sess.Identity(); owner != "" {
		user := model.UserFromContext(r.Context())
		if user == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return false
		}
		if user.Role != model.UserRoleAdmin && user.Username != owner {
			writeError(w, http.StatusForbidden, "forbidden")
			return false
		}
	}
	return h.authorizeStudent(w, r, sess.StudentID())
}

// authorizeStudent writes an error and returns false unless the caller may
// act for studentID. Admins may act for anyone and users for themselves.
// Anonymous callers may only use ids that do not belong to an account.
func (h *Handler) authorizeStudent(w http.ResponseWriter, r *http.Request, studentID string) bool {
	if user := model.UserFromContext(r.Context()); user != nil {
		if user.Role == model.UserRoleAdmin || user.Username == studentID {
			return true
		}
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}

	account, err := h.store.GetUserByUsername(studentID)
	if err != nil {
		slog.Error("failed to look up student account", "student", studentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if account != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

func sessionFromContext(ctx context.Context) *exam.Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*exam.Session)
	return s
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string         `json:"token"`
	Username    string         `json:"username"`
	DisplayName string         `json:"displayName"`
	Role        model.UserRole `json:"role"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByUsername(req.Username)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil || !user.Active {
		writeError(w, http.StatusUnauthorized, appI18n.T(r.Context(), "LoginError"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, appI18n.T(r.Context(), "LoginError"))
		return
	}

	token, err := h.store.CreateAuthSession(user.ID)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("user logged in", "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:       token,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Role:        user.Role,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := h.store.DeleteAuthSession(token); err != nil {
			slog.Error("failed to delete auth session", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
