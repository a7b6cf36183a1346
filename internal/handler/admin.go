package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/domain"
)

type contextKey struct{}

var adminKey contextKey

// AdminFromContext returns the admin authenticated by requireAdmin
func AdminFromContext(ctx context.Context) (domain.AdminAccount, bool) {
	admin, ok := ctx.Value(adminKey).(domain.AdminAccount)
	return admin, ok
}

// requireAdmin rejects requests without a valid bearer token. Every failure
// gets the same 401 body.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			h.writeError(w, domain.CodeUnauthenticated, unauthenticatedMessage)
			return
		}

		admin, err := h.tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			h.logger.Debug("rejected admin token", "error", err)
			h.writeError(w, domain.CodeUnauthenticated, unauthenticatedMessage)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey, admin)))
	})
}

// ByUUIDRequest carries the admin id of the UUID handshake
type ByUUIDRequest struct {
	UUID uuid.UUID `json:"uuid"`
}

// ByUUID signs in with a bare admin UUID, creating the account if needed
func (h *Handler) ByUUID(w http.ResponseWriter, r *http.Request) {
	var req ByUUIDRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	token, err := h.services.Auth.ByUUID(r.Context(), req.UUID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, domain.TokenReply{Token: token})
}

// GitHubLogin redirects to GitHub's authorize page
func (h *Handler) GitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "github_disabled", Message: errGitHubDisabled.Error()})
		return
	}

	target, err := h.github.LoginURL()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// OAuthCallback completes GitHub sign-in and replies with a token
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "github_disabled", Message: errGitHubDisabled.Error()})
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	if code == "" {
		h.writeError(w, domain.CodeInvalidRequest, "missing code")
		return
	}
	if err := h.github.VerifyState(query.Get("state")); err != nil {
		h.logger.Warn("rejected oauth state", "error", err)
		h.writeError(w, domain.CodeInvalidRequest, "invalid oauth state")
		return
	}

	user, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github exchange failed", "error", err)
		h.writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "github_unavailable", Message: "could not complete github sign-in"})
		return
	}

	token, err := h.services.Auth.ByGitHub(r.Context(), user)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, domain.TokenReply{Token: token})
}

// WhoAmI describes the authenticated admin
func (h *Handler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	admin, _ := AdminFromContext(r.Context())
	identity, err := h.services.Auth.WhoAmI(r.Context(), admin)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, identity)
}

// CreateLeaderboard creates a leaderboard and returns its key once
func (h *Handler) CreateLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLeaderboardRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	admin, _ := AdminFromContext(r.Context())
	created, err := h.services.Leaderboards.Create(r.Context(), admin, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, created)
}

// ListLeaderboards lists the admin's leaderboards
func (h *Handler) ListLeaderboards(w http.ResponseWriter, r *http.Request) {
	admin, _ := AdminFromContext(r.Context())
	summaries, err := h.services.Leaderboards.List(r.Context(), admin)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

// DeleteScores removes every score of one of the admin's leaderboards
func (h *Handler) DeleteScores(w http.ResponseWriter, r *http.Request) {
	id, ok := h.leaderboardParam(w, r)
	if !ok {
		return
	}

	admin, _ := AdminFromContext(r.Context())
	if err := h.services.Leaderboards.DeleteAllScores(r.Context(), admin, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
