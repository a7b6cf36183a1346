package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jornet-server/internal/domain"
	"github.com/jornet-server/internal/oauth"
	"github.com/jornet-server/internal/service"
	"github.com/jornet-server/internal/websocket"
)

// unauthenticatedMessage is the only detail a rejected token ever gets
const unauthenticatedMessage = "missing, invalid or expired token"

// TokenVerifier checks admin bearer tokens
type TokenVerifier interface {
	Verify(token string) (domain.AdminAccount, error)
}

// Services groups the domain services behind the HTTP edge
type Services struct {
	Auth         *service.AuthService
	Leaderboards *service.LeaderboardService
	Players      *service.PlayerService
	Scores       *service.ScoreService
}

// Handler provides HTTP handlers for the jornet API
type Handler struct {
	services Services
	tokens   TokenVerifier
	github   *oauth.GitHub
	hub      *websocket.Hub
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler. github may be nil when GitHub
// sign-in is not configured.
func NewHandler(services Services, tokens TokenVerifier, github *oauth.GitHub, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		services: services,
		tokens:   tokens,
		github:   github,
		hub:      hub,
		logger:   logger,
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health_check", h.HealthCheck)
	r.Get("/ws", h.HandleWebSocket)

	r.Post("/oauth/by_uuid", h.ByUUID)
	r.Get(githubLoginPath, h.GitHubLogin)
	r.Get("/oauth/callback", h.OAuthCallback)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/config/oauth", h.OAuthConfig)

		// Game client surface
		r.Post("/players", h.CreatePlayer)
		r.Route("/scores/{leaderboardID}", func(r chi.Router) {
			r.Post("/", h.SubmitScore)
			r.Get("/", h.ListScores)
			r.Get("/top", h.TopScores)
		})

		// Admin surface
		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/admin/whoami", h.WhoAmI)
			r.Post("/leaderboards", h.CreateLeaderboard)
			r.Get("/leaderboards", h.ListLeaderboards)
			r.Delete("/leaderboards/{leaderboardID}/scores", h.DeleteScores)
		})
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeError writes an error body with the status of its code
func (h *Handler) writeError(w http.ResponseWriter, code, message string) {
	h.writeJSON(w, statusFor(code), ErrorResponse{Error: code, Message: message})
}

// writeServiceError maps a service error onto the response. Internal
// failures are logged and reported without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	switch code {
	case domain.CodeUnauthenticated:
		h.writeError(w, code, unauthenticatedMessage)
	case domain.CodeInternalError:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, code, domain.ErrInternalError.Error())
	case domain.CodeInvalidSignature:
		h.writeError(w, code, domain.ErrSignatureInvalid.Error())
	default:
		h.writeError(w, code, err.Error())
	}
}

// statusFor returns the HTTP status of an error code
func statusFor(code string) int {
	switch code {
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodeUnknownPlayer, domain.CodeUnknownLeaderboard:
		return http.StatusNotFound
	case domain.CodeInvalidSignature, domain.CodeStaleSubmission:
		return http.StatusUnprocessableEntity
	case domain.CodeDuplicateSubmission:
		return http.StatusConflict
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a request body, writing a 400 on failure
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, domain.CodeInvalidRequest, "malformed request body")
		return false
	}
	return true
}

// leaderboardParam parses the leaderboard id path parameter, writing a 400
// when it is not a UUID
func (h *Handler) leaderboardParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "leaderboardID"))
	if err != nil {
		h.writeError(w, domain.CodeInvalidRequest, "leaderboard id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck answers liveness probes with an empty 200
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// githubLoginPath starts sign-in. The callback only accepts the signed
// state this route issues, so clients must not build the authorize URL.
const githubLoginPath = "/oauth/github/login"

// OAuthConfig exposes the public GitHub application id and the sign-in
// route, or nulls when GitHub is not configured
func (h *Handler) OAuthConfig(w http.ResponseWriter, r *http.Request) {
	var appID, loginURL *string
	if h.github != nil {
		id, login := h.github.ClientID(), githubLoginPath
		appID, loginURL = &id, &login
	}
	h.writeJSON(w, http.StatusOK, map[string]*string{
		"github_app_id": appID,
		"login_url":     loginURL,
	})
}

var errGitHubDisabled = errors.New("github sign-in is not configured")
