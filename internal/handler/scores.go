package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/jornet-server/internal/domain"
	"github.com/jornet-server/internal/integrity"
)

// CreatePlayer registers an anonymous player and returns its key
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, domain.CodeInvalidRequest, "malformed request body")
		return
	}

	player, err := h.services.Players.Create(r.Context(), req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, player)
}

// SubmitScore accepts a signed score
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	id, ok := h.leaderboardParam(w, r)
	if !ok {
		return
	}
	var submission integrity.Submission
	if !h.decodeJSON(w, r, &submission) {
		return
	}

	if err := h.services.Scores.Submit(r.Context(), id, submission); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ListScores returns every score of a leaderboard
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	id, ok := h.leaderboardParam(w, r)
	if !ok {
		return
	}

	scores, err := h.services.Scores.List(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, scores)
}

// TopScores returns the best score per player, highest first
func (h *Handler) TopScores(w http.ResponseWriter, r *http.Request) {
	id, ok := h.leaderboardParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, domain.CodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.services.Scores.Top(r.Context(), id, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}
