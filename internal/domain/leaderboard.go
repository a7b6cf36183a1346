package domain

import (
	"time"

	"github.com/google/uuid"
)

// Leaderboard is a score table owned by an admin. Key is the secret mixed
// into every score signature and is only ever returned at creation.
type Leaderboard struct {
	ID        uuid.UUID `json:"id"`
	Key       uuid.UUID `json:"-"`
	Name      string    `json:"name"`
	Owner     uuid.UUID `json:"-"`
	CreatedAt time.Time `json:"-"`
}

// CreateLeaderboardRequest represents a request to create a new leaderboard
type CreateLeaderboardRequest struct {
	Name string `json:"name"`
}

// CreatedLeaderboard is the one-time creation reply that exposes the key
type CreatedLeaderboard struct {
	ID   uuid.UUID `json:"id"`
	Key  uuid.UUID `json:"key"`
	Name string    `json:"name"`
}

// LeaderboardSummary is a leaderboard as listed to its owner
type LeaderboardSummary struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Scores int64     `json:"scores"`
}

// RankedEntry is one row of the best-score-per-player ranking
type RankedEntry struct {
	Rank   int64   `json:"rank"`
	Player string  `json:"player"`
	Score  float32 `json:"score"`
}
