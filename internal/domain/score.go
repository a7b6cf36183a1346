package domain

import (
	"time"

	"github.com/google/uuid"
)

// Score is an accepted, immutable score row. The tuple
// (Leaderboard, Player, Score, Timestamp) is unique.
type Score struct {
	Leaderboard uuid.UUID
	Player      uuid.UUID
	Score       float32
	Meta        *string
	Timestamp   int64
}

// Time returns the submission timestamp as a UTC time
func (s Score) Time() time.Time {
	return time.Unix(s.Timestamp, 0).UTC()
}

// ScoreView is a score as returned to readers, with the player name resolved
type ScoreView struct {
	Score     float32 `json:"score"`
	Meta      *string `json:"meta"`
	Timestamp string  `json:"timestamp"`
	Player    string  `json:"player"`
}

// NewScoreView formats a stored score for readers
func NewScoreView(score Score, playerName string) ScoreView {
	return ScoreView{
		Score:     score.Score,
		Meta:      score.Meta,
		Timestamp: score.Time().Format(time.RFC3339),
		Player:    playerName,
	}
}

// ScoreEvent is broadcast to live subscribers when a score is accepted
type ScoreEvent struct {
	LeaderboardID uuid.UUID `json:"leaderboard_id"`
	Player        string    `json:"player"`
	Score         float32   `json:"score"`
	Meta          *string   `json:"meta,omitempty"`
	Timestamp     string    `json:"timestamp"`
}

// BestScore is a player's highest score on one leaderboard
type BestScore struct {
	PlayerID uuid.UUID
	Player   string
	Score    float32
}
