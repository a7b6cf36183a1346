package domain

import (
	"time"

	"github.com/google/uuid"
)

// Player is an anonymous game-session identity. Key is the long-term
// shared secret used to sign score submissions.
type Player struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Key       uuid.UUID `json:"key"`
	CreatedAt time.Time `json:"-"`
}

// CreatePlayerRequest represents a request to create a player. A nil or
// empty name asks the server to generate one.
type CreatePlayerRequest struct {
	Name *string `json:"name,omitempty"`
}
