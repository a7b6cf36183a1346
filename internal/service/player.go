package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/domain"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
	"Ace", "Bolt", "Crash", "Dash", "Edge", "Flash", "Glitch", "Haze", "Ion", "Jade",
	"Knight", "Luna", "Mystic", "Neon", "Orion", "Pulse", "Quantum", "Rebel", "Spark", "Turbo",
}

// GeneratePlayerName returns a random name such as "Nova482"
func GeneratePlayerName() string {
	return fmt.Sprintf("%s%d", playerPrefixes[rand.Intn(len(playerPrefixes))], rand.Intn(9999)+1)
}

// PlayerService registers anonymous players
type PlayerService struct {
	store  PlayerStore
	logger *slog.Logger
}

// NewPlayerService creates a new player service
func NewPlayerService(store PlayerStore, logger *slog.Logger) *PlayerService {
	return &PlayerService{store: store, logger: logger}
}

// Create registers a player with a fresh id and secret key. A supplied
// non-blank name is kept verbatim; otherwise one is generated. The key
// is only ever returned here.
func (s *PlayerService) Create(ctx context.Context, name *string) (*domain.Player, error) {
	player := domain.Player{
		ID:  uuid.New(),
		Key: uuid.New(),
	}
	if name != nil && strings.TrimSpace(*name) != "" {
		player.Name = *name
	} else {
		player.Name = GeneratePlayerName()
	}

	if err := s.store.CreatePlayer(ctx, player); err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}

	s.logger.Info("player created", "player_id", player.ID, "name", player.Name)
	return &player, nil
}
