package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/domain"
)

// LeaderboardService provides admin operations on leaderboards
type LeaderboardService struct {
	store  LeaderboardStore
	cache  ScoreCache
	logger *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service. cache may be nil.
func NewLeaderboardService(store LeaderboardStore, cache ScoreCache, logger *slog.Logger) *LeaderboardService {
	return &LeaderboardService{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// Create creates a leaderboard owned by admin. The returned key is the
// only time the secret leaves the server.
func (s *LeaderboardService) Create(ctx context.Context, owner domain.AdminAccount, req domain.CreateLeaderboardRequest) (*domain.CreatedLeaderboard, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: leaderboard name is required", domain.ErrInvalidRequest)
	}

	lb := domain.Leaderboard{
		ID:    uuid.New(),
		Key:   uuid.New(),
		Name:  name,
		Owner: owner.ID,
	}
	if err := s.store.CreateLeaderboard(ctx, lb); err != nil {
		return nil, fmt.Errorf("creating leaderboard: %w", err)
	}

	s.logger.Info("leaderboard created", "leaderboard_id", lb.ID, "owner", owner.ID)
	return &domain.CreatedLeaderboard{ID: lb.ID, Key: lb.Key, Name: lb.Name}, nil
}

// List returns the admin's leaderboards with their score counts
func (s *LeaderboardService) List(ctx context.Context, owner domain.AdminAccount) ([]domain.LeaderboardSummary, error) {
	summaries, err := s.store.ListLeaderboards(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("listing leaderboards: %w", err)
	}
	if summaries == nil {
		summaries = []domain.LeaderboardSummary{}
	}
	return summaries, nil
}

// DeleteAllScores purges a leaderboard's scores. Only the owner may do
// this; anyone else gets domain.ErrLeaderboardNotFound. Purging an empty
// leaderboard succeeds.
func (s *LeaderboardService) DeleteAllScores(ctx context.Context, owner domain.AdminAccount, leaderboardID uuid.UUID) error {
	lb, err := s.store.GetLeaderboard(ctx, leaderboardID)
	if err != nil {
		return err
	}
	if lb.Owner != owner.ID {
		return domain.ErrLeaderboardNotFound
	}

	deleted, err := s.store.DeleteScores(ctx, leaderboardID)
	if err != nil {
		return fmt.Errorf("deleting scores: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Reset(ctx, leaderboardID); err != nil {
			s.logger.Warn("failed to reset realtime leaderboard", "leaderboard_id", leaderboardID, "error", err)
		}
	}

	s.logger.Info("leaderboard scores deleted", "leaderboard_id", leaderboardID, "deleted", deleted)
	return nil
}
