package service

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/config"
	"github.com/jornet-server/internal/domain"
	"github.com/jornet-server/internal/integrity"
	"github.com/zeebo/blake3"
)

// ScoreService accepts signed score submissions and serves score queries
type ScoreService struct {
	store  Store
	cache  ScoreCache
	hub    Broadcaster
	config *config.ScoresConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewScoreService creates a new score service. cache may be nil.
func NewScoreService(store Store, cache ScoreCache, cfg *config.ScoresConfig, logger *slog.Logger) *ScoreService {
	return &ScoreService{
		store:  store,
		cache:  cache,
		config: cfg,
		now:    time.Now,
		logger: logger,
	}
}

// SetHub sets the live feed accepted scores are broadcast to
func (s *ScoreService) SetHub(hub Broadcaster) {
	s.hub = hub
}

// SetClock replaces the clock used for the timestamp window
func (s *ScoreService) SetClock(now func() time.Time) {
	s.now = now
}

// Submit verifies and stores a signed score. Checks run in order and stop
// at the first failure: player, leaderboard, signature, timestamp window,
// replay. The replay marker is a fast path; the store's uniqueness check
// decides. Cache and live feed errors never fail a submission.
func (s *ScoreService) Submit(ctx context.Context, leaderboardID uuid.UUID, sub integrity.Submission) error {
	player, err := s.store.GetPlayer(ctx, sub.Player)
	if err != nil {
		return fmt.Errorf("resolving player: %w", err)
	}
	lb, err := s.store.GetLeaderboard(ctx, leaderboardID)
	if err != nil {
		return fmt.Errorf("resolving leaderboard: %w", err)
	}

	if !sub.Verify(player.Key, lb.Key) {
		return domain.ErrSignatureInvalid
	}
	if err := s.checkWindow(sub.Timestamp); err != nil {
		return err
	}

	score := domain.Score{
		Leaderboard: lb.ID,
		Player:      player.ID,
		Score:       sub.Score,
		Meta:        sub.Meta,
		Timestamp:   sub.Timestamp,
	}

	digest := ReplayDigest(score)
	claimed := false
	if s.cache != nil {
		seen, err := s.cache.SeenSubmission(ctx, digest, s.config.ReplayTTL)
		switch {
		case err != nil:
			s.logger.Warn("replay filter unavailable", "error", err)
		case seen:
			// A marker can outlive a submission that never reached the
			// store, so only a stored row makes it a duplicate.
			exists, err := s.store.ScoreExists(ctx, score)
			if err != nil {
				return fmt.Errorf("checking for duplicate score: %w", err)
			}
			if exists {
				return domain.ErrDuplicateSubmission
			}
			claimed = true
		default:
			claimed = true
		}
	}

	if err := s.insert(ctx, score); err != nil {
		if claimed && !errors.Is(err, domain.ErrDuplicateSubmission) {
			if ferr := s.cache.ForgetSubmission(context.WithoutCancel(ctx), digest); ferr != nil {
				s.logger.Warn("failed to release replay digest", "error", ferr)
			}
		}
		return err
	}

	s.publish(ctx, lb, player, score)
	return nil
}

// insert runs the read-time pre-check, then the insert whose uniqueness
// violation is the authoritative duplicate signal.
func (s *ScoreService) insert(ctx context.Context, score domain.Score) error {
	exists, err := s.store.ScoreExists(ctx, score)
	if err != nil {
		return fmt.Errorf("checking for duplicate score: %w", err)
	}
	if exists {
		return domain.ErrDuplicateSubmission
	}
	if err := s.store.InsertScore(ctx, score); err != nil {
		if errors.Is(err, domain.ErrDuplicateSubmission) {
			return domain.ErrDuplicateSubmission
		}
		return fmt.Errorf("inserting score: %w", err)
	}
	return nil
}

func (s *ScoreService) checkWindow(timestamp int64) error {
	now := s.now()
	submitted := time.Unix(timestamp, 0)
	if s.config.MaxAge > 0 && now.Sub(submitted) > s.config.MaxAge {
		return domain.ErrStaleSubmission
	}
	if s.config.MaxFutureSkew > 0 && submitted.Sub(now) > s.config.MaxFutureSkew {
		return domain.ErrStaleSubmission
	}
	return nil
}

func (s *ScoreService) publish(ctx context.Context, lb *domain.Leaderboard, player *domain.Player, score domain.Score) {
	if s.cache != nil {
		best := domain.BestScore{PlayerID: player.ID, Player: player.Name, Score: score.Score}
		if err := s.cache.RecordScore(ctx, lb.ID, best); err != nil {
			s.logger.Warn("failed to update realtime leaderboard", "leaderboard_id", lb.ID, "error", err)
		}
	}
	if s.hub != nil {
		view := domain.NewScoreView(score, player.Name)
		s.hub.BroadcastScore(domain.ScoreEvent{
			LeaderboardID: lb.ID,
			Player:        view.Player,
			Score:         view.Score,
			Meta:          view.Meta,
			Timestamp:     view.Timestamp,
		})
	}
}

// List returns every score of a leaderboard with player names resolved
func (s *ScoreService) List(ctx context.Context, leaderboardID uuid.UUID) ([]domain.ScoreView, error) {
	if _, err := s.store.GetLeaderboard(ctx, leaderboardID); err != nil {
		return nil, err
	}
	views, err := s.store.ListScores(ctx, leaderboardID)
	if err != nil {
		return nil, fmt.Errorf("listing scores: %w", err)
	}
	if views == nil {
		views = []domain.ScoreView{}
	}
	return views, nil
}

// Top returns the best score of each player, highest first. The realtime
// cache answers when it holds a ranking; the store is the fallback.
func (s *ScoreService) Top(ctx context.Context, leaderboardID uuid.UUID, limit int) ([]domain.RankedEntry, error) {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	if _, err := s.store.GetLeaderboard(ctx, leaderboardID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		entries, err := s.cache.Top(ctx, leaderboardID, limit)
		switch {
		case err != nil:
			s.logger.Warn("realtime leaderboard unavailable, reading store", "leaderboard_id", leaderboardID, "error", err)
		case len(entries) > 0:
			return entries, nil
		}
	}

	best, err := s.store.BestScores(ctx, leaderboardID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting best scores: %w", err)
	}
	entries := make([]domain.RankedEntry, len(best))
	for i, b := range best {
		entries[i] = domain.RankedEntry{Rank: int64(i + 1), Player: b.Player, Score: b.Score}
	}
	return entries, nil
}

// ReplayDigest identifies a score tuple for the replay filter
func ReplayDigest(score domain.Score) string {
	buf := make([]byte, 0, 16+16+4+8)
	buf = append(buf, score.Leaderboard[:]...)
	buf = append(buf, score.Player[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(score.Score))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(score.Timestamp))
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
