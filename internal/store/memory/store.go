// Package memory is an in-process store with the same uniqueness rules as
// the Postgres repository. It backs tests and store.driver: memory.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/domain"
)

type scoreKey struct {
	leaderboard uuid.UUID
	player      uuid.UUID
	score       float32
	timestamp   int64
}

// Store is a mutex-guarded in-memory implementation of service.Store
type Store struct {
	mu sync.RWMutex

	admins       map[uuid.UUID]struct{}
	githubs      map[int64]uuid.UUID
	adminGitHub  map[uuid.UUID]domain.GitHubUser
	leaderboards map[uuid.UUID]domain.Leaderboard
	players      map[uuid.UUID]domain.Player
	scores       []domain.Score
	scoreIndex   map[scoreKey]struct{}
	now          func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		admins:       make(map[uuid.UUID]struct{}),
		githubs:      make(map[int64]uuid.UUID),
		adminGitHub:  make(map[uuid.UUID]domain.GitHubUser),
		leaderboards: make(map[uuid.UUID]domain.Leaderboard),
		players:      make(map[uuid.UUID]domain.Player),
		scoreIndex:   make(map[scoreKey]struct{}),
		now:          time.Now,
	}
}

func keyOf(s domain.Score) scoreKey {
	return scoreKey{leaderboard: s.Leaderboard, player: s.Player, score: s.Score, timestamp: s.Timestamp}
}

// AdminExists reports whether an admin account exists
func (s *Store) AdminExists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[id]
	return ok, nil
}

// CreateAdmin creates an admin account, reporting false if it existed
func (s *Store) CreateAdmin(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[id]; ok {
		return false, nil
	}
	s.admins[id] = struct{}{}
	return true, nil
}

// LinkGitHub links a GitHub account to an admin
func (s *Store) LinkGitHub(_ context.Context, admin uuid.UUID, user domain.GitHubUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[admin]; !ok {
		return domain.ErrAdminNotFound
	}
	if owner, ok := s.githubs[user.ID]; ok && owner != admin {
		return domain.ErrGitHubLinked
	}
	if existing, ok := s.adminGitHub[admin]; ok && existing.ID != user.ID {
		return domain.ErrGitHubLinked
	}
	s.githubs[user.ID] = admin
	s.adminGitHub[admin] = user
	return nil
}

// AdminByGitHub finds the admin linked to a GitHub account
func (s *Store) AdminByGitHub(_ context.Context, githubID int64) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	admin, ok := s.githubs[githubID]
	if !ok {
		return uuid.Nil, domain.ErrAdminNotFound
	}
	return admin, nil
}

// GitHubIdentity returns the GitHub account linked to an admin, if any
func (s *Store) GitHubIdentity(_ context.Context, admin uuid.UUID) (*domain.GitHubUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.adminGitHub[admin]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

// CreateLeaderboard stores a new leaderboard
func (s *Store) CreateLeaderboard(_ context.Context, lb domain.Leaderboard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[lb.Owner]; !ok {
		return domain.ErrAdminNotFound
	}
	if _, ok := s.leaderboards[lb.ID]; ok {
		return errors.New("leaderboard id already exists")
	}
	if lb.CreatedAt.IsZero() {
		lb.CreatedAt = s.now()
	}
	s.leaderboards[lb.ID] = lb
	return nil
}

// GetLeaderboard returns a leaderboard by id
func (s *Store) GetLeaderboard(_ context.Context, id uuid.UUID) (*domain.Leaderboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lb, ok := s.leaderboards[id]
	if !ok {
		return nil, domain.ErrLeaderboardNotFound
	}
	return &lb, nil
}

// ListLeaderboards returns the owner's leaderboards with score counts,
// oldest first
func (s *Store) ListLeaderboards(_ context.Context, owner uuid.UUID) ([]domain.LeaderboardSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[uuid.UUID]int64)
	for _, score := range s.scores {
		counts[score.Leaderboard]++
	}

	var owned []domain.Leaderboard
	for _, lb := range s.leaderboards {
		if lb.Owner == owner {
			owned = append(owned, lb)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].Name < owned[j].Name
		}
		return owned[i].CreatedAt.Before(owned[j].CreatedAt)
	})

	summaries := make([]domain.LeaderboardSummary, 0, len(owned))
	for _, lb := range owned {
		summaries = append(summaries, domain.LeaderboardSummary{ID: lb.ID, Name: lb.Name, Scores: counts[lb.ID]})
	}
	return summaries, nil
}

// LeaderboardIDs returns every leaderboard id
func (s *Store) LeaderboardIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(s.leaderboards))
	for id := range s.leaderboards {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteScores removes every score of a leaderboard
func (s *Store) DeleteScores(_ context.Context, leaderboardID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.scores[:0]
	var deleted int64
	for _, score := range s.scores {
		if score.Leaderboard == leaderboardID {
			delete(s.scoreIndex, keyOf(score))
			deleted++
			continue
		}
		kept = append(kept, score)
	}
	s.scores = kept
	return deleted, nil
}

// CreatePlayer stores a new player
func (s *Store) CreatePlayer(_ context.Context, player domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[player.ID]; ok {
		return errors.New("player id already exists")
	}
	if player.CreatedAt.IsZero() {
		player.CreatedAt = s.now()
	}
	s.players[player.ID] = player
	return nil
}

// GetPlayer returns a player by id
func (s *Store) GetPlayer(_ context.Context, id uuid.UUID) (*domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[id]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	return &player, nil
}

// ScoreExists reports whether the exact score tuple is stored
func (s *Store) ScoreExists(_ context.Context, score domain.Score) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.scoreIndex[keyOf(score)]
	return ok, nil
}

// InsertScore appends a score, rejecting an existing tuple
func (s *Store) InsertScore(_ context.Context, score domain.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leaderboards[score.Leaderboard]; !ok {
		return domain.ErrLeaderboardNotFound
	}
	if _, ok := s.players[score.Player]; !ok {
		return domain.ErrPlayerNotFound
	}
	key := keyOf(score)
	if _, ok := s.scoreIndex[key]; ok {
		return domain.ErrDuplicateSubmission
	}
	s.scoreIndex[key] = struct{}{}
	s.scores = append(s.scores, score)
	return nil
}

// ListScores returns every score of a leaderboard ordered by timestamp
func (s *Store) ListScores(_ context.Context, leaderboardID uuid.UUID) ([]domain.ScoreView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []domain.Score
	for _, score := range s.scores {
		if score.Leaderboard == leaderboardID {
			rows = append(rows, score)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

	views := make([]domain.ScoreView, 0, len(rows))
	for _, score := range rows {
		views = append(views, domain.NewScoreView(score, s.players[score.Player].Name))
	}
	return views, nil
}

// BestScores returns each player's best score, highest first. A limit of
// zero or less returns every player.
func (s *Store) BestScores(_ context.Context, leaderboardID uuid.UUID, limit int) ([]domain.BestScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := make(map[uuid.UUID]float32)
	for _, score := range s.scores {
		if score.Leaderboard != leaderboardID {
			continue
		}
		if current, ok := best[score.Player]; !ok || score.Score > current {
			best[score.Player] = score.Score
		}
	}

	entries := make([]domain.BestScore, 0, len(best))
	for player, score := range best {
		entries = append(entries, domain.BestScore{
			PlayerID: player,
			Player:   s.players[player].Name,
			Score:    score,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Player < entries[j].Player
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
