package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/domain"
)

// AdminStore is the identity and account boundary. AdminByGitHub returns
// domain.ErrAdminNotFound for an unlinked GitHub account; GitHubIdentity
// returns nil when the admin has no linked identity.
type AdminStore interface {
	AdminExists(ctx context.Context, id uuid.UUID) (bool, error)
	CreateAdmin(ctx context.Context, id uuid.UUID) (bool, error)
	LinkGitHub(ctx context.Context, admin uuid.UUID, user domain.GitHubUser) error
	AdminByGitHub(ctx context.Context, githubID int64) (uuid.UUID, error)
	GitHubIdentity(ctx context.Context, admin uuid.UUID) (*domain.GitHubUser, error)
}

// LeaderboardStore persists leaderboards. GetLeaderboard returns
// domain.ErrLeaderboardNotFound for unknown ids.
type LeaderboardStore interface {
	CreateLeaderboard(ctx context.Context, lb domain.Leaderboard) error
	GetLeaderboard(ctx context.Context, id uuid.UUID) (*domain.Leaderboard, error)
	ListLeaderboards(ctx context.Context, owner uuid.UUID) ([]domain.LeaderboardSummary, error)
	LeaderboardIDs(ctx context.Context) ([]uuid.UUID, error)
	DeleteScores(ctx context.Context, leaderboardID uuid.UUID) (int64, error)
}

// PlayerStore persists players. GetPlayer returns domain.ErrPlayerNotFound
// for unknown ids.
type PlayerStore interface {
	CreatePlayer(ctx context.Context, player domain.Player) error
	GetPlayer(ctx context.Context, id uuid.UUID) (*domain.Player, error)
}

// ScoreStore persists accepted scores. InsertScore must return
// domain.ErrDuplicateSubmission when the (leaderboard, player, score,
// timestamp) tuple already exists; that is the authoritative check.
type ScoreStore interface {
	ScoreExists(ctx context.Context, score domain.Score) (bool, error)
	InsertScore(ctx context.Context, score domain.Score) error
	ListScores(ctx context.Context, leaderboardID uuid.UUID) ([]domain.ScoreView, error)
	BestScores(ctx context.Context, leaderboardID uuid.UUID, limit int) ([]domain.BestScore, error)
}

// Store is everything the services need from persistence
type Store interface {
	AdminStore
	LeaderboardStore
	PlayerStore
	ScoreStore
}

// ScoreCache is the optional Redis layer: a replay filter and a realtime
// best-score ranking. Failures are logged, never returned to clients.
type ScoreCache interface {
	SeenSubmission(ctx context.Context, digest string, ttl time.Duration) (bool, error)
	ForgetSubmission(ctx context.Context, digest string) error
	RecordScore(ctx context.Context, leaderboardID uuid.UUID, best domain.BestScore) error
	Top(ctx context.Context, leaderboardID uuid.UUID, n int) ([]domain.RankedEntry, error)
	Reset(ctx context.Context, leaderboardID uuid.UUID) error
}

// Broadcaster pushes accepted scores to live subscribers
type Broadcaster interface {
	BroadcastScore(event domain.ScoreEvent)
}

// TokenIssuer mints admin capability tokens
type TokenIssuer interface {
	Issue(subject domain.AdminAccount) (string, error)
}
