package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jornet-server/internal/config"
	"github.com/jornet-server/internal/domain"
)

// uniqueViolation is the SQLSTATE for unique_violation
const uniqueViolation = "23505"

// scoresUniqueConstraint guards the (leaderboard, player, score, timestamp) tuple
const scoresUniqueConstraint = "scores_tuple_key"

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS admins (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS admins_github (
			id BIGINT PRIMARY KEY,
			login TEXT NOT NULL,
			admin_id UUID NOT NULL UNIQUE REFERENCES admins(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS leaderboards (
			id UUID PRIMARY KEY,
			key UUID NOT NULL,
			name TEXT NOT NULL,
			owner UUID NOT NULL REFERENCES admins(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS players (
			id UUID PRIMARY KEY,
			key UUID NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			id BIGSERIAL PRIMARY KEY,
			leaderboard UUID NOT NULL REFERENCES leaderboards(id) ON DELETE CASCADE,
			player UUID NOT NULL REFERENCES players(id),
			score REAL NOT NULL,
			meta TEXT,
			timestamp TIMESTAMPTZ NOT NULL,
			CONSTRAINT scores_tuple_key UNIQUE (leaderboard, player, score, timestamp)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leaderboards_owner ON leaderboards(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_leaderboard_score ON scores(leaderboard, score DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// AdminExists reports whether an admin account exists
func (r *Repository) AdminExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM admins WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking admin existence: %w", err)
	}
	return exists, nil
}

// CreateAdmin creates an admin account, reporting false if it existed
func (r *Repository) CreateAdmin(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.pool.Exec(ctx, `INSERT INTO admins (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return false, fmt.Errorf("creating admin: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// LinkGitHub links a GitHub account to an admin. Relinking the same pair
// refreshes the login.
func (r *Repository) LinkGitHub(ctx context.Context, admin uuid.UUID, user domain.GitHubUser) error {
	query := `
		INSERT INTO admins_github (id, login, admin_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET login = EXCLUDED.login
		WHERE admins_github.admin_id = EXCLUDED.admin_id
	`
	result, err := r.pool.Exec(ctx, query, user.ID, user.Login, admin)
	if err != nil {
		if isUniqueViolation(err, "") {
			return domain.ErrGitHubLinked
		}
		return fmt.Errorf("linking github identity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrGitHubLinked
	}
	return nil
}

// AdminByGitHub finds the admin linked to a GitHub account
func (r *Repository) AdminByGitHub(ctx context.Context, githubID int64) (uuid.UUID, error) {
	var admin uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT admin_id FROM admins_github WHERE id = $1`, githubID).Scan(&admin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, domain.ErrAdminNotFound
		}
		return uuid.Nil, fmt.Errorf("getting admin by github id: %w", err)
	}
	return admin, nil
}

// GitHubIdentity returns the GitHub account linked to an admin, if any
func (r *Repository) GitHubIdentity(ctx context.Context, admin uuid.UUID) (*domain.GitHubUser, error) {
	var user domain.GitHubUser
	err := r.pool.QueryRow(ctx, `SELECT id, login FROM admins_github WHERE admin_id = $1`, admin).Scan(&user.ID, &user.Login)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting github identity: %w", err)
	}
	return &user, nil
}

// CreateLeaderboard stores a new leaderboard
func (r *Repository) CreateLeaderboard(ctx context.Context, lb domain.Leaderboard) error {
	query := `
		INSERT INTO leaderboards (id, key, name, owner, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	createdAt := lb.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.pool.Exec(ctx, query, lb.ID, lb.Key, lb.Name, lb.Owner, createdAt)
	if err != nil {
		return fmt.Errorf("creating leaderboard: %w", err)
	}
	return nil
}

// GetLeaderboard retrieves a leaderboard by ID
func (r *Repository) GetLeaderboard(ctx context.Context, id uuid.UUID) (*domain.Leaderboard, error) {
	query := `
		SELECT id, key, name, owner, created_at
		FROM leaderboards
		WHERE id = $1
	`
	var lb domain.Leaderboard
	err := r.pool.QueryRow(ctx, query, id).Scan(&lb.ID, &lb.Key, &lb.Name, &lb.Owner, &lb.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLeaderboardNotFound
		}
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}
	return &lb, nil
}

// ListLeaderboards returns the owner's leaderboards with score counts
func (r *Repository) ListLeaderboards(ctx context.Context, owner uuid.UUID) ([]domain.LeaderboardSummary, error) {
	query := `
		SELECT l.id, l.name, COUNT(s.id)
		FROM leaderboards l
		LEFT JOIN scores s ON s.leaderboard = l.id
		WHERE l.owner = $1
		GROUP BY l.id, l.name, l.created_at
		ORDER BY l.created_at, l.name
	`
	rows, err := r.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("listing leaderboards: %w", err)
	}
	defer rows.Close()

	var summaries []domain.LeaderboardSummary
	for rows.Next() {
		var summary domain.LeaderboardSummary
		if err := rows.Scan(&summary.ID, &summary.Name, &summary.Scores); err != nil {
			return nil, fmt.Errorf("scanning leaderboard: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing leaderboards: %w", err)
	}
	return summaries, nil
}

// LeaderboardIDs returns every leaderboard id
func (r *Repository) LeaderboardIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM leaderboards`)
	if err != nil {
		return nil, fmt.Errorf("listing leaderboard ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scanning leaderboard ids: %w", err)
	}
	return ids, nil
}

// DeleteScores removes every score of a leaderboard
func (r *Repository) DeleteScores(ctx context.Context, leaderboardID uuid.UUID) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM scores WHERE leaderboard = $1`, leaderboardID)
	if err != nil {
		return 0, fmt.Errorf("deleting scores: %w", err)
	}
	return result.RowsAffected(), nil
}

// CreatePlayer stores a new player
func (r *Repository) CreatePlayer(ctx context.Context, player domain.Player) error {
	createdAt := player.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO players (id, key, name, created_at) VALUES ($1, $2, $3, $4)`,
		player.ID, player.Key, player.Name, createdAt,
	)
	if err != nil {
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

// GetPlayer retrieves a player by ID
func (r *Repository) GetPlayer(ctx context.Context, id uuid.UUID) (*domain.Player, error) {
	var player domain.Player
	err := r.pool.QueryRow(ctx,
		`SELECT id, key, name, created_at FROM players WHERE id = $1`, id,
	).Scan(&player.ID, &player.Key, &player.Name, &player.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &player, nil
}

// ScoreExists reports whether the exact score tuple is stored
func (r *Repository) ScoreExists(ctx context.Context, score domain.Score) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM scores
			WHERE leaderboard = $1 AND player = $2 AND score = $3 AND timestamp = $4
		)
	`
	var exists bool
	err := r.pool.QueryRow(ctx, query, score.Leaderboard, score.Player, score.Score, score.Time()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking score existence: %w", err)
	}
	return exists, nil
}

// InsertScore appends a score. A violation of the tuple constraint is
// reported as domain.ErrDuplicateSubmission.
func (r *Repository) InsertScore(ctx context.Context, score domain.Score) error {
	query := `
		INSERT INTO scores (leaderboard, player, score, meta, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, score.Leaderboard, score.Player, score.Score, score.Meta, score.Time())
	if err != nil {
		if isUniqueViolation(err, scoresUniqueConstraint) {
			return domain.ErrDuplicateSubmission
		}
		return fmt.Errorf("inserting score: %w", err)
	}
	return nil
}

// ListScores returns every score of a leaderboard with player names
func (r *Repository) ListScores(ctx context.Context, leaderboardID uuid.UUID) ([]domain.ScoreView, error) {
	query := `
		SELECT s.leaderboard, s.player, s.score, s.meta, s.timestamp, p.name
		FROM scores s
		JOIN players p ON p.id = s.player
		WHERE s.leaderboard = $1
		ORDER BY s.timestamp, s.id
	`
	rows, err := r.pool.Query(ctx, query, leaderboardID)
	if err != nil {
		return nil, fmt.Errorf("listing scores: %w", err)
	}
	defer rows.Close()

	var views []domain.ScoreView
	for rows.Next() {
		var (
			score     domain.Score
			timestamp time.Time
			name      string
		)
		if err := rows.Scan(&score.Leaderboard, &score.Player, &score.Score, &score.Meta, &timestamp, &name); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		score.Timestamp = timestamp.Unix()
		views = append(views, domain.NewScoreView(score, name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing scores: %w", err)
	}
	return views, nil
}

// BestScores returns each player's best score, highest first. A limit of
// zero or less returns every player.
func (r *Repository) BestScores(ctx context.Context, leaderboardID uuid.UUID, limit int) ([]domain.BestScore, error) {
	query := `
		SELECT s.player, p.name, MAX(s.score) AS best
		FROM scores s
		JOIN players p ON p.id = s.player
		WHERE s.leaderboard = $1
		GROUP BY s.player, p.name
		ORDER BY best DESC, p.name
	`
	args := []any{leaderboardID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting best scores: %w", err)
	}
	defer rows.Close()

	var entries []domain.BestScore
	for rows.Next() {
		var entry domain.BestScore
		if err := rows.Scan(&entry.PlayerID, &entry.Player, &entry.Score); err != nil {
			return nil, fmt.Errorf("scanning best score: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting best scores: %w", err)
	}
	return entries, nil
}

// isUniqueViolation reports whether err is a unique_violation, optionally
// on a specific constraint
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
