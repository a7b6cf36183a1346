package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/config"
	"github.com/jornet-server/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ErrPlayerNameMissing is returned by Top when a ranked player has no
// cached name; callers fall back to the store.
var ErrPlayerNameMissing = errors.New("player name missing from cache")

// Cache provides the Redis realtime ranking and replay filter
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewCache connects to Redis
func NewCache(cfg *config.RedisConfig, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewCacheFromClient(client, logger), nil
}

// NewCacheFromClient wraps an existing client
func NewCacheFromClient(client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client returns the underlying Redis client
func (c *Cache) Client() *redis.Client {
	return c.client
}

// leaderboardKey returns the Redis key for a leaderboard's best-score set
func leaderboardKey(leaderboardID uuid.UUID) string {
	return fmt.Sprintf("jornet:leaderboard:%s:best", leaderboardID)
}

// playerInfoKey returns the Redis key for the player name cache
func playerInfoKey(playerID string) string {
	return fmt.Sprintf("jornet:player:%s:info", playerID)
}

// RecordScore raises a player's best score if the new one is higher and
// caches the player's name for ranking reads
func (c *Cache) RecordScore(ctx context.Context, leaderboardID uuid.UUID, best domain.BestScore) error {
	member := best.PlayerID.String()

	pipe := c.client.Pipeline()
	pipe.ZAddGT(ctx, leaderboardKey(leaderboardID), redis.Z{
		Score:  float64(best.Score),
		Member: member,
	})
	pipe.HSet(ctx, playerInfoKey(member), "name", best.Player)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording score: %w", err)
	}
	return nil
}

// Top returns the n best players, highest first
func (c *Cache) Top(ctx context.Context, leaderboardID uuid.UUID, n int) ([]domain.RankedEntry, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, leaderboardKey(leaderboardID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	if len(results) == 0 {
		return []domain.RankedEntry{}, nil
	}

	// Resolve names in one round trip
	pipe := c.client.Pipeline()
	names := make([]*redis.StringCmd, len(results))
	for i, result := range results {
		names[i] = pipe.HGet(ctx, playerInfoKey(result.Member.(string)), "name")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPlayerNameMissing
		}
		return nil, fmt.Errorf("resolving player names: %w", err)
	}

	entries := make([]domain.RankedEntry, len(results))
	for i, result := range results {
		entries[i] = domain.RankedEntry{
			Rank:   int64(i + 1),
			Player: names[i].Val(),
			Score:  float32(result.Score),
		}
	}
	return entries, nil
}

// Reset clears a leaderboard's ranking
func (c *Cache) Reset(ctx context.Context, leaderboardID uuid.UUID) error {
	if err := c.client.Del(ctx, leaderboardKey(leaderboardID)).Err(); err != nil {
		return fmt.Errorf("resetting leaderboard: %w", err)
	}
	return nil
}

// BatchSetScores replaces a leaderboard's ranking atomically
func (c *Cache) BatchSetScores(ctx context.Context, leaderboardID uuid.UUID, scores []domain.BestScore) error {
	key := leaderboardKey(leaderboardID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)

	for _, best := range scores {
		member := best.PlayerID.String()
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(best.Score),
			Member: member,
		})
		pipe.HSet(ctx, playerInfoKey(member), "name", best.Player)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch setting scores: %w", err)
	}
	return nil
}

// Count returns the number of ranked players in a leaderboard
func (c *Cache) Count(ctx context.Context, leaderboardID uuid.UUID) (int64, error) {
	count, err := c.client.ZCard(ctx, leaderboardKey(leaderboardID)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}
