package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jornet-server/internal/config"
	"github.com/jornet-server/internal/domain"
)

// Source is the durable side of a rebuild
type Source interface {
	LeaderboardIDs(ctx context.Context) ([]uuid.UUID, error)
	BestScores(ctx context.Context, leaderboardID uuid.UUID, limit int) ([]domain.BestScore, error)
}

// Rebuilder replaces a leaderboard's realtime ranking
type Rebuilder interface {
	BatchSetScores(ctx context.Context, leaderboardID uuid.UUID, scores []domain.BestScore) error
}

// SyncWorker rebuilds the realtime rankings from the store on a schedule
type SyncWorker struct {
	source    Source
	cache     Rebuilder
	config    *config.SyncConfig
	logger    *slog.Logger
	scheduler gocron.Scheduler
	mu        sync.Mutex
	running   bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(source Source, cache Rebuilder, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		source: source,
		cache:  cache,
		config: cfg,
		logger: logger,
	}
}

// Start runs one rebuild immediately and then every configured interval
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(w.config.Interval),
		gocron.NewTask(func() {
			if err := w.SyncAll(ctx); err != nil {
				w.logger.Error("cache rebuild failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		scheduler.Shutdown()
		return fmt.Errorf("scheduling cache rebuild: %w", err)
	}

	scheduler.Start()
	w.scheduler = scheduler
	w.running = true
	w.logger.Info("sync worker started", "interval", w.config.Interval)
	return nil
}

// Stop stops the schedule and waits for a running rebuild to finish
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false

	if err := w.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stopping scheduler: %w", err)
	}
	w.logger.Info("sync worker stopped")
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// SyncAll rebuilds every leaderboard. A failing leaderboard is logged and
// skipped; only a failure to list leaderboards is returned.
func (w *SyncWorker) SyncAll(ctx context.Context) error {
	startTime := time.Now()

	ids, err := w.source.LeaderboardIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing leaderboards: %w", err)
	}

	syncedCount := 0
	errorCount := 0
	for _, id := range ids {
		if err := w.SyncLeaderboard(ctx, id); err != nil {
			w.logger.Error("failed to rebuild leaderboard",
				"leaderboard_id", id,
				"error", err,
			)
			errorCount++
			continue
		}
		syncedCount++
	}

	w.logger.Info("cache rebuild completed",
		"duration", time.Since(startTime),
		"synced", syncedCount,
		"errors", errorCount,
	)
	return nil
}

// SyncLeaderboard replaces one leaderboard's ranking with the stored best
// score of every player
func (w *SyncWorker) SyncLeaderboard(ctx context.Context, leaderboardID uuid.UUID) error {
	scores, err := w.source.BestScores(ctx, leaderboardID, 0)
	if err != nil {
		return err
	}
	if err := w.cache.BatchSetScores(ctx, leaderboardID, scores); err != nil {
		return err
	}

	w.logger.Debug("rebuilt leaderboard",
		"leaderboard_id", leaderboardID,
		"player_count", len(scores),
	)
	return nil
}
