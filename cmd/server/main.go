package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jornet-server/internal/auth"
	"github.com/jornet-server/internal/config"
	"github.com/jornet-server/internal/handler"
	"github.com/jornet-server/internal/kafka"
	"github.com/jornet-server/internal/oauth"
	"github.com/jornet-server/internal/postgres"
	"github.com/jornet-server/internal/redis"
	"github.com/jornet-server/internal/service"
	"github.com/jornet-server/internal/store/memory"
	"github.com/jornet-server/internal/websocket"
	"github.com/jornet-server/internal/worker"
	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.StringP("config", "c", "config.yaml", "Path to configuration file")
	storeDriver := flag.String("store", "", "Override store.driver (postgres or memory)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, found, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if !found {
		logger.Warn("config file not found, using defaults", "path", *configPath)
	}
	if *storeDriver != "" {
		cfg.Store.Driver = *storeDriver
		if err := cfg.Validate(); err != nil {
			logger.Error("invalid configuration", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	var store service.Store
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		store = memory.New()
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		store = repo
	}

	// Realtime cache and replay filter
	var (
		cache      service.ScoreCache
		redisCache *redis.Cache
	)
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		redisCache, err = redis.NewCache(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		cache = redisCache
	}

	// Admin tokens
	privateKey, err := auth.LoadKey(cfg.Auth.PrivateKey, cfg.Auth.PrivateKeyFile, logger)
	if err != nil {
		logger.Error("failed to load token key", "error", err)
		os.Exit(1)
	}
	engine, err := auth.NewEngine(auth.Config{PrivateKey: privateKey, TTL: cfg.Auth.TokenTTL})
	if err != nil {
		logger.Error("failed to create token engine", "error", err)
		os.Exit(1)
	}

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()

	authService := service.NewAuthService(store, engine, logger)
	leaderboardService := service.NewLeaderboardService(store, cache, logger)
	playerService := service.NewPlayerService(store, logger)
	scoreService := service.NewScoreService(store, cache, &cfg.Scores, logger)
	scoreService.SetHub(wsHub)

	// Rebuild the realtime rankings from the store
	var syncWorker *worker.SyncWorker
	if redisCache != nil && cfg.Sync.Enabled {
		syncWorker = worker.NewSyncWorker(store, redisCache, &cfg.Sync, logger)
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, scoreService, logger)
		if err != nil {
			logger.Warn("failed to create kafka consumer, continuing without kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start kafka consumer, continuing without kafka", "error", err)
			kafkaConsumer = nil
		}
	}

	var github *oauth.GitHub
	if cfg.GitHub.Enabled() {
		github, err = oauth.NewGitHub(&cfg.GitHub)
		if err != nil {
			logger.Error("failed to configure github sign-in", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("github sign-in disabled")
	}

	httpHandler := handler.NewHandler(handler.Services{
		Auth:         authService,
		Leaderboards: leaderboardService,
		Players:      playerService,
		Scores:       scoreService,
	}, engine, github, wsHub, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "store", cfg.Store.Driver, "redis", cfg.Redis.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop kafka consumer", "error", err)
		}
	}

	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}

	logger.Info("server stopped")
}
