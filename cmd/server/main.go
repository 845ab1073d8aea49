package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/polymolt/relay/internal/api"
	"github.com/polymolt/relay/internal/config"
	"github.com/polymolt/relay/internal/handlers"
	"github.com/polymolt/relay/internal/relay"
	"github.com/polymolt/relay/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Agent store: Postgres when configured, SQLite otherwise
	var agentStore store.AgentStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		agentStore = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		agentStore = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
	}
	defer agentStore.Close()

	// Message log: Redis when configured, bounded in-memory log otherwise
	var messages store.MessageLog
	var redisLog *store.RedisLog
	if cfg.RedisURL != "" {
		var err error
		redisLog, err = store.NewRedisLog(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisLog.Close()
		messages = redisLog
		logger.Info().Msg("connected to Redis")
	} else {
		messages = store.NewMemoryLog(cfg.MarketLogCap)
		logger.Info().Int("market_cap", cfg.MarketLogCap).Msg("using in-memory message log")
	}

	// Agent registry, warmed from the durable store
	registry := relay.NewRegistry(agentStore, logger)
	if err := registry.Warm(ctx); err != nil {
		logger.Warn().Err(err).Msg("registry warm-up failed")
	} else if n := registry.Count(); n > 0 {
		logger.Info().Int("agents", n).Msg("registry warmed from store")
	}

	// Relay hub
	var limiter relay.Limiter
	if redisLog != nil {
		limiter = redisLog
	}
	hub := relay.NewHub(logger, registry, messages, relay.Options{
		HistoryLimit: cfg.HistoryLimit,
		MsgRateLimit: cfg.MsgRateLimit,
		WSRateLimit:  cfg.WSRateLimit,
		Limiter:      limiter,
	})

	// Router and server
	h := handlers.NewHandler(hub, messages, agentStore, redisLog, cfg.QueryLimit)
	router := api.NewRouter(logger, hub, h)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting relay server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Drop live relay connections, then stop the HTTP server
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
