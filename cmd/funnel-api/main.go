package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/gosight/funnel/internal/cache"
	"github.com/gosight/funnel/internal/config"
	"github.com/gosight/funnel/internal/handler"
	"github.com/gosight/funnel/internal/loader"
	"github.com/gosight/funnel/internal/logging"
	"github.com/gosight/funnel/internal/metrics"
	"github.com/gosight/funnel/internal/resultcache"
)

func main() {
	// Optional .env for local runs.
	_ = godotenv.Load()

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}
	logging.Setup(cfg.Log)
	metrics.Register()

	log.Info().
		Str("source", cfg.Source.Kind).
		Str("path", cfg.Source.Path).
		Str("table", cfg.Source.Table).
		Bool("lenient", cfg.Source.Lenient).
		Msg("Starting funnel API...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, closeSource, err := loader.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open source")
	}
	defer closeSource()

	tables := cache.NewTables(loader.OptionsFromConfig(cfg))

	// Warm the cache. A failure here is served as 503 until the source recovers.
	if t, _, err := tables.Get(ctx, src); err != nil {
		log.Warn().Err(err).Msg("Initial load failed")
	} else {
		log.Info().Int("rows", t.Len()).Msg("Initial load complete")
	}

	if fs, ok := src.(loader.FileSource); ok && cfg.Source.Watch {
		go func() {
			if err := cache.Watch(ctx, fs, tables); err != nil {
				log.Error().Err(err).Msg("File watcher stopped")
			}
		}()
	}

	results, err := resultcache.New(ctx, cfg.Redis, cfg.Cache.ResultTTL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, result cache disabled")
		results = nil
	}
	defer results.Close()

	httpHandler := handler.NewHTTPHandler(src, tables, results)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpHandler.Router(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
