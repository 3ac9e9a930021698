package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/gosight/funnel/internal/config"
	"github.com/gosight/funnel/internal/consumer"
	"github.com/gosight/funnel/internal/funnel"
	"github.com/gosight/funnel/internal/handler"
	"github.com/gosight/funnel/internal/loader"
	"github.com/gosight/funnel/internal/logging"
	"github.com/gosight/funnel/internal/metrics"
	"github.com/gosight/funnel/internal/processor"
	"github.com/gosight/funnel/internal/storage"
	"github.com/gosight/funnel/internal/transformer"
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
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Str("clickhouse_addr", cfg.ClickHouse.Addr).
		Str("table", cfg.Source.Table).
		Int("batch_size", cfg.Batch.Size).
		Dur("flush_interval", cfg.Batch.FlushInterval).
		Msg("Configuration loaded")

	if err := storage.ValidTable(cfg.Source.Table); err != nil {
		log.Fatal().Err(err).Msg("Invalid table name")
	}

	// Initialize ClickHouse
	ch, err := storage.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
	}
	defer ch.Close()
	if err := ch.EnsureSchema(context.Background(), cfg.Source.Table); err != nil {
		log.Fatal().Err(err).Msg("Failed to create events table")
	}
	log.Info().Msg("Connected to ClickHouse")

	vocab := funnel.NewVocabulary(cfg.Stages.Aliases)
	eventProcessor := processor.NewEventProcessor(ch, cfg.Source.Table, transformer.New(loader.NewNormalizer(vocab)), cfg.Batch)

	kafkaConsumer, err := consumer.NewKafkaConsumer(cfg.Kafka, eventProcessor)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go kafkaConsumer.Start(ctx)

	r := chi.NewRouter()
	r.Get("/health", handler.HealthCheck)
	r.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: r,
	}
	go func() {
		log.Info().Int("port", cfg.Server.MetricsPort).Msg("Starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	log.Info().Msg("Funnel processor started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()
	kafkaConsumer.Close()
	eventProcessor.Stop()
	metricsServer.Shutdown(context.Background())

	if dropped := eventProcessor.Dropped(); len(dropped) > 0 {
		log.Info().Interface("dropped", dropped).Msg("Unknown stages dropped during run")
	}
	log.Info().Msg("Shutdown complete")
}
