package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/signals/internal/broadcast"
	"github.com/gosight/gosight/signals/internal/cache"
	"github.com/gosight/gosight/signals/internal/config"
	"github.com/gosight/gosight/signals/internal/consumer"
	"github.com/gosight/gosight/signals/internal/enricher"
	"github.com/gosight/gosight/signals/internal/handler"
	"github.com/gosight/gosight/signals/internal/heatmap"
	"github.com/gosight/gosight/signals/internal/insights"
	"github.com/gosight/gosight/signals/internal/live"
	"github.com/gosight/gosight/signals/internal/processor"
	"github.com/gosight/gosight/signals/internal/producer"
	"github.com/gosight/gosight/signals/internal/server"
	"github.com/gosight/gosight/signals/internal/storage"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/signals.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}
	setupLogging(cfg.Log)

	log.Info().
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Str("clickhouse_addr", cfg.ClickHouse.Addr).
		Str("redis_addr", cfg.Redis.Addr).
		Int("max_samples", cfg.Metrics.MaxSamples).
		Ints64("allowed_delays_ms", cfg.Live.AllowedDelaysMs).
		Msg("Configuration loaded")

	// Initialize ClickHouse
	ch, err := storage.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
	}
	defer ch.Close()
	log.Info().Msg("Connected to ClickHouse")

	// Initialize result cache
	var resultCache *cache.ResultCache
	if cfg.Redis.Addr != "" {
		resultCache = cache.NewResultCache(cfg.Redis, cfg.Metrics.CacheTTL)
		defer resultCache.Close()
		if err := resultCache.Ping(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, results will not be cached until it recovers")
		}
		log.Info().Dur("ttl", cfg.Metrics.CacheTTL).Msg("Result cache initialized")
	}

	participantEnricher := enricher.NewEnricher(cfg.GeoIP.DatabasePath)
	defer participantEnricher.Close()

	// Finished recordings go to ClickHouse, then a notice goes to Kafka
	var sink live.RecordingSink = ch
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topics["recordings"] != "" {
		notifier := producer.NewNotifyingSink(ch, cfg.Kafka)
		defer notifier.Close()
		sink = notifier
	}

	hub := broadcast.NewHub()
	manager := live.NewManager(hub, sink, cfg.Live)

	var cacheIface insights.Cache
	if resultCache != nil {
		cacheIface = resultCache
	}
	insightsSvc := insights.NewService(ch, cacheIface, cfg.Insights, cfg.Metrics)
	heatmapSvc := heatmap.NewService(ch, manager, cfg.Heatmap, cfg.Metrics)

	httpHandler := handler.NewHTTPHandler(insightsSvc, heatmapSvc, manager, ch, participantEnricher, cfg.Live)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: handler.NewRouter(httpHandler),
	}

	// Supervision tree
	sup := server.NewSupervisor("signal-engine", cfg.Server.ShutdownTimeout)
	sup.Add(server.ServiceFunc{Name: "broadcast-hub", Fn: hub.Serve})
	sup.Add(server.ServiceFunc{Name: "live-reaper", Fn: manager.Serve})
	sup.Add(server.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	if len(cfg.Kafka.Brokers) > 0 {
		liveProcessor := processor.NewLiveProcessor(manager, participantEnricher)
		kafkaConsumer, err := consumer.NewKafkaConsumer(cfg.Kafka, liveProcessor)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka consumer")
		}
		defer kafkaConsumer.Close()
		sup.Add(kafkaConsumer)
	} else {
		log.Warn().Msg("No Kafka brokers configured, live ingest is HTTP only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Int("port", cfg.Server.HTTPPort).Msg("Signal engine started")
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Supervisor stopped")
	}
	log.Info().Msg("Signal engine stopped")
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
