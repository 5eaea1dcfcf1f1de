package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/V4T54L/scanalyzer/internal/adapter/api"
	"github.com/V4T54L/scanalyzer/internal/adapter/api/handler"
	"github.com/V4T54L/scanalyzer/internal/adapter/classifier"
	"github.com/V4T54L/scanalyzer/internal/adapter/eventdesc"
	"github.com/V4T54L/scanalyzer/internal/adapter/metrics"
	"github.com/V4T54L/scanalyzer/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/scanalyzer/internal/adapter/repository/redis"
	"github.com/V4T54L/scanalyzer/internal/adapter/repository/wal"
	"github.com/V4T54L/scanalyzer/internal/adapter/schema"
	"github.com/V4T54L/scanalyzer/internal/adapter/stream"
	"github.com/V4T54L/scanalyzer/internal/domain"
	"github.com/V4T54L/scanalyzer/internal/pkg/config"
	"github.com/V4T54L/scanalyzer/internal/pkg/logger"
	"github.com/V4T54L/scanalyzer/internal/usecase"
)

const healthCheckInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewIngestMetrics(registry)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database and Redis Connections ---
	db, err := postgres.Open(cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := redisrepo.NewClient(cfg.RedisAddr)
	if err != nil {
		logger.Error("failed to create redis client", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("could not connect to redis, alerts will go to the WAL", "error", err)
	}

	// --- Enrichment ---
	var cls domain.Classifier
	if cfg.ClassifierURL != "" {
		cls = classifier.NewHTTPClassifier(cfg.ClassifierURL, cfg.ClassifierTimeout, cfg.ClassifierRPS)
		logger.Info("using remote classifier", "url", cfg.ClassifierURL)
	} else {
		model, err := classifier.LoadTokenModel(cfg.ClassifierVocabPath)
		if err != nil {
			logger.Error("failed to load classifier vocabulary", "path", cfg.ClassifierVocabPath, "error", err)
			os.Exit(1)
		}
		cls = model
	}
	describer := eventdesc.NewRedisDescriber(redisClient, cfg.EventDescriptionsKey, logger)
	enricher := usecase.NewEnrichRecordUseCase(describer, cls, usecase.NewAlertPolicy(cfg.AlertLabels, cfg.TriggerLevelCodes), m, logger)

	validator, err := schema.NewValidator()
	if err != nil {
		logger.Error("failed to compile record schemas", "error", err)
		os.Exit(1)
	}

	// --- Broadcast Hub ---
	policy, err := stream.PolicyFor(cfg.PauseScope)
	if err != nil {
		logger.Error("invalid pause scope", "error", err)
		os.Exit(1)
	}
	hub := stream.NewHub(logger, m, policy)

	// --- Alert Feed ---
	walRepo, err := wal.NewWALRepository(cfg.WALPath, cfg.WALSegmentSize, cfg.WALMaxDiskSize, logger)
	if err != nil {
		logger.Error("failed to initialize WAL repository", "error", err)
		os.Exit(1)
	}
	defer walRepo.Close()

	feed := redisrepo.NewAlertFeedRepository(redisClient, logger, redisrepo.AlertFeedOptions{
		StreamKey:    cfg.AlertFeedStream,
		DLQStreamKey: cfg.AlertFeedDLQStream,
		Group:        cfg.DispatchGroup,
		WAL:          walRepo,
		Metrics:      m,
	})
	go feed.StartHealthCheck(ctx, healthCheckInterval)

	// --- Use Cases ---
	store := postgres.NewLogRepository(db, logger)
	ingestUseCase := usecase.NewIngestLogUseCase(validator, enricher, store, feed, hub, m, logger, cfg.BulkEnrichConcurrency)
	logsUseCase := usecase.NewManageLogsUseCase(store)
	adminUseCase := usecase.NewFeedAdminUseCase(redisrepo.NewFeedAdminRepository(redisClient, cfg.AlertFeedStream, cfg.AlertFeedDLQStream, logger))

	keyDB := db
	if !cfg.APIKeyDBLookup {
		keyDB = nil
	}
	apiKeyRepo := postgres.NewAPIKeyRepository(cfg.APIKeys, keyDB, logger, cfg.APIKeyCacheTTL, m)

	// --- Servers ---
	streamHandler := handler.NewStreamHandler(hub, logger, handler.StreamOptions{
		WriteTimeout:  cfg.StreamWriteTimeout,
		PongWait:      cfg.StreamPongWait,
		SSEBufferSize: cfg.SSEBufferSize,
	})
	ingestRouter := api.NewRouter(logger, apiKeyRepo, api.Handlers{
		Ingest: handler.NewIngestHandler(ingestUseCase, logger, handler.IngestLimits{
			MaxEventSize:   cfg.MaxEventSize,
			MaxBulkSize:    cfg.MaxBulkSize,
			MaxBulkRecords: cfg.MaxBulkRecords,
		}),
		Logs:   handler.NewLogsHandler(ingestUseCase, logsUseCase, logger, cfg.MaxEventSize),
		Stream: streamHandler,
	})
	adminRouter := api.NewAdminRouter(handler.NewAdminHandler(adminUseCase, describer, logger), streamHandler, registry, logger)

	// Observer connections are long lived, so no write timeout on this server.
	ingestServer := &http.Server{
		Addr:        cfg.IngestServerAddr,
		Handler:     ingestRouter,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	adminServer := &http.Server{
		Addr:         cfg.AdminServerAddr,
		Handler:      adminRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin & metrics server failed", "error", err)
		}
	}()
	go func() {
		logger.Info("starting ingest server", "addr", ingestServer.Addr)
		if err := ingestServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ingest server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// Hijacked observer connections are not tracked by Shutdown.
	hub.CloseAll()
	if err := ingestServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ingest server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}
