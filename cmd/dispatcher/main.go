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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/scanalyzer/internal/adapter/metrics"
	"github.com/V4T54L/scanalyzer/internal/adapter/notifier"
	redisrepo "github.com/V4T54L/scanalyzer/internal/adapter/repository/redis"
	"github.com/V4T54L/scanalyzer/internal/domain"
	"github.com/V4T54L/scanalyzer/internal/pkg/config"
	"github.com/V4T54L/scanalyzer/internal/pkg/logger"
	"github.com/V4T54L/scanalyzer/internal/usecase"
)

const errorBackoff = 2 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting alert dispatcher")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewDispatchMetrics(registry)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.AdminServerAddr, Handler: metricsMux}
	go func() {
		log.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()

	// Connect to Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisAddr)
	if err != nil {
		log.Error("failed to create redis client", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	// Create a unique consumer name for this instance
	consumerName := cfg.DispatchConsumer
	if consumerName == "" {
		if consumerName, err = os.Hostname(); err != nil {
			log.Warn("could not get hostname for consumer name, using default", "error", err)
			consumerName = "dispatcher-default"
		}
	}

	var sink domain.Notifier
	switch cfg.DispatchNotifier {
	case "nats":
		if cfg.NATSURL == "" {
			log.Error("DISPATCH_NOTIFIER=nats requires NATS_URL")
			os.Exit(1)
		}
		nn, err := notifier.NewNATSNotifier(cfg.NATSURL, cfg.DispatchSubject, log)
		if err != nil {
			log.Error("failed to connect to nats", "error", err)
			os.Exit(1)
		}
		defer nn.Close()
		sink = nn
	case "stdout":
		sink = notifier.NewStdoutNotifier(os.Stdout)
	default:
		log.Error("unknown notifier", "notifier", cfg.DispatchNotifier)
		os.Exit(1)
	}

	feed := redisrepo.NewAlertFeedRepository(redisClient, log, redisrepo.AlertFeedOptions{
		StreamKey:    cfg.AlertFeedStream,
		DLQStreamKey: cfg.AlertFeedDLQStream,
		Group:        cfg.DispatchGroup,
	})
	dispatcher := usecase.NewDispatchAlertsUseCase(feed, sink, m, log, cfg.DispatchGroup, consumerName,
		cfg.DispatchBatchSize, cfg.DispatchRetries, cfg.DispatchBackoff)

	log.Info("dispatcher started", "group", cfg.DispatchGroup, "consumer", consumerName, "notifier", cfg.DispatchNotifier)

	// The feed read blocks until alerts arrive, so the loop needs no ticker.
	for ctx.Err() == nil {
		if _, err := dispatcher.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			log.Error("error processing batch", "error", err)
			select {
			case <-time.After(errorBackoff):
			case <-ctx.Done():
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}
	log.Info("dispatcher shut down gracefully")
}
