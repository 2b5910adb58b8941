package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/hotspot-sync-service/internal/adapter/featureapi"
	"github.com/couchcryptid/hotspot-sync-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/hotspot-sync-service/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/hotspot-sync-service/internal/adapter/redis"
	"github.com/couchcryptid/hotspot-sync-service/internal/config"
	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/ingest"
	"github.com/couchcryptid/hotspot-sync-service/internal/mapsync"
	"github.com/couchcryptid/hotspot-sync-service/internal/observability"
	"github.com/couchcryptid/hotspot-sync-service/internal/pipeline"
)

// sink receives map commands and summaries.
type sink interface {
	mapsync.CommandSink
	pipeline.SummarySink
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := featureapi.NewClient(featureapi.Settings{
		BaseURL:   cfg.FeatureAPIURL,
		APIKey:    cfg.FeatureAPIKey,
		DateParam: cfg.FeatureAPIDateParam,
		Timeout:   cfg.FeatureAPITimeout,
	}, metrics, logger)
	if err != nil {
		logger.Error("invalid feature API settings", "error", err)
		os.Exit(1)
	}

	// Page cache: Redis when configured, otherwise in-process LRU.
	var cache featureapi.PageCache
	if cfg.RedisAddr != "" {
		rc, err := redisadapter.NewPageCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.PageCacheTTL)
		if err != nil {
			logger.Error("redis page cache unavailable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rc.Close() //nolint:errcheck // process exit
		cache = rc
		logger.Info("redis page cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.PageCacheTTL)
	} else {
		cache = featureapi.NewLRUCache(cfg.PageCacheSize, cfg.PageCacheTTL, clockwork.NewRealClock())
		logger.Info("in-memory page cache enabled", "size", cfg.PageCacheSize, "ttl", cfg.PageCacheTTL)
	}
	fetcher := featureapi.NewCachedFetcher(client, cache, metrics, logger)
	ingestor := ingest.New(fetcher, cfg.PageSize, cfg.MaxPages, metrics, logger)

	var out sink
	if cfg.KafkaEnabled {
		out = kafkaadapter.NewWriter(cfg, metrics, logger)
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers,
			"command_topic", cfg.KafkaCommandTopic, "summary_topic", cfg.KafkaSummaryTopic)
	} else {
		out = newLogSink(logger)
		logger.Info("kafka sink disabled, logging commands and summaries")
	}

	surface := mapsync.NewRemoteSurface(out, cfg.PublishTimeout, metrics, logger)
	relay := mapsync.NewPopupRelay(surface)
	controller := mapsync.NewController(surface, relay, mapsync.Options{
		Camera:          mapsync.CameraOptions{Padding: cfg.Display.FitPadding, MaxZoom: cfg.Display.FitMaxZoom},
		SinglePointZoom: cfg.Display.SinglePointZoom,
		Popup: domain.PopupOptions{
			DetailedCountry: cfg.Display.DetailedCountry,
			Location:        cfg.Display.Location,
		},
	}, logger)

	session := pipeline.New(ingestor, controller, out, pipeline.Options{
		DefaultDate:    cfg.DefaultDate,
		QueryByDate:    cfg.QueryByDate,
		Summary:        domain.SummaryOptions{Unspecified: cfg.Display.UnspecifiedLabel},
		PublishTimeout: cfg.PublishTimeout,
	}, metrics, logger)

	srv := httpadapter.NewServer(cfg.HTTPAddr, session, mapsync.NewViewBridge(surface, relay), logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start filter session.
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		if err := session.Run(ctx); err != nil {
			logger.Error("session error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-sessionDone:
	case <-shutdownCtx.Done():
		logger.Warn("session did not stop before shutdown timeout")
	}
	if err := out.Close(); err != nil {
		logger.Error("sink close error", "error", err)
	}

	logger.Info("shutdown complete")
}
