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

	"github.com/clicko-app/agent-discovery/internal/adapter/device"
	"github.com/clicko-app/agent-discovery/internal/adapter/directory"
	httpadapter "github.com/clicko-app/agent-discovery/internal/adapter/http"
	kafkaadapter "github.com/clicko-app/agent-discovery/internal/adapter/kafka"
	"github.com/clicko-app/agent-discovery/internal/adapter/mapbox"
	"github.com/clicko-app/agent-discovery/internal/adapter/store"
	"github.com/clicko-app/agent-discovery/internal/config"
	"github.com/clicko-app/agent-discovery/internal/discovery"
	"github.com/clicko-app/agent-discovery/internal/domain"
	"github.com/clicko-app/agent-discovery/internal/location"
	"github.com/clicko-app/agent-discovery/internal/observability"
	"github.com/clicko-app/agent-discovery/internal/session"
	"github.com/clicko-app/agent-discovery/internal/transport"
	discoverhandler "github.com/clicko-app/agent-discovery/internal/transport/discover"
	locationhandler "github.com/clicko-app/agent-discovery/internal/transport/location"
	sessionhandler "github.com/clicko-app/agent-discovery/internal/transport/session"
)

type kvStore interface {
	location.Store
	sharedobs.ReadinessChecker
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
	clock := clockwork.NewRealClock()

	// Persisted location slot: SQLite when STORE_PATH is set, memory otherwise.
	var kv kvStore
	if cfg.StorePath != "" {
		db, err := store.OpenSQLite(cfg.StorePath, 0, logger)
		if err != nil {
			logger.Error("failed to open store", "error", err, "path", cfg.StorePath)
			os.Exit(1)
		}
		kv = db
	} else {
		kv = store.NewMemory()
		logger.Info("using in-memory location store")
	}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	sessions := session.NewHolder(clock)
	if cfg.DirectoryToken != "" {
		if _, err := sessions.SignIn(cfg.DirectoryToken); err != nil {
			logger.Error("failed to activate session", "error", err)
			os.Exit(1)
		}
	}

	dev := device.NewReported()
	resolver := location.NewResolver(dev, geocoder, kv, clock, logger, location.WithGeocodeTimeout(cfg.MapboxTimeout))
	dir := directory.NewClient(cfg.DirectoryBaseURL, cfg.DirectoryTimeout, sessions, logger)
	fetcher := discovery.NewFetcher(dir, cfg.NearbyRadiusKm, cfg.NearbyLimit, clock, metrics, logger)

	opts := []discovery.OrchestratorOption{
		discovery.WithLocationTimeout(cfg.LocationTimeout),
		discovery.WithLocationMaxAge(cfg.LocationMaxAge),
	}
	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		opts = append(opts, discovery.WithEventSink(publisher))
		logger.Info("discovery events enabled", "topic", cfg.KafkaTopic)
	}
	orch := discovery.NewOrchestrator(resolver, fetcher, clock, metrics, logger, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if loc, ok := resolver.Latest(ctx); ok {
		logger.Info("loaded persisted location", "source", loc.Source, "captured_at", loc.CapturedAt)
	}

	policy := discovery.RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}
	api := transport.NewRouter(transport.Handlers{
		Discover: discoverhandler.NewHandler(orch, fetcher, resolver, policy, clock),
		Location: locationhandler.NewHandler(resolver, dev, cfg.LocationTimeout),
		Session:  sessionhandler.NewHandler(sessions),
	}, logger)

	srv := httpadapter.NewServer(cfg.HTTPAddr, kv, api, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	if err := kv.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
