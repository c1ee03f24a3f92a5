// Command discover runs a single agent discovery and prints the ranked result
// as JSON. Directory, geocoding and retry settings come from the same
// environment variables as the gateway.
//
// Usage:
//
//	go run ./cmd/discover -q plumber -lat 28.7041 -lon 77.1025 -online
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/clicko-app/agent-discovery/internal/adapter/device"
	"github.com/clicko-app/agent-discovery/internal/adapter/directory"
	"github.com/clicko-app/agent-discovery/internal/adapter/mapbox"
	"github.com/clicko-app/agent-discovery/internal/adapter/store"
	"github.com/clicko-app/agent-discovery/internal/config"
	"github.com/clicko-app/agent-discovery/internal/discovery"
	"github.com/clicko-app/agent-discovery/internal/domain"
	"github.com/clicko-app/agent-discovery/internal/location"
	"github.com/clicko-app/agent-discovery/internal/observability"
	"github.com/clicko-app/agent-discovery/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	query       string
	category    string
	lat, lon    float64
	place       string
	maxDistance float64
	online      bool
	noRetry     bool
}

func parseFlags(args []string, stderr io.Writer) (options, *flag.FlagSet, error) {
	var o options
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.query, "q", "", "free-text search")
	fs.StringVar(&o.category, "category", "", "category ID")
	fs.Float64Var(&o.lat, "lat", 0, "latitude of a manually chosen location")
	fs.Float64Var(&o.lon, "lon", 0, "longitude of a manually chosen location")
	fs.StringVar(&o.place, "place", "", "display name for -lat/-lon")
	fs.Float64Var(&o.maxDistance, "max-distance", 0, "maximum distance in km")
	fs.BoolVar(&o.online, "online", false, "only agents that are online")
	fs.BoolVar(&o.noRetry, "no-retry", false, "do not retry a degraded result")
	err := fs.Parse(args)
	return o, fs, err
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, fs, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}
	hasLat, hasLon := flagSet(fs, "lat"), flagSet(fs, "lon")
	if hasLat != hasLon {
		fmt.Fprintln(stderr, "-lat and -lon must be given together")
		return 2
	}
	if opts.maxDistance < 0 {
		fmt.Fprintln(stderr, "-max-distance must be positive")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}

	// Logs go to stderr; stdout holds only the result.
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewRealClock()

	var kv location.Store = store.NewMemory()
	if cfg.StorePath != "" {
		db, err := store.OpenSQLite(cfg.StorePath, 1, logger)
		if err != nil {
			fmt.Fprintln(stderr, "store:", err)
			return 1
		}
		defer db.Close()
		kv = db
	}

	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		geocoder = mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
	}

	sessions := session.NewHolder(clock)
	if cfg.DirectoryToken != "" {
		if _, err := sessions.SignIn(cfg.DirectoryToken); err != nil {
			fmt.Fprintln(stderr, "session:", err)
			return 1
		}
	}

	resolver := location.NewResolver(device.NewReported(), geocoder, kv, clock, logger)
	if hasLat {
		_, err := resolver.SelectManualLocation(ctx, location.ManualPlace{
			Coordinates: domain.Coordinate{Latitude: opts.lat, Longitude: opts.lon},
			Name:        opts.place,
		})
		if err != nil {
			fmt.Fprintln(stderr, "location:", err)
			return 2
		}
	}

	dir := directory.NewClient(cfg.DirectoryBaseURL, cfg.DirectoryTimeout, sessions, logger)
	fetcher := discovery.NewFetcher(dir, cfg.NearbyRadiusKm, cfg.NearbyLimit, clock, metrics, logger)
	orch := discovery.NewOrchestrator(resolver, fetcher, clock, metrics, logger,
		discovery.WithLocationMaxAge(cfg.LocationMaxAge),
	)

	req := domain.DiscoveryRequest{
		Scope:         "cli",
		RequireOnline: opts.online,
		Background:    true,
	}
	if opts.query != "" {
		req.FreeText = &opts.query
	}
	if opts.category != "" {
		req.CategoryID = &opts.category
	}
	if opts.maxDistance > 0 {
		req.MaxDistance = &opts.maxDistance
	}

	policy := discovery.RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}
	if opts.noRetry {
		policy = discovery.NoRetry
	}

	res, err := discovery.ResolveWithRetry(ctx, orch, req, policy, clock)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintln(stderr, "discover:", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintln(stderr, "encode:", err)
		return 1
	}
	if res.Status == domain.StatusDegraded {
		return 3
	}
	return 0
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
