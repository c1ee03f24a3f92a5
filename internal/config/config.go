package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Agent directory backend.
	DirectoryBaseURL string
	DirectoryTimeout time.Duration
	DirectoryToken   string
	NearbyRadiusKm   float64
	NearbyLimit      int

	// Device location capture.
	LocationTimeout time.Duration
	LocationMaxAge  time.Duration

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// StorePath is the SQLite file holding the persisted location. Empty keeps it in memory.
	StorePath string

	// Discovery event publishing.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// Caller-owned retry policy.
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	directoryTimeout, err := parsePositiveDuration("DIRECTORY_TIMEOUT", "12s")
	if err != nil {
		return nil, err
	}
	locationTimeout, err := parsePositiveDuration("LOCATION_TIMEOUT", "12s")
	if err != nil {
		return nil, err
	}
	locationMaxAge, err := parsePositiveDuration("LOCATION_MAX_AGE", "10m")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	retryBase, err := parsePositiveDuration("RETRY_BASE_DELAY", "500ms")
	if err != nil {
		return nil, err
	}
	retryMax, err := parsePositiveDuration("RETRY_MAX_DELAY", "5s")
	if err != nil {
		return nil, err
	}

	radius, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("NEARBY_RADIUS_KM", "10"), 64)
	if err != nil || radius <= 0 {
		return nil, errors.New("invalid NEARBY_RADIUS_KM")
	}
	nearbyLimit, err := strconv.Atoi(sharedcfg.EnvOrDefault("NEARBY_LIMIT", "20"))
	if err != nil || nearbyLimit <= 0 {
		return nil, errors.New("invalid NEARBY_LIMIT")
	}
	retryAttempts, err := strconv.Atoi(sharedcfg.EnvOrDefault("RETRY_ATTEMPTS", "3"))
	if err != nil || retryAttempts < 1 || retryAttempts > 10 {
		return nil, errors.New("invalid RETRY_ATTEMPTS: must be between 1 and 10")
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DirectoryBaseURL: strings.TrimRight(sharedcfg.EnvOrDefault("DIRECTORY_BASE_URL", "http://localhost:8000/api"), "/"),
		DirectoryTimeout: directoryTimeout,
		DirectoryToken:   os.Getenv("DIRECTORY_TOKEN"),
		NearbyRadiusKm:   radius,
		NearbyLimit:      nearbyLimit,

		LocationTimeout: locationTimeout,
		LocationMaxAge:  locationMaxAge,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		StorePath: os.Getenv("STORE_PATH"),

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "discovery-events"),

		RetryAttempts:  retryAttempts,
		RetryBaseDelay: retryBase,
		RetryMaxDelay:  retryMax,
	}

	if cfg.DirectoryBaseURL == "" {
		return nil, errors.New("DIRECTORY_BASE_URL is required")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return nil, errors.New("RETRY_MAX_DELAY must not be shorter than RETRY_BASE_DELAY")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
