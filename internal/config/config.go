package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	RasterRoot      string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Serving.
	DatasetCacheSize int
	IOWorkers        int
	LatestTTL        time.Duration
	TileZoomMin      uint32
	TileZoomMax      uint32

	// Publishing.
	RetentionRuns int

	// Kafka frame-published notifications.
	KafkaBrokers      []string
	KafkaEnabled      bool
	KafkaPublishTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	latestTTL, err := parseDuration("LATEST_TTL", "2s")
	if err != nil {
		return nil, err
	}

	zoomMin, err := parseUint("TILE_ZOOM_MIN", 5)
	if err != nil {
		return nil, err
	}
	zoomMax, err := parseUint("TILE_ZOOM_MAX", 11)
	if err != nil {
		return nil, err
	}

	brokers := parseBrokers(envOrDefault("KAFKA_BROKERS", ""))
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		RasterRoot:      envOrDefault("RASTER_ROOT", "/var/lib/wxtiles"),
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DatasetCacheSize: parsePositiveInt("DATASET_CACHE_SIZE", 128),
		IOWorkers:        parsePositiveInt("IO_WORKERS", 32),
		LatestTTL:        latestTTL,
		TileZoomMin:      zoomMin,
		TileZoomMax:      zoomMax,

		RetentionRuns: parsePositiveInt("RETENTION_RUNS", 1),

		KafkaBrokers:      brokers,
		KafkaEnabled:      kafkaEnabled,
		KafkaPublishTopic: envOrDefault("KAFKA_PUBLISH_TOPIC", "frame-published"),
	}

	if cfg.RasterRoot == "" {
		return nil, errors.New("RASTER_ROOT is required")
	}
	if cfg.TileZoomMin > cfg.TileZoomMax {
		return nil, fmt.Errorf("TILE_ZOOM_MIN %d exceeds TILE_ZOOM_MAX %d", cfg.TileZoomMin, cfg.TileZoomMax)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func parseUint(key string, def uint32) (uint32, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint32(n), nil
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
