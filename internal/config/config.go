// Package config loads and validates the relay's runtime configuration.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every external-interface tunable: upstream handshake
// parameters, cache tiering, hub admission and rate control, and
// health-check cadence.
type Config struct {
	// Server basics
	Addr        string `env:"RELAY_ADDR" envDefault:":8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Upstream hub client
	UpstreamBaseURL        string        `env:"UPSTREAM_BASE_URL" envDefault:"https://livetiming.formula1.com/signalr"`
	UpstreamHub            string        `env:"UPSTREAM_HUB" envDefault:"Streaming"`
	UpstreamOrigin         string        `env:"UPSTREAM_ORIGIN" envDefault:"https://www.formula1.com"`
	ReconnectBaseInterval  time.Duration `env:"UPSTREAM_RECONNECT_BASE_INTERVAL" envDefault:"1s"`
	ReconnectMaxInterval   time.Duration `env:"UPSTREAM_RECONNECT_MAX_INTERVAL" envDefault:"30s"`
	ReconnectMaxAttempts   int           `env:"UPSTREAM_RECONNECT_MAX_ATTEMPTS" envDefault:"10"`
	ConnectTimeout         time.Duration `env:"UPSTREAM_CONNECT_TIMEOUT" envDefault:"10s"`
	KeepAliveOverride      time.Duration `env:"UPSTREAM_KEEPALIVE_OVERRIDE" envDefault:"0s"`

	// CacheTier
	L2Addr                 string        `env:"CACHE_L2_ADDR" envDefault:"localhost:6379"`
	L2ClusterMode           bool          `env:"CACHE_L2_CLUSTER_MODE" envDefault:"false"`
	L1MaxEntries            int           `env:"CACHE_L1_MAX_ENTRIES" envDefault:"10000"`
	GlobalKeyPrefix         string        `env:"CACHE_GLOBAL_PREFIX" envDefault:"f1:"`
	CompressionThresholdB   int           `env:"CACHE_COMPRESSION_THRESHOLD_BYTES" envDefault:"1024"`
	CompressionAlgorithm    string        `env:"CACHE_COMPRESSION_ALGORITHM" envDefault:"lz4"`
	MonitoringEnabled       bool          `env:"CACHE_MONITORING_ENABLED" envDefault:"true"`
	SlowQueryThreshold      time.Duration `env:"CACHE_SLOW_QUERY_THRESHOLD" envDefault:"50ms"`
	FailoverEnabled         bool          `env:"CACHE_FAILOVER_ENABLED" envDefault:"true"`
	FailoverFallbackToMemory bool         `env:"CACHE_FAILOVER_FALLBACK_TO_MEMORY" envDefault:"true"`
	HealthCheckInterval     time.Duration `env:"CACHE_HEALTH_CHECK_INTERVAL" envDefault:"10s"`

	// SubscriberHub
	HubHeartbeatInterval   time.Duration `env:"HUB_HEARTBEAT_INTERVAL" envDefault:"15s"`
	MaxConnectionsPerIP    int           `env:"HUB_MAX_CONNECTIONS_PER_IP" envDefault:"5"`
	MaxEventsPerMinute     int           `env:"HUB_MAX_EVENTS_PER_MINUTE" envDefault:"120"`
	AllowedOrigins         []string      `env:"HUB_ALLOWED_ORIGINS" envSeparator:","`
	RequireOriginCheck     bool          `env:"HUB_REQUIRE_ORIGIN_CHECK" envDefault:"false"`
	MinUserAgentLen        int           `env:"HUB_MIN_USER_AGENT_LEN" envDefault:"8"`
	ThrottlePositionMs     int           `env:"HUB_THROTTLE_POSITION_MS" envDefault:"200"`
	ThrottleCarDataMs      int           `env:"HUB_THROTTLE_CARDATA_MS" envDefault:"200"`
	ConnAttemptGlobalRate  float64       `env:"HUB_CONN_ATTEMPT_GLOBAL_RATE" envDefault:"50"`
	ConnAttemptGlobalBurst int           `env:"HUB_CONN_ATTEMPT_GLOBAL_BURST" envDefault:"300"`
	ConnAttemptIPRate      float64       `env:"HUB_CONN_ATTEMPT_IP_RATE" envDefault:"1"`
	ConnAttemptIPBurst     int           `env:"HUB_CONN_ATTEMPT_IP_BURST" envDefault:"10"`

	// HealthReporter thresholds (container/profile limits, not host maxima)
	MaxGoroutines     int `env:"HEALTH_MAX_GOROUTINES" envDefault:"10000"`
	MaxConnections    int `env:"HEALTH_MAX_CONNECTIONS" envDefault:"50000"`

	// Observability
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`

	// NATS internal tap (supplemental, see SPEC_FULL.md DOMAIN STACK)
	NATSEnabled bool   `env:"NATS_ENABLED" envDefault:"false"`
	NATSURL     string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
}

// Load reads configuration from an optional .env file and the process
// environment. Priority: env vars > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration ranges and enum values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("RELAY_ADDR is required")
	}
	if c.MaxConnectionsPerIP < 1 {
		return fmt.Errorf("HUB_MAX_CONNECTIONS_PER_IP must be > 0, got %d", c.MaxConnectionsPerIP)
	}
	if c.MaxEventsPerMinute < 1 {
		return fmt.Errorf("HUB_MAX_EVENTS_PER_MINUTE must be > 0, got %d", c.MaxEventsPerMinute)
	}
	if c.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("UPSTREAM_RECONNECT_MAX_ATTEMPTS must be > 0, got %d", c.ReconnectMaxAttempts)
	}
	validAlgos := map[string]bool{"lz4": true, "gzip": true}
	if !validAlgos[c.CompressionAlgorithm] {
		return fmt.Errorf("CACHE_COMPRESSION_ALGORITHM must be one of: lz4, gzip (got: %s)", c.CompressionAlgorithm)
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig emits the loaded configuration as a structured log line.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("upstream_base_url", c.UpstreamBaseURL).
		Str("upstream_hub", c.UpstreamHub).
		Int("reconnect_max_attempts", c.ReconnectMaxAttempts).
		Str("l2_addr", c.L2Addr).
		Int("l1_max_entries", c.L1MaxEntries).
		Str("compression_algorithm", c.CompressionAlgorithm).
		Int("max_connections_per_ip", c.MaxConnectionsPerIP).
		Int("max_events_per_minute", c.MaxEventsPerMinute).
		Str("log_level", c.LogLevel).
		Msg("relay configuration loaded")
}
