// Package config loads fraudlens settings from FRAUDLENS_* environment
// variables, with an optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/crimson-sun/fraudlens/internal/output"
)

// Version is the fraudlens release version, overridden at build time with
// -ldflags "-X github.com/crimson-sun/fraudlens/internal/config.Version=...".
var Version = "0.1.0"

const prefix = "FRAUDLENS_"

// Config holds all fraudlens configuration.
type Config struct {
	Mode            string // "serve", "stream" or "score"
	LogLevel        string
	LogFormat       string // "json" or "text"
	ShutdownTimeout time.Duration
	OTelEndpoint    string // empty disables tracing

	Engine    EngineConfig
	Server    ServerConfig
	Connector ConnectorConfig
	Stream    StreamConfig
	Output    OutputConfig
}

// EngineConfig holds scoring engine settings.
type EngineConfig struct {
	ManifestPath string
	BatchWorkers int
}

// ServerConfig holds HTTP serving settings.
type ServerConfig struct {
	Addr string
}

// ConnectorConfig holds transaction source settings.
type ConnectorConfig struct {
	Provider string // "kafka", "file" or "http"
	Endpoint string // brokers, input path or URL depending on provider
	Extra    map[string]string
	Limit    int           // score mode: max transactions, 0 = all
	Idle     time.Duration // score mode: stop after this long without input
}

// StreamConfig holds micro-batching and deduplication settings.
type StreamConfig struct {
	BufferWindow time.Duration
	BufferSize   int
	DedupWindow  time.Duration // 0 disables dedup
	RedisAddrs   []string      // empty keeps dedup state in memory
}

// OutputConfig holds result sink settings.
type OutputConfig struct {
	Sinks        []string // any of "stdout", "file", "webhook", "kafka"
	Verbosity    string   // "minimal", "standard", "full"
	Pretty       bool
	Path         string
	MaxSize      int64
	WebhookURL   string
	WebhookToken string
	Brokers      string
	Topic        string
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is applied first; variables
// already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	provider := getenv("CONNECTOR", "file")
	brokers := getenv("KAFKA_BROKERS", "localhost:9092")

	return Config{
		Mode:            getenv("MODE", "serve"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFormat:       getenv("LOG_FORMAT", "json"),
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		OTelEndpoint:    getenv("OTEL_ENDPOINT", ""),
		Engine: EngineConfig{
			ManifestPath: getenv("MANIFEST", "models/manifest.yaml"),
			BatchWorkers: getenvInt("BATCH_WORKERS", 4),
		},
		Server: ServerConfig{
			Addr: getenv("ADDR", ":8000"),
		},
		Connector: ConnectorConfig{
			Provider: provider,
			Endpoint: connectorEndpoint(provider, brokers),
			Extra:    loadConnectorExtra(),
			Limit:    getenvInt("QUERY_LIMIT", 0),
			Idle:     getenvDuration("QUERY_IDLE", 5*time.Second),
		},
		Stream: StreamConfig{
			BufferWindow: getenvDuration("BUFFER_WINDOW", 200*time.Millisecond),
			BufferSize:   getenvInt("BUFFER_SIZE", 256),
			DedupWindow:  getenvDuration("DEDUP_WINDOW", 10*time.Minute),
			RedisAddrs:   getenvList("REDIS_ADDRS"),
		},
		Output: OutputConfig{
			Sinks:        getenvListDefault("OUTPUT", []string{"stdout"}),
			Verbosity:    getenv("VERBOSITY", "standard"),
			Pretty:       getenvBool("PRETTY", false),
			Path:         getenv("OUTPUT_PATH", ""),
			MaxSize:      int64(getenvInt("OUTPUT_MAX_SIZE", 0)),
			WebhookURL:   getenv("WEBHOOK_URL", ""),
			WebhookToken: getenv("WEBHOOK_TOKEN", ""),
			Brokers:      brokers,
			Topic:        getenv("OUTPUT_TOPIC", "fraud_scores"),
		},
	}
}

// connectorEndpoint picks the provider-specific endpoint variable unless
// FRAUDLENS_ENDPOINT overrides it.
func connectorEndpoint(provider, brokers string) string {
	if v := getenv("ENDPOINT", ""); v != "" {
		return v
	}
	switch provider {
	case "kafka":
		return brokers
	case "file":
		return getenv("INPUT_PATH", "-")
	case "http":
		return getenv("HTTP_SOURCE_URL", "")
	}
	return ""
}

// loadConnectorExtra reads provider-specific env vars into an Extra map.
func loadConnectorExtra() map[string]string {
	vars := []struct {
		envVar   string
		extraKey string
	}{
		{"KAFKA_TOPIC", "topic"},
		{"KAFKA_GROUP", "group_id"},
		{"KAFKA_OFFSET_RESET", "offset_reset"},
		{"HTTP_SOURCE_TOKEN", "token"},
		{"POLL_INTERVAL", "poll_interval"},
	}

	var m map[string]string
	for _, v := range vars {
		if val := os.Getenv(prefix + v.envVar); val != "" {
			if m == nil {
				m = make(map[string]string)
			}
			m[v.extraKey] = val
		}
	}
	return m
}

// Validate checks the configuration and returns every problem found,
// joined.
func (c Config) Validate() error {
	var errs []error

	switch c.Mode {
	case "serve", "stream", "score":
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q (want serve, stream or score)", c.Mode))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("invalid log format %q (want json or text)", c.LogFormat))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %v", c.ShutdownTimeout))
	}

	if _, err := os.Stat(c.Engine.ManifestPath); err != nil {
		errs = append(errs, fmt.Errorf("model manifest %s: %w", c.Engine.ManifestPath, err))
	}
	if c.Engine.BatchWorkers < 1 {
		errs = append(errs, fmt.Errorf("batch workers must be >= 1, got %d", c.Engine.BatchWorkers))
	}

	if c.Mode == "serve" && c.Server.Addr == "" {
		errs = append(errs, errors.New("FRAUDLENS_ADDR is required in serve mode"))
	}
	if c.Mode == "stream" || c.Mode == "score" {
		errs = append(errs, c.validateSource()...)
	}
	errs = append(errs, c.validateOutput()...)

	return errors.Join(errs...)
}

func (c Config) validateSource() []error {
	var errs []error
	switch c.Connector.Provider {
	case "kafka", "file":
		if c.Connector.Endpoint == "" {
			errs = append(errs, fmt.Errorf("connector %s has no endpoint", c.Connector.Provider))
		}
	case "http":
		if c.Connector.Endpoint == "" {
			errs = append(errs, errors.New("FRAUDLENS_HTTP_SOURCE_URL is required for the http connector"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown connector %q (want kafka, file or http)", c.Connector.Provider))
	}
	if c.Connector.Limit < 0 {
		errs = append(errs, fmt.Errorf("query limit must be >= 0, got %d", c.Connector.Limit))
	}
	if c.Stream.BufferWindow <= 0 {
		errs = append(errs, fmt.Errorf("buffer window must be positive, got %v", c.Stream.BufferWindow))
	}
	if c.Stream.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("buffer size must be >= 0, got %d", c.Stream.BufferSize))
	}
	if c.Stream.DedupWindow < 0 {
		errs = append(errs, fmt.Errorf("dedup window must be >= 0, got %v", c.Stream.DedupWindow))
	}
	return errs
}

func (c Config) validateOutput() []error {
	var errs []error
	if _, err := output.ParseVerbosity(c.Output.Verbosity); err != nil {
		errs = append(errs, fmt.Errorf("verbosity: %w", err))
	}
	if c.Output.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("output max size must be >= 0, got %d", c.Output.MaxSize))
	}
	for _, sink := range c.Output.Sinks {
		switch sink {
		case "stdout":
		case "file":
			if c.Output.Path == "" {
				errs = append(errs, errors.New("FRAUDLENS_OUTPUT_PATH is required for the file output"))
			}
		case "webhook":
			if c.Output.WebhookURL == "" {
				errs = append(errs, errors.New("FRAUDLENS_WEBHOOK_URL is required for the webhook output"))
			}
		case "kafka":
			if c.Output.Brokers == "" {
				errs = append(errs, errors.New("FRAUDLENS_KAFKA_BROKERS is required for the kafka output"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown output %q (want stdout, file, webhook or kafka)", sink))
		}
	}
	return errs
}

func getenv(key, fallback string) string {
	if v := os.Getenv(prefix + key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(prefix + key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(prefix + key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(prefix + key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getenvList splits a comma-separated variable, dropping empty entries.
func getenvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(prefix+key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getenvListDefault(key string, fallback []string) []string {
	if l := getenvList(key); len(l) > 0 {
		return l
	}
	return fallback
}
