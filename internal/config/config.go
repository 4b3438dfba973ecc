package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir string `envconfig:"DOWNLOAD_DIR" required:"true"`
	CacheDir    string `envconfig:"CACHE_DIR" default:"cache"`
	DBPath      string `envconfig:"DB_PATH" default:"downloads.db"`
	MaxParallel int    `envconfig:"MAX_PARALLEL" default:"5"`
	UserAgent   string `envconfig:"USER_AGENT" default:"downloadd/1.0"`

	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	DefaultRetryDelay time.Duration `envconfig:"DEFAULT_RETRY_DELAY" default:"61s"`
	MaxRetryJitter    time.Duration `envconfig:"MAX_RETRY_JITTER" default:"30s"`

	ConnectivityProbeAddr     string        `envconfig:"CONNECTIVITY_PROBE_ADDR" default:"1.1.1.1:443"`
	ConnectivityProbeTimeout  time.Duration `envconfig:"CONNECTIVITY_PROBE_TIMEOUT" default:"3s"`
	ConnectivityProbeInterval time.Duration `envconfig:"CONNECTIVITY_PROBE_INTERVAL" default:"10s"`

	KeepFailedFor   time.Duration `envconfig:"KEEP_FAILED_FOR" default:"168h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	LogLevel   string `envconfig:"LOG_LEVEL" default:"INFO"`
	WebhookURL string `envconfig:"WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		OTLPEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
