package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	BackendYtdlp   = "ytdlp"
	BackendYoutube = "youtube"
)

// Config struct for environment variables.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	Backend  string `envconfig:"BACKEND" default:"ytdlp"`
	WorkDir  string `envconfig:"WORK_DIR" default:"downloads"`

	SearchLimit   int      `envconfig:"SEARCH_LIMIT" default:"10"`
	SuggestLimit  int      `envconfig:"SUGGEST_LIMIT" default:"5"`
	RandomQueries []string `envconfig:"RANDOM_QUERIES" default:"music"`
	RandomCount   int      `envconfig:"RANDOM_COUNT" default:"3"`

	SocketTimeout  time.Duration `envconfig:"SOCKET_TIMEOUT" default:"15s"`
	ResolveTimeout time.Duration `envconfig:"RESOLVE_TIMEOUT" default:"60s"`
	AcquireTimeout time.Duration `envconfig:"ACQUIRE_TIMEOUT" default:"10m"`
	MaxParallel    int           `envconfig:"MAX_PARALLEL" default:"4"`

	ArtifactMaxAge  time.Duration `envconfig:"ARTIFACT_MAX_AGE" default:"1h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`

	FFmpegPath   string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	YtdlpInstall bool   `envconfig:"YTDLP_INSTALL" default:"false"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Cache struct {
		TTL        time.Duration `split_words:"true" default:"5m"`
		MaxEntries int           `split_words:"true" default:"1000"`
		RedisURL   string        `split_words:"true"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"yt_downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:3001"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"15m"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendYtdlp, BackendYoutube:
	default:
		return fmt.Errorf("invalid backend %q: must be %q or %q", c.Backend, BackendYtdlp, BackendYoutube)
	}

	if strings.TrimSpace(c.WorkDir) == "" {
		return fmt.Errorf("work dir must not be empty")
	}

	if c.SearchLimit <= 0 || c.SuggestLimit <= 0 || c.RandomCount <= 0 {
		return fmt.Errorf("search, suggest and random limits must be positive")
	}

	if len(c.RandomQueries) == 0 {
		return fmt.Errorf("at least one random query is required")
	}

	if c.MaxParallel <= 0 {
		return fmt.Errorf("max parallel must be positive, got %d", c.MaxParallel)
	}

	if c.SocketTimeout <= 0 || c.ResolveTimeout <= 0 || c.AcquireTimeout <= 0 {
		return fmt.Errorf("backend timeouts must be positive")
	}

	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}

	// a job's directory lives through acquisition and the response write
	if minAge := c.AcquireTimeout + c.Web.WriteTimeout; c.ArtifactMaxAge <= minAge {
		return fmt.Errorf("artifact max age %s must exceed acquire timeout plus web write timeout (%s)", c.ArtifactMaxAge, minAge)
	}

	return nil
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
