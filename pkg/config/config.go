// Package config loads runtime configuration shared by escapade binaries.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"

	gos3 "escapade/pkg/s3"
	"escapade/pkg/telemetry"
)

// Config holds runtime configuration read from the environment.
type Config struct {
	Addr  string `env:"ADDR,default=:8080"`
	DBDSN string `env:"DB_DSN,required"`

	NATSURL string `env:"NATS_URL"`

	RedisURL            string        `env:"REDIS_URL"`
	LeaderboardCacheTTL time.Duration `env:"LEADERBOARD_CACHE_TTL,default=2s"`

	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	RFIDRateLimit  int      `env:"RFID_RATE_LIMIT,default=600"`

	SettingsFile          string `env:"SETTINGS_FILE,default=settings.yaml"`
	DefaultSessionMinutes int    `env:"DEFAULT_SESSION_MINUTES,default=60"`
	StoreMaxRetries       int    `env:"STORE_MAX_RETRIES,default=5"`

	S3 S3Config

	PhotoURLTTL  time.Duration `env:"PHOTO_URL_TTL,default=5m"`
	AgeRecipient string        `env:"AGE_RECIPIENT"`

	LogFormat string `env:"LOG_FORMAT,default=json"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
}

// S3Config points at the object store used for photos and archives. An empty
// Bucket disables both.
type S3Config struct {
	Bucket         string `env:"S3_BUCKET"`
	Endpoint       string `env:"S3_ENDPOINT"`
	AccessKey      string `env:"S3_ACCESS_KEY"`
	SecretKey      string `env:"S3_SECRET_KEY"`
	Region         string `env:"S3_REGION,default=us-east-1"`
	DisableTLS     bool   `env:"S3_DISABLE_TLS,default=false"`
	ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE,default=true"`
}

// Enabled reports whether object storage is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// ClientOptions converts c for gos3.NewClient.
func (c S3Config) ClientOptions() gos3.Options {
	return gos3.Options{
		Endpoint:       c.Endpoint,
		AccessKey:      c.AccessKey,
		SecretKey:      c.SecretKey,
		Region:         c.Region,
		DisableTLS:     c.DisableTLS,
		ForcePathStyle: c.ForcePathStyle,
	}
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DefaultSessionMinutes <= 0 {
		return fmt.Errorf("DEFAULT_SESSION_MINUTES must be positive, got %d", c.DefaultSessionMinutes)
	}
	if c.RFIDRateLimit <= 0 {
		return fmt.Errorf("RFID_RATE_LIMIT must be positive, got %d", c.RFIDRateLimit)
	}
	if c.StoreMaxRetries < 0 {
		return errors.New("STORE_MAX_RETRIES must not be negative")
	}
	if c.S3.Enabled() && c.S3.Endpoint == "" {
		return errors.New("S3_ENDPOINT is required when S3_BUCKET is set")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// Telemetry returns logging and tracing options for service.
func (c Config) Telemetry(service string) telemetry.Options {
	lvl, _ := c.Level()
	return telemetry.Options{
		ServiceName: service,
		Endpoint:    c.OTLPEndpoint,
		Level:       lvl,
		Console:     strings.EqualFold(c.LogFormat, "console"),
	}
}
