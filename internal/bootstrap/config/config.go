package config

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Checklist ChecklistConfig `mapstructure:"checklist"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Server    ServerConfig    `mapstructure:"server"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Env         string `mapstructure:"env"`
	InspectorID string `mapstructure:"inspector_id"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type StorageConfig struct {
	BlobDir string `mapstructure:"blob_dir"`
}

type ChecklistConfig struct {
	File string `mapstructure:"file"`
}

type CaptureConfig struct {
	MaxDimension       int           `mapstructure:"max_dimension"`
	JPEGQuality        int           `mapstructure:"jpeg_quality"`
	ThumbnailDimension int           `mapstructure:"thumbnail_dimension"`
	GPSTimeout         time.Duration `mapstructure:"gps_timeout"`
}

type SyncConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	BatchSize      int           `mapstructure:"batch_size"`
	Events         bool          `mapstructure:"events"`
}

type ServerConfig struct {
	Addr          string         `mapstructure:"addr"`
	Database      DatabaseConfig `mapstructure:"database"`
	Blob          BlobConfig     `mapstructure:"blob"`
	JWTSecret     string         `mapstructure:"jwt_secret"`
	RatePerSecond float64        `mapstructure:"rate_per_second"`
	RateBurst     int            `mapstructure:"rate_burst"`
	TrustProxy    bool           `mapstructure:"trust_proxy"`
}

type BlobConfig struct {
	Backend         string `mapstructure:"backend"`
	Dir             string `mapstructure:"dir"`
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, errs.Wrap(err, "load .env")
		}
	} else {
		logging.Info(logCtx, "loaded .env file")
	}

	v := viper.New()
	setDefaults(logCtx, v)

	v.SetEnvPrefix("FI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("inspector_id", cfg.App.InspectorID),
		slog.Bool("sync_configured", cfg.Sync.BaseURL != ""),
	)

	return cfg, nil
}

// Validate checks the keys every process needs. Keys only one process uses
// are validated by the component that consumes them.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errs.Validation("database.dsn", "is required")
	}
	if c.Sync.MaxAttempts < 1 {
		return errs.Validation("sync.max_attempts", "must be at least 1")
	}
	if c.Sync.BackoffInitial <= 0 || c.Sync.BackoffMax < c.Sync.BackoffInitial {
		return errs.Validation("sync.backoff_max", "must not be below sync.backoff_initial")
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return errs.Validation("capture.jpeg_quality", "must be between 1 and 100")
	}
	switch strings.ToLower(c.Server.Blob.Backend) {
	case "fs", "gcs":
	default:
		return errs.Validation("server.blob.backend", "must be fs or gcs")
	}
	return nil
}

func setDefaults(ctx context.Context, v *viper.Viper) {
	if ctx == nil {
		return
	}

	v.SetDefault("app.name", "fleetinspect")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.inspector_id", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".fleetinspect/local.sqlite")
	v.SetDefault("storage.blob_dir", ".fleetinspect/blobs")
	v.SetDefault("checklist.file", "")

	v.SetDefault("capture.max_dimension", 1600)
	v.SetDefault("capture.jpeg_quality", 80)
	v.SetDefault("capture.thumbnail_dimension", 240)
	v.SetDefault("capture.gps_timeout", 5*time.Second)

	v.SetDefault("sync.base_url", "")
	v.SetDefault("sync.token", "")
	v.SetDefault("sync.interval", time.Minute)
	v.SetDefault("sync.request_timeout", 20*time.Second)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.backoff_initial", 5*time.Second)
	v.SetDefault("sync.backoff_max", 10*time.Minute)
	v.SetDefault("sync.health_interval", 15*time.Second)
	v.SetDefault("sync.rate_per_second", 5)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.events", true)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.database.driver", "sqlite")
	v.SetDefault("server.database.dsn", ".fleetinspect/backoffice.sqlite")
	v.SetDefault("server.blob.backend", "fs")
	v.SetDefault("server.blob.dir", ".fleetinspect/backoffice-blobs")
	v.SetDefault("server.blob.bucket", "")
	v.SetDefault("server.blob.credentials_file", "")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.rate_per_second", 20)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.trust_proxy", false)
}
