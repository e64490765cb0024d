package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleetinspect/internal/errs"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN == "" {
		t.Fatalf("database = %+v, want sqlite defaults", cfg.Database)
	}
	if cfg.Sync.MaxAttempts != 5 || cfg.Sync.BackoffInitial != 5*time.Second || cfg.Sync.BackoffMax != 10*time.Minute {
		t.Fatalf("sync retry = %+v", cfg.Sync)
	}
	if cfg.Capture.MaxDimension != 1600 || cfg.Capture.GPSTimeout != 5*time.Second {
		t.Fatalf("capture = %+v", cfg.Capture)
	}
	if !cfg.Sync.Events {
		t.Fatalf("sync.events = false, want true")
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.Blob.Backend != "fs" {
		t.Fatalf("server = %+v", cfg.Server)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "config.yaml")
	raw := []byte(`
app:
  inspector_id: insp-7
sync:
  base_url: http://backoffice.local
  interval: 30s
server:
  database:
    driver: postgres
    dsn: host=db user=fleet
`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("FI_SYNC_MAX_ATTEMPTS", "3")

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.InspectorID != "insp-7" {
		t.Fatalf("inspector_id = %q, want insp-7", cfg.App.InspectorID)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Fatalf("sync.interval = %s, want 30s", cfg.Sync.Interval)
	}
	if cfg.Sync.MaxAttempts != 3 {
		t.Fatalf("sync.max_attempts = %d, want 3 from env", cfg.Sync.MaxAttempts)
	}
	if cfg.Server.Database.Driver != "postgres" {
		t.Fatalf("server.database.driver = %q, want postgres", cfg.Server.Database.Driver)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("FI_APP_INSPECTOR_ID", "")
	os.Unsetenv("FI_APP_INSPECTOR_ID")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("FI_APP_INSPECTOR_ID=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.InspectorID != "from-dotenv" {
		t.Fatalf("inspector_id = %q, want from-dotenv", cfg.App.InspectorID)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Database: DatabaseConfig{Driver: "sqlite", DSN: "x.sqlite"},
			Capture:  CaptureConfig{JPEGQuality: 80},
			Sync:     SyncConfig{MaxAttempts: 5, BackoffInitial: time.Second, BackoffMax: time.Minute},
			Server:   ServerConfig{Blob: BlobConfig{Backend: "fs"}},
		}
	}

	cases := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{name: "missing dsn", edit: func(c *Config) { c.Database.DSN = "" }, field: "database.dsn"},
		{name: "zero attempts", edit: func(c *Config) { c.Sync.MaxAttempts = 0 }, field: "sync.max_attempts"},
		{name: "inverted backoff", edit: func(c *Config) { c.Sync.BackoffMax = time.Millisecond }, field: "sync.backoff_max"},
		{name: "quality", edit: func(c *Config) { c.Capture.JPEGQuality = 101 }, field: "capture.jpeg_quality"},
		{name: "blob backend", edit: func(c *Config) { c.Server.Blob.Backend = "s3" }, field: "server.blob.backend"},
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.edit(&cfg)
			err := cfg.Validate()
			var validation *errs.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if validation.Field != tc.field {
				t.Fatalf("field = %q, want %q", validation.Field, tc.field)
			}
		})
	}
}
