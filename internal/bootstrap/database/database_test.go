package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fleetinspect/internal/bootstrap/config"
	"fleetinspect/internal/errs"
)

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	dsn := filepath.Join(dir, "local.sqlite")

	db, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })

	if err := db.Exec("CREATE TABLE probe (id INTEGER)").Error; err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("Stat(%s) error = %v", dir, err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("Open() error = nil, want unsupported driver")
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "postgres"})
	var validation *errs.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("Open() error = %v, want ValidationError", err)
	}
}

func TestSQLiteDSN(t *testing.T) {
	cases := map[string]string{
		"a.sqlite":                      "a.sqlite?_pragma=busy_timeout(5000)",
		"file:a.sqlite?cache=shared":    "file:a.sqlite?cache=shared&_pragma=busy_timeout(5000)",
		":memory:":                      ":memory:",
		"a.sqlite?_pragma=journal(WAL)": "a.sqlite?_pragma=journal(WAL)",
	}
	for in, want := range cases {
		if got := sqliteDSN(in); got != want {
			t.Fatalf("sqliteDSN(%q) = %q, want %q", in, got, want)
		}
	}
}
