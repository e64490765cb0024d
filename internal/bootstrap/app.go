package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"fleetinspect/internal/bootstrap/config"
	"fleetinspect/internal/bootstrap/database"
	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/persistence/sqlite/migrate"
	"fleetinspect/internal/ports"
)

// App is the inspector agent: the local store and its blob directory.
type App struct {
	Config config.Config
	DB     *gorm.DB
	Blobs  ports.BlobStore
}

// InitSchema brings the local store to the latest schema version.
func (a *App) InitSchema(ctx context.Context) ([]int, error) {
	return initSchema(ctx, a.DB, a.Blobs, migrate.LocalMigrations())
}

// SchemaVersion reports the highest applied local migration.
func (a *App) SchemaVersion(ctx context.Context) (int, error) {
	return migrate.NewRunner(a.DB, migrate.Env{Blobs: a.Blobs}, migrate.LocalMigrations()).Current(ctx)
}

func (a *App) Close(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := database.Close(a.DB); err != nil {
		return err
	}

	logging.Info(logging.WithAttrs(ctx, slog.String("component", "bootstrap.app")), "database connection closed")
	return nil
}

// ServerApp is the back office: its database and photo blob backend.
type ServerApp struct {
	Config config.Config
	DB     *gorm.DB
	Blobs  ports.BlobStore
}

func (a *ServerApp) InitSchema(ctx context.Context) ([]int, error) {
	return initSchema(ctx, a.DB, a.Blobs, migrate.BackOfficeMigrations())
}

func initSchema(ctx context.Context, db *gorm.DB, blobs ports.BlobStore, migrations []migrate.Migration) ([]int, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}
	if db == nil {
		return nil, errors.New("database is required")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	logging.Info(logCtx, "start schema migration")

	applied, err := migrate.NewRunner(db, migrate.Env{Blobs: blobs}, migrations).Up(logCtx)
	if err != nil {
		return applied, errs.Wrap(err, "migrate schema")
	}

	logging.Info(logCtx, "schema migration completed", slog.Int("applied", len(applied)))
	return applied, nil
}
