package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/persistence/sqlite/model"
	"fleetinspect/internal/ports"
)

// Env carries the collaborators a migration may need besides the transaction.
type Env struct {
	Blobs ports.BlobStore
}

type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, tx *gorm.DB, env Env) error
}

type Runner struct {
	db         *gorm.DB
	env        Env
	migrations []Migration
}

func NewRunner(db *gorm.DB, env Env, migrations []Migration) *Runner {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Runner{db: db, env: env, migrations: sorted}
}

// Up applies every pending migration, each in its own transaction, and
// returns the versions it applied.
func (r *Runner) Up(ctx context.Context) ([]int, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}
	if r.db == nil {
		return nil, errors.New("migration database is required")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "persistence.migrate"))

	db := r.db.WithContext(ctx)
	if err := db.AutoMigrate(&model.SchemaVersion{}); err != nil {
		return nil, errs.Storage(err, "create schema_versions")
	}

	appliedSet, err := r.appliedVersions(db)
	if err != nil {
		return nil, err
	}

	applied := make([]int, 0, len(r.migrations))
	for _, migration := range r.migrations {
		if _, done := appliedSet[migration.Version]; done {
			continue
		}

		logging.Info(logCtx, "applying migration", slog.Int("version", migration.Version), slog.String("name", migration.Name))
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(ctx, tx, r.env); err != nil {
				return err
			}
			return tx.Create(&model.SchemaVersion{
				Version:   migration.Version,
				Name:      migration.Name,
				AppliedAt: time.Now().UTC(),
			}).Error
		}); err != nil {
			return applied, errs.Storage(errs.Wrapf(err, "migration %d %s", migration.Version, migration.Name), "migrate")
		}
		applied = append(applied, migration.Version)
	}

	logging.Info(logCtx, "schema up to date", slog.Int("applied", len(applied)), slog.Int("version", r.latest()))
	return applied, nil
}

// Current returns the highest applied version, or 0 on a fresh database.
func (r *Runner) Current(ctx context.Context) (int, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	db := r.db.WithContext(ctx)
	if !db.Migrator().HasTable(&model.SchemaVersion{}) {
		return 0, nil
	}

	var row model.SchemaVersion
	if err := db.Order("version desc").Limit(1).Find(&row).Error; err != nil {
		return 0, errs.Storage(err, "query schema version")
	}
	return row.Version, nil
}

func (r *Runner) appliedVersions(db *gorm.DB) (map[int]struct{}, error) {
	var rows []model.SchemaVersion
	if err := db.Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query schema versions")
	}
	out := make(map[int]struct{}, len(rows))
	for _, row := range rows {
		out[row.Version] = struct{}{}
	}
	return out, nil
}

func (r *Runner) latest() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version
}

func requireBlobs(env Env) error {
	if env.Blobs == nil {
		return fmt.Errorf("blob store is required")
	}
	return nil
}
