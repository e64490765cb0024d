package migrate

import (
	"context"

	"gorm.io/gorm"

	"fleetinspect/internal/infrastructure/persistence/sqlite/model"
)

// BackOfficeMigrations is the versioned schema of the back office database.
func BackOfficeMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "back_office_tables", Up: createBackOfficeTables},
	}
}

func createBackOfficeTables(_ context.Context, tx *gorm.DB, _ Env) error {
	return tx.AutoMigrate(
		&model.BackOfficeInspection{},
		&model.BackOfficeItem{},
		&model.BackOfficeItemHistory{},
		&model.BackOfficeReview{},
		&model.BackOfficePhoto{},
	)
}
