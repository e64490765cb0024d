/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"fleetinspect/internal/bootstrap"
	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/usecase/inspector"
)

// initDbCmd represents the initDb command
var initDbCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize or upgrade the local inspection store",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, _ *inspector.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		logging.Info(ctx, "start init-db")

		applied, err := app.InitSchema(ctx)
		if err != nil {
			logging.Error(ctx, "initialize schema failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "initialize schema")
		}
		version, err := app.SchemaVersion(ctx)
		if err != nil {
			return errs.Wrap(err, "read schema version")
		}

		logging.Info(ctx, "init-db finished", slog.String("database_dsn", app.Config.Database.DSN), slog.Int("version", version))
		return printf(cmd, "local store ready: %s (schema v%d, applied %v)\n", app.Config.Database.DSN, version, applied)
	}),
}

func init() {
	rootCmd.AddCommand(initDbCmd)
}
