package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"fleetinspect/internal/bootstrap"
	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the back office HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var app *bootstrap.ServerApp
		return runUntilSignal(cmd, fx.Options(bootstrap.ServerModule, bootstrap.ServerRuntime), func(ctx context.Context) error {
			ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))
			applied, err := app.InitSchema(ctx)
			if err != nil {
				logging.Error(ctx, "migrate back office schema failed", slog.Any("err", errs.Loggable(err)))
				return errs.Wrap(err, "migrate back office schema")
			}
			logging.Info(ctx, "back office schema ready", slog.Int("applied", len(applied)))
			return nil
		}, &app)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
