package cmd

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"fleetinspect/internal/bootstrap"
	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/usecase/console"
	"fleetinspect/internal/usecase/inspector"
	"fleetinspect/internal/usecase/syncengine"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the inspector terminal console",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		var app *bootstrap.App
		var svc *inspector.Service
		var engine *syncengine.Engine
		stop, err := startFx(cmd, bootstrap.Module, nil, fx.Populate(&app, &svc, &engine))
		if err != nil {
			return err
		}
		defer stop()

		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")
		if refreshInterval <= 0 {
			refreshInterval = 3 * time.Second
		}

		model := console.NewInspectorModel(ctx, svc, engine, console.Options{
			InspectorID:     app.Config.App.InspectorID,
			RefreshInterval: refreshInterval,
		})

		program := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run inspector console")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().Duration("refresh-interval", 3*time.Second, "Auto refresh interval")
}
