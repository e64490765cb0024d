package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"fleetinspect/internal/bootstrap"
	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/usecase/backoffice"
	"fleetinspect/internal/usecase/inspector"
	"fleetinspect/internal/usecase/syncengine"
)

const (
	startTimeout = 10 * time.Second
	stopTimeout  = 10 * time.Second
)

// fxExtra lets a command add options, like device settings read from its
// flags, before the graph is built.
type fxExtra func(cmd *cobra.Command) (fx.Option, error)

func withApp(run func(cmd *cobra.Command, app *bootstrap.App, svc *inspector.Service) error, extras ...fxExtra) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var app *bootstrap.App
		var svc *inspector.Service
		stop, err := startFx(cmd, bootstrap.Module, extras, fx.Populate(&app, &svc))
		if err != nil {
			return err
		}
		defer stop()

		if err := run(cmd, app, svc); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}

func withSync(run func(cmd *cobra.Command, app *bootstrap.App, engine *syncengine.Engine) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var app *bootstrap.App
		var engine *syncengine.Engine
		stop, err := startFx(cmd, bootstrap.Module, nil, fx.Populate(&app, &engine))
		if err != nil {
			return err
		}
		defer stop()

		if err := run(cmd, app, engine); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}

// withServer migrates the back office schema before running, so admin
// commands work against a fresh database.
func withServer(run func(cmd *cobra.Command, app *bootstrap.ServerApp, svc *backoffice.Service) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var app *bootstrap.ServerApp
		var svc *backoffice.Service
		stop, err := startFx(cmd, bootstrap.ServerModule, nil, fx.Populate(&app, &svc))
		if err != nil {
			return err
		}
		defer stop()

		if _, err := app.InitSchema(cmd.Context()); err != nil {
			return errs.Wrap(err, "migrate back office schema")
		}

		if err := run(cmd, app, svc); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}

// runUntilSignal starts a long-running graph and blocks until SIGINT,
// SIGTERM or an fx shutdown request. prepare runs once the graph is built,
// before any lifecycle hook starts.
func runUntilSignal(cmd *cobra.Command, module fx.Option, prepare func(ctx context.Context) error, populate ...any) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cmd.SetContext(ctx)

	fxApp, err := newFx(cmd, module, nil, fx.Populate(populate...))
	if err != nil {
		return err
	}
	if prepare != nil {
		if err := prepare(ctx); err != nil {
			return err
		}
	}
	if err := startApp(ctx, fxApp); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logging.Info(ctx, "shutdown signal received")
	case sig := <-fxApp.Wait():
		logging.Info(ctx, "shutdown requested", slog.Int("exit_code", sig.ExitCode))
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil {
		logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "stop fx application")
	}
	return nil
}

func newFx(cmd *cobra.Command, module fx.Option, extras []fxExtra, populate fx.Option) (*fx.App, error) {
	ctx := logging.WithAttrs(
		cmd.Context(),
		slog.String("command", cmd.CommandPath()),
		slog.String("config_file", cfgFile),
	)

	options := []fx.Option{
		module,
		bootstrap.Inputs(ctx, cfgFile),
		fx.NopLogger,
		populate,
	}
	for _, extra := range extras {
		option, err := extra(cmd)
		if err != nil {
			return nil, err
		}
		options = append(options, option)
	}

	fxApp := fx.New(options...)
	if err := fxApp.Err(); err != nil {
		logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
		return nil, errs.Wrap(err, "build fx application")
	}
	return fxApp, nil
}

func startApp(ctx context.Context, fxApp *fx.App) error {
	startCtx, cancelStart := context.WithTimeout(ctx, startTimeout)
	defer cancelStart()
	if err := fxApp.Start(startCtx); err != nil {
		logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "start fx application")
	}
	return nil
}

func startFx(cmd *cobra.Command, module fx.Option, extras []fxExtra, populate fx.Option) (func(), error) {
	fxApp, err := newFx(cmd, module, extras, populate)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if err := startApp(ctx, fxApp); err != nil {
		return nil, err
	}

	return func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
		defer cancelStop()
		if err := fxApp.Stop(stopCtx); err != nil {
			logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
		}
	}, nil
}

func printf(cmd *cobra.Command, format string, args ...any) error {
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), format, args...); err != nil {
		return errs.Wrap(err, "write output")
	}
	return nil
}
