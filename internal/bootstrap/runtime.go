package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
	catalogfile "fleetinspect/internal/infrastructure/catalog"
	"fleetinspect/internal/infrastructure/remote"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/transport/httpapi"
	"fleetinspect/internal/usecase/syncengine"
)

const eventBuffer = 16

// AgentRuntime runs the sync loop, the connectivity monitor, the push event
// listener and the checklist watcher for the lifetime of the fx app.
var AgentRuntime = fx.Invoke(registerAgentRuntime)

// ServerRuntime serves the back office API for the lifetime of the fx app.
var ServerRuntime = fx.Invoke(registerServerRuntime)

type agentRuntimeParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Ctx        context.Context
	Engine     *syncengine.Engine
	Monitor    *remote.Monitor
	Listener   *remote.EventListener
	Watcher    *catalogfile.Watcher
}

func registerAgentRuntime(p agentRuntimeParams) {
	logCtx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.runtime"))

	var (
		cancel context.CancelFunc
		group  *errgroup.Group
	)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(logCtx)
			group, runCtx = errgroup.WithContext(runCtx)

			events := make(chan ports.Event, eventBuffer)
			triggers := syncengine.Triggers{Online: p.Monitor.Online()}

			group.Go(func() error {
				p.Monitor.Run(runCtx)
				return nil
			})
			if p.Listener != nil {
				triggers.Events = events
				group.Go(func() error {
					return p.Listener.Listen(runCtx, func(event ports.Event) {
						select {
						case events <- event:
						default:
						}
					})
				})
			}
			if p.Watcher != nil {
				group.Go(func() error { return p.Watcher.Run(runCtx) })
			}
			group.Go(func() error {
				if err := p.Engine.Run(runCtx, triggers); err != nil {
					logging.Error(logCtx, "sync loop failed", slog.Any("err", errs.Loggable(err)))
					_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
					return err
				}
				return nil
			})

			logging.Info(logCtx, "agent runtime started", slog.Bool("events", p.Listener != nil), slog.Bool("catalog_watch", p.Watcher != nil))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			return waitGroup(ctx, group)
		},
	})
}

type serverRuntimeParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Ctx        context.Context
	Server     *http.Server
	Hub        *httpapi.Hub
	Watcher    *catalogfile.Watcher
}

func registerServerRuntime(p serverRuntimeParams) {
	logCtx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.runtime"))

	var (
		cancel context.CancelFunc
		group  *errgroup.Group
	)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			listener, err := net.Listen("tcp", p.Server.Addr)
			if err != nil {
				return errs.Wrapf(err, "listen on %s", p.Server.Addr)
			}

			var runCtx context.Context
			runCtx, cancel = context.WithCancel(logCtx)
			group, runCtx = errgroup.WithContext(runCtx)

			group.Go(func() error {
				if err := p.Server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logging.Error(logCtx, "http server stopped", slog.Any("err", errs.Loggable(err)))
					_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
					return err
				}
				return nil
			})
			if p.Watcher != nil {
				group.Go(func() error { return p.Watcher.Run(runCtx) })
			}

			logging.Info(logCtx, "back office listening", slog.String("addr", listener.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel == nil {
				return nil
			}
			p.Hub.Close()
			shutdownErr := p.Server.Shutdown(ctx)
			cancel()
			if err := waitGroup(ctx, group); err != nil {
				return err
			}
			if shutdownErr != nil {
				return errs.Wrap(shutdownErr, "shutdown http server")
			}
			logging.Info(logCtx, "back office stopped")
			return nil
		},
	})
}

func waitGroup(ctx context.Context, group *errgroup.Group) error {
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errs.Wrap(ctx.Err(), "wait for background tasks")
	}
}
