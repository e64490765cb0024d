package syncengine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

// Triggers are the optional wake-up sources of the Run loop.
type Triggers struct {
	// Online fires on offline to online transitions.
	Online <-chan struct{}
	// Events delivers back office push events.
	Events <-chan ports.Event
}

// TriggerNow asks a running loop to drain as soon as possible.
func (e *Engine) TriggerNow() { e.signal() }

func (e *Engine) signal() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run recovers interrupted entries and then drains on every tick, trigger
// and online transition until ctx is cancelled. A review event pulls before
// draining so reopened inspections show up.
func (e *Engine) Run(ctx context.Context, triggers Triggers) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.syncengine"))
	if _, err := e.Recover(logCtx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	logging.Info(logCtx, "sync loop started", slog.Duration("interval", e.cfg.Interval))
	e.cycle(logCtx, true)
	for {
		select {
		case <-ctx.Done():
			logging.Info(logCtx, "sync loop stopped")
			return nil
		case <-ticker.C:
			e.cycle(logCtx, true)
		case <-e.trigger:
			e.cycle(logCtx, false)
		case <-triggers.Online:
			e.cycle(logCtx, true)
		case event, ok := <-triggers.Events:
			if !ok {
				triggers.Events = nil
				continue
			}
			logging.Info(logCtx, "back office event", slog.String("type", event.Type), slog.String("inspection_id", event.InspectionID))
			e.cycle(logCtx, true)
		}
	}
}

func (e *Engine) cycle(ctx context.Context, pull bool) {
	if _, err := e.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error(ctx, "drain failed", slog.Any("err", errs.Loggable(err)))
	}
	if !pull || ctx.Err() != nil {
		return
	}
	if _, err := e.PullAssignments(ctx); err != nil {
		level := logging.Warn
		if errs.IsStorage(err) {
			level = logging.Error
		}
		level(ctx, "pull assignments failed", slog.Any("err", errs.Loggable(err)))
	}
}
