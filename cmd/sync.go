package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"fleetinspect/internal/bootstrap"
	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/syncqueue"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/usecase/syncengine"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Exchange queued work and assignments with the back office",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Drain the sync queue once",
	RunE: withSync(func(cmd *cobra.Command, _ *bootstrap.App, engine *syncengine.Engine) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		if _, err := engine.Recover(ctx); err != nil {
			return errs.Wrap(err, "recover queue")
		}
		report, err := engine.Drain(ctx)
		if err != nil {
			logging.Error(ctx, "drain failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "drain queue")
		}
		if report.Skipped {
			return printf(cmd, "another drain is running, skipped\n")
		}
		if report.Unauthorized {
			if err := printf(cmd, "back office rejected the sync credential, refresh sync.token\n"); err != nil {
				return err
			}
		}
		return printf(cmd, "attempted=%d succeeded=%d retried=%d failed=%d deferred=%d\n",
			report.Attempted, report.Succeeded, report.Retried, report.Failed, report.Deferred)
	}),
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch today's assignments into the local store",
	RunE: withSync(func(cmd *cobra.Command, _ *bootstrap.App, engine *syncengine.Engine) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		report, err := engine.PullAssignments(ctx)
		if err != nil {
			logging.Error(ctx, "pull assignments failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "pull assignments")
		}
		return printf(cmd, "created=%d refreshed=%d applied=%d reopened=%d cancelled=%d removed=%d skipped=%d\n",
			report.Created, report.Refreshed, report.Applied, report.Reopened, report.Cancelled, report.Removed, report.Skipped)
	}),
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background sync loop until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		var registry *prometheus.Registry
		var metricsServer *http.Server
		err := runUntilSignal(cmd, fx.Options(bootstrap.Module, bootstrap.AgentRuntime), func(ctx context.Context) error {
			if strings.TrimSpace(metricsAddr) == "" {
				return nil
			}
			metricsServer = &http.Server{
				Addr:              metricsAddr,
				Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logging.Error(ctx, "metrics server stopped", slog.Any("err", errs.Loggable(err)))
				}
			}()
			logging.Info(ctx, "metrics listening", slog.String("addr", metricsAddr))
			return nil
		}, &registry)

		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return err
	},
}

var syncQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show queued sync entries",
	RunE: withSync(func(cmd *cobra.Command, _ *bootstrap.App, engine *syncengine.Engine) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		failedOnly, _ := cmd.Flags().GetBool("failed")
		filter := ports.QueueFilter{}
		if failedOnly {
			filter.Statuses = []syncqueue.Status{syncqueue.StatusFailed}
		}
		if rawKind, _ := cmd.Flags().GetString("kind"); strings.TrimSpace(rawKind) != "" {
			kind, err := syncqueue.ParseKind(rawKind)
			if err != nil {
				return err
			}
			filter.Kind = kind
		}

		entries, stats, err := engine.Queue(ctx, filter)
		if err != nil {
			return errs.Wrap(err, "list queue")
		}
		if err := printf(cmd, "pending=%d in_flight=%d failed=%d\n", stats.Pending, stats.InFlight, stats.Failed); err != nil {
			return err
		}
		if last, ok, err := engine.LastDrain(ctx); err == nil && ok {
			if err := printf(cmd, "last drain %s: succeeded=%d failed=%d\n",
				last.FinishedAt.Format(time.RFC3339), last.Succeeded, last.Failed); err != nil {
				return err
			}
		}
		for _, entry := range entries {
			if err := printf(cmd, "%d %s [%s] ref=%s attempts=%d next=%s err=%s\n",
				entry.ID,
				entry.Kind,
				entry.Status,
				entry.Ref,
				entry.Attempts,
				entry.NextAttemptAt.Format(time.RFC3339),
				dash(entry.LastError),
			); err != nil {
				return err
			}
		}
		return nil
	}),
}

var syncRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Give failed entries a fresh set of attempts",
	RunE: withSync(func(cmd *cobra.Command, _ *bootstrap.App, engine *syncengine.Engine) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetUint64("id")
		if id != 0 {
			if err := engine.Resurface(ctx, id); err != nil {
				logging.Error(ctx, "resurface entry failed", slog.Any("err", errs.Loggable(err)), slog.Uint64("entry_id", id))
				return errs.Wrap(err, "resurface entry")
			}
			return printf(cmd, "entry %d resurfaced\n", id)
		}

		count, err := engine.ResurfaceFailed(ctx)
		if err != nil {
			logging.Error(ctx, "resurface failed entries failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "resurface failed entries")
		}
		return printf(cmd, "%d entries resurfaced\n", count)
	}),
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncNowCmd, syncPullCmd, syncRunCmd, syncQueueCmd, syncRetryCmd)

	syncRunCmd.Flags().String("metrics-addr", "", "Serve sync metrics on this address (disabled when empty)")
	syncQueueCmd.Flags().Bool("failed", false, "Only show failed entries")
	syncQueueCmd.Flags().String("kind", "", "Filter by kind (photo-upload|inspection-complete)")
	syncRetryCmd.Flags().Uint64("id", 0, "Resurface a single entry (default: every failed entry)")
}
