package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/syncqueue"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

const (
	CacheKeyLastPull  = "sync.last_pull_at"
	CacheKeyLastDrain = "sync.last_drain"
)

type Config struct {
	InspectorID string
	Interval    time.Duration
	BatchSize   int
	Retry       syncqueue.RetryPolicy
}

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = syncqueue.DefaultRetryPolicy()
	}
	return c
}

// DrainReport summarizes one drain cycle.
type DrainReport struct {
	Skipped   bool `json:"skipped"`
	Attempted int  `json:"attempted"`
	Succeeded int  `json:"succeeded"`
	Retried   int  `json:"retried"`
	Failed    int  `json:"failed"`
	Deferred  int  `json:"deferred"`
	// Unauthorized is set when the back office rejected the credential and
	// the cycle stopped early.
	Unauthorized bool      `json:"unauthorized,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Engine drains the local sync queue against the back office and merges
// assignments back into the local store. One drain runs at a time.
type Engine struct {
	store   ports.InspectionStore
	queue   ports.SyncQueueStore
	uow     ports.UnitOfWork
	blobs   ports.BlobStore
	remote  ports.RemoteAPI
	cache   ports.Cache
	metrics *Metrics
	cfg     Config

	draining *semaphore.Weighted
	trigger  chan struct{}
	now      func() time.Time
}

func New(
	store ports.InspectionStore,
	queue ports.SyncQueueStore,
	uow ports.UnitOfWork,
	blobs ports.BlobStore,
	remote ports.RemoteAPI,
	cache ports.Cache,
	metrics *Metrics,
	cfg Config,
) *Engine {
	return &Engine{
		store:    store,
		queue:    queue,
		uow:      uow,
		blobs:    blobs,
		remote:   remote,
		cache:    cache,
		metrics:  metrics,
		cfg:      cfg.normalized(),
		draining: semaphore.NewWeighted(1),
		trigger:  make(chan struct{}, 1),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) check(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	if e.store == nil || e.queue == nil || e.uow == nil {
		return errors.New("local store is required")
	}
	if e.remote == nil {
		return errors.New("remote api is required")
	}
	return nil
}

// Drain dispatches every due queue entry once. A drain already running makes
// this call return a skipped report immediately. Remote failures are recorded
// on their entries; only a local storage failure aborts the cycle. A rejected
// credential ends the cycle early without charging the entry an attempt.
func (e *Engine) Drain(ctx context.Context) (DrainReport, error) {
	if err := e.check(ctx); err != nil {
		return DrainReport{}, err
	}
	if !e.draining.TryAcquire(1) {
		e.metrics.drain("skipped")
		return DrainReport{Skipped: true}, nil
	}
	defer e.draining.Release(1)

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.syncengine"))
	report := DrainReport{StartedAt: e.now()}

	err := e.drain(logCtx, &report)
	report.FinishedAt = e.now()

	if err != nil {
		e.metrics.drain("aborted")
		logging.Error(logCtx, "drain aborted", slog.Any("err", errs.Loggable(err)))
		return report, err
	}
	e.metrics.drain("completed")
	e.afterDrain(logCtx, report)
	return report, nil
}

func (e *Engine) drain(ctx context.Context, report *DrainReport) error {
	entries, err := e.queue.ListDispatchable(ctx, e.now(), e.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(err, "drain interrupted")
		}

		if entry.Kind == syncqueue.KindInspectionComplete {
			outstanding, err := e.queue.CountOutstanding(ctx, entry.InspectionID, syncqueue.KindPhotoUpload)
			if err != nil {
				return err
			}
			if outstanding > 0 {
				report.Deferred++
				e.metrics.entry(string(entry.Kind), "deferred")
				continue
			}
		}

		if err := e.queue.MarkInFlight(ctx, entry.ID, e.now()); err != nil {
			if errors.Is(err, errs.ErrInvalidState) || errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return err
		}
		report.Attempted++

		err := e.dispatch(ctx, entry)
		switch {
		case err == nil:
			report.Succeeded++
			e.metrics.entry(string(entry.Kind), "succeeded")
		case errors.Is(err, errDeferred):
			if err := e.release(ctx, entry); err != nil {
				return err
			}
			report.Attempted--
			report.Deferred++
			e.metrics.entry(string(entry.Kind), "deferred")
		case errs.IsAuth(err):
			if err := e.release(ctx, entry); err != nil {
				return err
			}
			report.Attempted--
			report.Unauthorized = true
			e.metrics.entry(string(entry.Kind), "unauthorized")
			logging.Error(ctx, "back office rejected the sync credential, stopping drain",
				slog.Uint64("entry_id", entry.ID),
				slog.Any("err", errs.Loggable(err)),
			)
			return nil
		case errs.IsStorage(err):
			if releaseErr := e.release(ctx, entry); releaseErr != nil {
				logging.Warn(ctx, "release queue entry failed", slog.Uint64("entry_id", entry.ID), slog.Any("err", errs.Loggable(releaseErr)))
			}
			return err
		default:
			status, err := e.recordFailure(ctx, entry, err)
			if err != nil {
				return err
			}
			if status == syncqueue.StatusFailed {
				report.Failed++
				e.metrics.entry(string(entry.Kind), "failed")
			} else {
				report.Retried++
				e.metrics.entry(string(entry.Kind), "retried")
			}
		}
	}
	return nil
}

// release puts an in-flight entry back to pending without counting an attempt.
func (e *Engine) release(ctx context.Context, entry syncqueue.Entry) error {
	return e.queue.RecordFailure(ctx, entry.ID, ports.QueueFailure{
		Status:        syncqueue.StatusPending,
		Attempts:      entry.Attempts,
		AttemptedAt:   e.now(),
		NextAttemptAt: e.now(),
		LastError:     entry.LastError,
	})
}

func (e *Engine) recordFailure(ctx context.Context, entry syncqueue.Entry, cause error) (syncqueue.Status, error) {
	now := e.now()
	decision := e.cfg.Retry.OnFailure(entry, cause, now)
	if err := e.queue.RecordFailure(ctx, entry.ID, ports.QueueFailure{
		Status:        decision.Status,
		Attempts:      decision.Attempts,
		AttemptedAt:   now,
		NextAttemptAt: decision.NextAttemptAt,
		LastError:     cause.Error(),
	}); err != nil {
		return "", err
	}

	attrs := []slog.Attr{
		slog.Uint64("entry_id", entry.ID),
		slog.String("kind", string(entry.Kind)),
		slog.String("ref", entry.Ref),
		slog.Int("attempts", decision.Attempts),
		slog.Any("err", errs.Loggable(cause)),
	}
	if decision.Status == syncqueue.StatusFailed {
		logging.Error(ctx, "queue entry failed", attrs...)
	} else {
		attrs = append(attrs, slog.Time("next_attempt_at", decision.NextAttemptAt))
		logging.Warn(ctx, "queue entry will be retried", attrs...)
	}
	return decision.Status, nil
}

func (e *Engine) afterDrain(ctx context.Context, report DrainReport) {
	if stats, err := e.queue.Stats(ctx); err == nil {
		e.metrics.depth(stats)
	}
	if e.cache != nil {
		if raw, err := json.Marshal(report); err == nil {
			if err := e.cache.Set(ctx, CacheKeyLastDrain, string(raw), 0); err != nil {
				logging.Warn(ctx, "cache drain report failed", slog.Any("err", errs.Loggable(err)))
			}
		}
	}
	if report.Attempted > 0 || report.Deferred > 0 {
		logging.Info(ctx, "drain finished",
			slog.Int("attempted", report.Attempted),
			slog.Int("succeeded", report.Succeeded),
			slog.Int("retried", report.Retried),
			slog.Int("failed", report.Failed),
			slog.Int("deferred", report.Deferred),
		)
	}
}

// LastDrain returns the report cached by the previous completed drain.
func (e *Engine) LastDrain(ctx context.Context) (DrainReport, bool, error) {
	if e.cache == nil {
		return DrainReport{}, false, nil
	}
	raw, found, err := e.cache.Get(ctx, CacheKeyLastDrain)
	if err != nil || !found {
		return DrainReport{}, false, err
	}
	var report DrainReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return DrainReport{}, false, errs.Wrap(err, "decode cached drain report")
	}
	return report, true, nil
}

// Recover returns entries left in flight by a crash to pending.
func (e *Engine) Recover(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if e.queue == nil {
		return 0, errors.New("sync queue is required")
	}
	reset, err := e.queue.ResetInFlight(ctx)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.syncengine"))
		logging.Warn(logCtx, "recovered in-flight queue entries", slog.Int64("count", reset))
	}
	return reset, nil
}

// Resurface gives a failed entry a fresh set of attempts.
func (e *Engine) Resurface(ctx context.Context, id uint64) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := e.queue.Resurface(ctx, id, e.now()); err != nil {
		return err
	}
	e.signal()
	return nil
}

// ResurfaceFailed resurfaces every failed entry and returns how many.
func (e *Engine) ResurfaceFailed(ctx context.Context) (int, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	failed, err := e.queue.ListEntries(ctx, ports.QueueFilter{Statuses: []syncqueue.Status{syncqueue.StatusFailed}})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range failed {
		if err := e.queue.Resurface(ctx, entry.ID, e.now()); err != nil {
			if errors.Is(err, errs.ErrInvalidState) {
				continue
			}
			return count, fmt.Errorf("resurface entry %d: %w", entry.ID, err)
		}
		count++
	}
	if count > 0 {
		e.signal()
	}
	return count, nil
}

// Queue lists entries for display.
func (e *Engine) Queue(ctx context.Context, filter ports.QueueFilter) ([]syncqueue.Entry, ports.QueueStats, error) {
	if ctx == nil {
		return nil, ports.QueueStats{}, errors.New("context is required")
	}
	entries, err := e.queue.ListEntries(ctx, filter)
	if err != nil {
		return nil, ports.QueueStats{}, err
	}
	stats, err := e.queue.Stats(ctx)
	if err != nil {
		return nil, ports.QueueStats{}, err
	}
	return entries, stats, nil
}
