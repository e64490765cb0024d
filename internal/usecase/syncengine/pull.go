package syncengine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/review"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

type PullReport struct {
	Created   int
	Refreshed int
	Applied   int
	Reopened  int
	Cancelled int
	Removed   int
	Skipped   int
}

// PullAssignments fetches today's assignments and merges them into the local
// store in one transaction. Inspections with local work in flight are never
// touched; synced ones take the back office's score, review and overrides.
func (e *Engine) PullAssignments(ctx context.Context) (PullReport, error) {
	if err := e.check(ctx); err != nil {
		return PullReport{}, err
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.syncengine"))

	resp, err := e.remote.FetchAssignments(ctx)
	if err != nil {
		return PullReport{}, err
	}
	inspectorID := strings.TrimSpace(resp.InspectorID)
	if inspectorID == "" {
		inspectorID = strings.TrimSpace(e.cfg.InspectorID)
	}

	var report PullReport
	if err := e.uow.WithTx(ctx, func(txCtx context.Context) error {
		report = PullReport{}
		local, err := e.store.ListInspections(txCtx, ports.InspectionFilter{InspectorID: inspectorID})
		if err != nil {
			return err
		}
		byAssignment := make(map[string]inspection.Inspection, len(local))
		for _, existing := range local {
			if existing.AssignmentID != nil {
				byAssignment[*existing.AssignmentID] = existing
			}
		}

		seen := make(map[string]struct{}, len(resp.Assignments))
		for _, assignment := range resp.Assignments {
			id := strings.TrimSpace(assignment.ID)
			if id == "" {
				continue
			}
			seen[id] = struct{}{}

			existing, ok := byAssignment[id]
			if !ok {
				created, err := e.createFromAssignment(txCtx, inspectorID, assignment)
				if err != nil {
					return err
				}
				if created {
					report.Created++
				} else {
					report.Skipped++
				}
				continue
			}
			if err := e.mergeAssignment(txCtx, existing, assignment, &report); err != nil {
				return err
			}
		}

		for _, existing := range local {
			if existing.AssignmentID == nil || existing.SyncState != inspection.StateScheduled {
				continue
			}
			if _, ok := seen[*existing.AssignmentID]; ok {
				continue
			}
			if err := e.store.DeleteInspection(txCtx, existing.ID); err != nil {
				return err
			}
			report.Removed++
		}
		return nil
	}); err != nil {
		return PullReport{}, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, CacheKeyLastPull, e.now().Format(time.RFC3339), 0); err != nil {
			logging.Warn(logCtx, "cache pull time failed", slog.Any("err", errs.Loggable(err)))
		}
	}
	e.metrics.pulled("created", report.Created)
	e.metrics.pulled("refreshed", report.Refreshed)
	e.metrics.pulled("applied", report.Applied)
	e.metrics.pulled("reopened", report.Reopened)
	e.metrics.pulled("removed", report.Removed)

	logging.Info(logCtx, "assignments pulled",
		slog.Int("assignments", len(resp.Assignments)),
		slog.Int("created", report.Created),
		slog.Int("refreshed", report.Refreshed),
		slog.Int("applied", report.Applied),
		slog.Int("reopened", report.Reopened),
		slog.Int("removed", report.Removed),
	)
	return report, nil
}

// LastPull returns when assignments were last merged.
func (e *Engine) LastPull(ctx context.Context) (time.Time, bool, error) {
	if e.cache == nil {
		return time.Time{}, false, nil
	}
	raw, found, err := e.cache.Get(ctx, CacheKeyLastPull)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, errs.Wrap(err, "parse cached pull time")
	}
	return at, true, nil
}

func (e *Engine) createFromAssignment(ctx context.Context, inspectorID string, assignment ports.Assignment) (bool, error) {
	if review.Estado(assignment.Estado) != review.EstadoScheduled {
		return false, nil
	}
	id := strings.TrimSpace(assignment.ID)
	remoteID := id
	scheduledAt := assignment.ScheduledAt.UTC()

	_, err := e.store.CreateInspection(ctx, inspection.Inspection{
		RemoteID:     &remoteID,
		ClientRef:    uuid.NewString(),
		AssignmentID: &id,
		InspectorID:  inspectorID,
		SystemPlate:  inspection.NormalizePlate(assignment.Plate),
		VehicleType:  strings.TrimSpace(assignment.VehicleType),
		BodyClass:    strings.TrimSpace(assignment.BodyClass),
		ClientName:   strings.TrimSpace(assignment.ClientName),
		TemplateCode: strings.TrimSpace(assignment.TemplateCode),
		ScheduledAt:  &scheduledAt,
		SyncState:    inspection.StateScheduled,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) mergeAssignment(ctx context.Context, existing inspection.Inspection, assignment ports.Assignment, report *PullReport) error {
	estado := review.Estado(assignment.Estado)

	switch {
	case existing.SyncState == inspection.StateScheduled:
		if estado == review.EstadoCancelled {
			existing.SyncState = inspection.StateCancelled
			report.Cancelled++
		} else {
			scheduledAt := assignment.ScheduledAt.UTC()
			existing.SystemPlate = inspection.NormalizePlate(assignment.Plate)
			existing.VehicleType = strings.TrimSpace(assignment.VehicleType)
			existing.BodyClass = strings.TrimSpace(assignment.BodyClass)
			existing.ClientName = strings.TrimSpace(assignment.ClientName)
			existing.TemplateCode = strings.TrimSpace(assignment.TemplateCode)
			existing.ScheduledAt = &scheduledAt
			report.Refreshed++
		}
		return e.store.UpdateInspection(ctx, existing)

	case existing.SyncState.RemoteAuthoritative():
		if err := e.applyRemote(ctx, existing, assignment); err != nil {
			return err
		}
		report.Applied++
		if estado == review.EstadoInCorrection && existing.SyncState == inspection.StateSynced {
			report.Reopened++
		}
		return nil
	}

	report.Skipped++
	return nil
}

// applyRemote copies the back office's verdict on a synced inspection:
// score, result, review state, item overrides and their history. A local
// override the back office no longer holds is dropped.
func (e *Engine) applyRemote(ctx context.Context, existing inspection.Inspection, assignment ports.Assignment) error {
	if assignment.Score != nil {
		score := *assignment.Score
		existing.Score = &score
	}
	if assignment.Result != "" {
		result, err := inspection.ParseResult(assignment.Result)
		if err != nil {
			return err
		}
		existing.Result = result
	}
	existing.ReviewState = assignment.ReviewState
	existing.ReviewComment = assignment.ReviewComment
	if review.Estado(assignment.Estado) == review.EstadoInCorrection && existing.SyncState == inspection.StateSynced {
		next, err := existing.SyncState.Transition(inspection.StateInCorrection)
		if err != nil {
			return err
		}
		existing.SyncState = next
	}
	if err := e.store.UpdateInspection(ctx, existing); err != nil {
		return err
	}

	for _, item := range assignment.Items {
		verdict, err := e.store.GetVerdict(ctx, existing.ID, item.ItemID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return err
		}
		switch {
		case item.Overridden && item.OverrideVerdict != "":
			override, err := inspection.ParseVerdict(item.OverrideVerdict)
			if err != nil {
				return err
			}
			verdict.OverrideVerdict = &override
			verdict.Overridden = true
			if verdict, err = e.store.UpsertVerdict(ctx, verdict); err != nil {
				return err
			}
		case verdict.Overridden:
			if err := e.store.ClearOverride(ctx, verdict.ID); err != nil {
				return err
			}
			verdict.OverrideVerdict = nil
			verdict.Overridden = false
		}

		for _, record := range item.History {
			if strings.TrimSpace(record.ID) == "" {
				continue
			}
			newVerdict, err := inspection.ParseVerdict(record.NewVerdict)
			if err != nil {
				return err
			}
			entry := inspection.HistoryEntry{
				ItemVerdictID: verdict.ID,
				At:            record.At,
				Actor:         record.Actor,
				Action:        record.Action,
				NewVerdict:    newVerdict,
				Justification: record.Justification,
			}
			if record.PriorVerdict != "" {
				prior, err := inspection.ParseVerdict(record.PriorVerdict)
				if err != nil {
					return err
				}
				entry.PriorVerdict = &prior
			}
			remoteID := record.ID
			entry.RemoteID = &remoteID
			if _, err := e.store.AppendHistory(ctx, entry); err != nil {
				return err
			}
		}
	}
	return nil
}
