package inspector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/scoring"
	"fleetinspect/internal/domain/syncqueue"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

// StartInspection moves a scheduled inspection, or one returned for
// correction, to in_progress.
func (s *Service) StartInspection(ctx context.Context, id uint64) (inspection.Inspection, error) {
	if err := s.check(ctx); err != nil {
		return inspection.Inspection{}, err
	}

	var started inspection.Inspection
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.store.GetInspection(txCtx, id)
		if err != nil {
			return err
		}
		next, err := current.SyncState.Transition(inspection.StateInProgress)
		if err != nil {
			return err
		}
		if err := s.ensureNoOtherInProgress(txCtx, current.InspectorID, current.ID); err != nil {
			return err
		}

		now := s.now()
		current.SyncState = next
		if current.StartedAt == nil {
			current.StartedAt = &now
		}
		current.FinishedAt = nil
		if err := s.store.UpdateInspection(txCtx, current); err != nil {
			return err
		}
		started = current
		return nil
	}); err != nil {
		return inspection.Inspection{}, err
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.inspector"), slog.Uint64("inspection_id", id))
	logging.Info(logCtx, "inspection started", slog.String("plate", started.SystemPlate))
	return started, nil
}

// StartAdhocInspection creates an unscheduled inspection directly in progress.
func (s *Service) StartAdhocInspection(ctx context.Context, input AdhocInput) (inspection.Inspection, error) {
	if err := s.check(ctx); err != nil {
		return inspection.Inspection{}, err
	}

	plate := inspection.NormalizePlate(input.Plate)
	if plate == "" {
		return inspection.Inspection{}, errs.Validation("plate", "is required")
	}
	template, err := s.catalog.Get(input.TemplateCode)
	if err != nil {
		return inspection.Inspection{}, err
	}
	inspectorID := s.inspectorID("")
	if inspectorID == "" {
		return inspection.Inspection{}, errs.Validation("inspector_id", "is not configured")
	}

	var created inspection.Inspection
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.ensureNoOtherInProgress(txCtx, inspectorID, 0); err != nil {
			return err
		}
		now := s.now()
		created, err = s.store.CreateInspection(txCtx, inspection.Inspection{
			ClientRef:    uuid.NewString(),
			InspectorID:  inspectorID,
			SystemPlate:  plate,
			VehicleType:  strings.TrimSpace(input.VehicleType),
			BodyClass:    strings.TrimSpace(input.BodyClass),
			ClientName:   strings.TrimSpace(input.ClientName),
			TemplateCode: template.Code,
			StartedAt:    &now,
			SyncState:    inspection.StateInProgress,
		})
		return err
	}); err != nil {
		return inspection.Inspection{}, err
	}
	return created, nil
}

// Finalize signs and scores the inspection, then queues its photo uploads and
// its completion in the same transaction that marks it pending_sync.
func (s *Service) Finalize(ctx context.Context, input FinalizeInput) (inspection.Inspection, error) {
	if err := s.check(ctx); err != nil {
		return inspection.Inspection{}, err
	}
	if s.queue == nil {
		return inspection.Inspection{}, fmt.Errorf("sync queue is required")
	}
	if len(input.Signature) == 0 {
		return inspection.Inspection{}, errs.Validation("signature", "is required to finalize")
	}

	var (
		finalized inspection.Inspection
		queued    int
	)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.requireInProgress(txCtx, input.InspectionID)
		if err != nil {
			return err
		}
		verdicts, err := s.store.ListVerdicts(txCtx, current.ID)
		if err != nil {
			return err
		}
		if len(verdicts) == 0 {
			return errs.Validation("verdicts", "at least one item must be answered")
		}
		template, err := s.catalog.Get(current.TemplateCode)
		if err != nil {
			return err
		}
		outcome := scoring.ComputeScore(verdicts, template)

		now := s.now()
		score := outcome.Score
		current.SyncState = inspection.StatePendingSync
		current.Revision++
		current.FinishedAt = &now
		current.Score = &score
		current.Result = outcome.Result
		current.Signature = input.Signature
		if observations := strings.TrimSpace(input.Observations); observations != "" {
			current.Observations = observations
		}
		if err := s.store.UpdateInspection(txCtx, current); err != nil {
			return err
		}

		photos, err := s.store.ListCurrentPhotos(txCtx, ports.PhotoFilter{InspectionID: current.ID})
		if err != nil {
			return err
		}
		for _, photo := range photos {
			if photo.RemoteRef != nil {
				continue
			}
			payload, err := syncqueue.EncodePayload(syncqueue.PhotoUploadPayload{PhotoID: photo.ID, ClientRef: photo.ClientRef})
			if err != nil {
				return err
			}
			if _, _, err := s.queue.Enqueue(txCtx, ports.QueueEntryCreate{
				Kind:         syncqueue.KindPhotoUpload,
				Ref:          photo.ClientRef,
				InspectionID: current.ID,
				Payload:      payload,
			}); err != nil {
				return err
			}
			queued++
		}

		payload, err := syncqueue.EncodePayload(syncqueue.CompletionPayload{InspectionID: current.ID, ClientRef: current.ClientRef})
		if err != nil {
			return err
		}
		if _, _, err := s.queue.Enqueue(txCtx, ports.QueueEntryCreate{
			Kind:         syncqueue.KindInspectionComplete,
			Ref:          current.SubmissionRef(),
			InspectionID: current.ID,
			Payload:      payload,
		}); err != nil {
			return err
		}
		queued++

		finalized = current
		return nil
	}); err != nil {
		return inspection.Inspection{}, err
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.inspector"), slog.Uint64("inspection_id", finalized.ID))
	logging.Info(logCtx, "inspection finalized",
		slog.Int("score", *finalized.Score),
		slog.String("result", string(finalized.Result)),
		slog.Int("queued", queued),
	)
	return finalized, nil
}

// Cancel abandons a scheduled or in-progress inspection. Nothing is queued.
func (s *Service) Cancel(ctx context.Context, id uint64, reason string) (inspection.Inspection, error) {
	if err := s.check(ctx); err != nil {
		return inspection.Inspection{}, err
	}

	var cancelled inspection.Inspection
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.store.GetInspection(txCtx, id)
		if err != nil {
			return err
		}
		next, err := current.SyncState.Transition(inspection.StateCancelled)
		if err != nil {
			return err
		}
		current.SyncState = next
		if reason = strings.TrimSpace(reason); reason != "" {
			current.Observations = strings.TrimSpace(current.Observations + "\n" + "cancelled: " + reason)
		}
		if err := s.store.UpdateInspection(txCtx, current); err != nil {
			return err
		}
		cancelled = current
		return nil
	}); err != nil {
		return inspection.Inspection{}, err
	}
	return cancelled, nil
}
