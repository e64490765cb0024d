package inspector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/scoring"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/usecase/capture"
)

// RecordVerdict stores the inspector's answer for one checklist item and
// appends a history entry whenever the answer changes.
func (s *Service) RecordVerdict(ctx context.Context, input RecordVerdictInput) (inspection.ItemVerdict, error) {
	if err := s.check(ctx); err != nil {
		return inspection.ItemVerdict{}, err
	}

	verdict, err := inspection.ParseVerdict(input.Verdict)
	if err != nil {
		return inspection.ItemVerdict{}, err
	}
	itemID := strings.TrimSpace(input.ItemID)
	if itemID == "" {
		return inspection.ItemVerdict{}, errs.Validation("item_id", "is required")
	}

	var saved inspection.ItemVerdict
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.requireInProgress(txCtx, input.InspectionID)
		if err != nil {
			return err
		}
		template, err := s.catalog.Get(current.TemplateCode)
		if err != nil {
			return err
		}
		item, ok := template.Item(itemID)
		if !ok {
			return errs.Validation("item_id", fmt.Sprintf("%q is not part of template %s", itemID, template.Code))
		}

		var prior *inspection.Verdict
		existing, err := s.store.GetVerdict(txCtx, current.ID, itemID)
		switch {
		case err == nil:
			previous := existing.Verdict
			prior = &previous
		case errors.Is(err, errs.ErrNotFound):
		default:
			return err
		}

		naReason := ""
		if verdict == inspection.VerdictNotApplicable {
			naReason = strings.TrimSpace(input.NAReason)
		}
		saved, err = s.store.UpsertVerdict(txCtx, inspection.ItemVerdict{
			InspectionID: current.ID,
			ItemID:       itemID,
			Verdict:      verdict,
			Observation:  strings.TrimSpace(input.Observation),
			NAReason:     naReason,
			Tier:         item.Tier,
		})
		if err != nil {
			return err
		}

		if prior != nil && *prior == verdict {
			return nil
		}
		_, err = s.store.AppendHistory(txCtx, inspection.HistoryEntry{
			ItemVerdictID: saved.ID,
			At:            s.now(),
			Actor:         current.InspectorID,
			Action:        inspection.HistoryActionRecord,
			PriorVerdict:  prior,
			NewVerdict:    verdict,
		})
		return err
	}); err != nil {
		return inspection.ItemVerdict{}, err
	}
	return saved, nil
}

// AttachPhoto stores a captured artifact. The payload goes to the blob store
// first; a photo in a replaceable slot supersedes the current one in the
// same transaction that records the new row.
func (s *Service) AttachPhoto(ctx context.Context, input AttachPhotoInput) (inspection.Photo, error) {
	if err := s.check(ctx); err != nil {
		return inspection.Photo{}, err
	}
	if s.blobs == nil {
		return inspection.Photo{}, errors.New("blob store is required")
	}
	artifact := input.Artifact
	if artifact == nil || len(artifact.Data) == 0 {
		return inspection.Photo{}, errs.Validation("photo", "is required")
	}

	var itemID *string
	if input.ItemID != nil {
		trimmed := strings.TrimSpace(*input.ItemID)
		if trimmed != "" {
			itemID = &trimmed
		}
	}
	slot := strings.TrimSpace(input.Slot)
	if slot == "" {
		slot = SlotGeneral
		if itemID != nil {
			slot = inspection.ItemSlot(*itemID)
		}
	}

	key := inspection.PhotoBlobKey(artifact.ClientRef)
	if err := s.blobs.Put(ctx, key, artifact.Data, artifact.ContentType); err != nil {
		return inspection.Photo{}, errs.Storage(err, "store photo payload")
	}

	var saved inspection.Photo
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.requireInProgress(txCtx, input.InspectionID)
		if err != nil {
			return err
		}
		if itemID != nil {
			template, err := s.catalog.Get(current.TemplateCode)
			if err != nil {
				return err
			}
			if _, ok := template.Item(*itemID); !ok {
				return errs.Validation("item_id", fmt.Sprintf("%q is not part of template %s", *itemID, template.Code))
			}
		}

		if replaceableSlot(slot) {
			if _, err := s.store.SupersedePhotos(txCtx, current.ID, slot); err != nil {
				return err
			}
		}
		saved, err = s.store.CreatePhoto(txCtx, inspection.Photo{
			ClientRef:    artifact.ClientRef,
			InspectionID: current.ID,
			ItemID:       itemID,
			Slot:         slot,
			BlobKey:      key,
			ContentType:  artifact.ContentType,
			Thumbnail:    artifact.Thumbnail,
			CapturedAt:   artifact.CapturedAt,
			Latitude:     artifact.Coordinates.Latitude,
			Longitude:    artifact.Coordinates.Longitude,
			GPSAvailable: artifact.GPSAvailable,
		})
		return err
	})
	if err != nil {
		if deleteErr := s.blobs.Delete(ctx, key); deleteErr != nil {
			logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.inspector"))
			logging.Warn(logCtx, "orphaned photo payload", slog.String("blob_key", key), slog.Any("err", errs.Loggable(deleteErr)))
		}
		return inspection.Photo{}, err
	}
	return saved, nil
}

// CapturePhoto runs the capture pipeline and attaches the result. It returns
// nil, nil when the user cancels the camera.
func (s *Service) CapturePhoto(ctx context.Context, input CapturePhotoInput) (*inspection.Photo, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if s.capture == nil {
		return nil, errors.New("capture service is required")
	}

	current, err := s.requireInProgress(ctx, input.InspectionID)
	if err != nil {
		return nil, err
	}
	artifact, err := s.capture.Capture(ctx, capture.Request{
		InspectionRef: current.ClientRef,
		ItemID:        input.ItemID,
		Facing:        input.Facing,
	})
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, nil
	}

	photo, err := s.AttachPhoto(ctx, AttachPhotoInput{
		InspectionID: input.InspectionID,
		ItemID:       input.ItemID,
		Slot:         input.Slot,
		Artifact:     artifact,
	})
	if err != nil {
		return nil, err
	}
	return &photo, nil
}

// RecordObservedPlate keeps the plate read on site next to the system plate
// and flags a discrepancy when they differ.
func (s *Service) RecordObservedPlate(ctx context.Context, id uint64, observed string) (inspection.Inspection, error) {
	if err := s.check(ctx); err != nil {
		return inspection.Inspection{}, err
	}

	var updated inspection.Inspection
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.requireInProgress(txCtx, id)
		if err != nil {
			return err
		}
		current.ObservedPlate = inspection.NormalizePlate(observed)
		current.Discrepancy = inspection.PlateDiscrepancy(current.SystemPlate, current.ObservedPlate)
		if err := s.store.UpdateInspection(txCtx, current); err != nil {
			return err
		}
		updated = current
		return nil
	}); err != nil {
		return inspection.Inspection{}, err
	}
	return updated, nil
}

// LiveScore recomputes the score from the stored verdicts without writing anything.
func (s *Service) LiveScore(ctx context.Context, id uint64) (scoring.Outcome, error) {
	if err := s.check(ctx); err != nil {
		return scoring.Outcome{}, err
	}

	current, err := s.store.GetInspection(ctx, id)
	if err != nil {
		return scoring.Outcome{}, err
	}
	return s.outcome(ctx, current)
}

func (s *Service) Detail(ctx context.Context, id uint64) (Detail, error) {
	if err := s.check(ctx); err != nil {
		return Detail{}, err
	}

	current, err := s.store.GetInspection(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	template, err := s.catalog.Get(current.TemplateCode)
	if err != nil {
		return Detail{}, err
	}
	verdicts, err := s.store.ListVerdicts(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	photos, err := s.store.ListCurrentPhotos(ctx, ports.PhotoFilter{InspectionID: id})
	if err != nil {
		return Detail{}, err
	}

	history := make(map[string][]inspection.HistoryEntry, len(verdicts))
	for _, verdict := range verdicts {
		entries, err := s.store.ListHistory(ctx, verdict.ID)
		if err != nil {
			return Detail{}, err
		}
		history[verdict.ItemID] = entries
	}

	return Detail{
		Inspection: current,
		Template:   template,
		Verdicts:   verdicts,
		Photos:     photos,
		History:    history,
		Outcome:    scoring.ComputeScore(verdicts, template),
	}, nil
}

// List returns inspections in the given states with their live score. An
// empty state set lists everything.
func (s *Service) List(ctx context.Context, states []inspection.SyncState) ([]ListItem, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rows, err := s.store.ListInspections(ctx, ports.InspectionFilter{States: states})
	if err != nil {
		return nil, err
	}
	out := make([]ListItem, 0, len(rows))
	for _, row := range rows {
		outcome, err := s.outcome(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, ListItem{Inspection: row, Outcome: outcome})
	}
	return out, nil
}

func (s *Service) outcome(ctx context.Context, current inspection.Inspection) (scoring.Outcome, error) {
	template, err := s.catalog.Get(current.TemplateCode)
	if err != nil {
		return scoring.Outcome{}, err
	}
	verdicts, err := s.store.ListVerdicts(ctx, current.ID)
	if err != nil {
		return scoring.Outcome{}, err
	}
	return scoring.ComputeScore(verdicts, template), nil
}

func replaceableSlot(slot string) bool {
	return slot != SlotGeneral
}
