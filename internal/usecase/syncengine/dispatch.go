package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/review"
	"fleetinspect/internal/domain/syncqueue"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

// errDeferred sends an entry back to pending without counting an attempt.
var errDeferred = errors.New("deferred")

func (e *Engine) dispatch(ctx context.Context, entry syncqueue.Entry) error {
	switch entry.Kind {
	case syncqueue.KindPhotoUpload:
		return e.dispatchPhoto(ctx, entry)
	case syncqueue.KindInspectionComplete:
		return e.dispatchCompletion(ctx, entry)
	}
	return &errs.PermanentSyncError{Op: "dispatch", Err: fmt.Errorf("unknown queue kind %q", entry.Kind)}
}

func (e *Engine) dispatchPhoto(ctx context.Context, entry syncqueue.Entry) error {
	payload, err := entry.PhotoUpload()
	if err != nil {
		return &errs.PermanentSyncError{Op: "upload photo", Err: err}
	}
	photo, err := e.store.GetPhoto(ctx, payload.PhotoID)
	if err != nil {
		return err
	}
	if photo.RemoteRef != nil {
		return e.queue.Delete(ctx, entry.ID)
	}
	owner, err := e.store.GetInspection(ctx, photo.InspectionID)
	if err != nil {
		return err
	}
	if e.blobs == nil {
		return errs.Storage(errors.New("blob store is not configured"), "read photo payload")
	}
	data, err := e.blobs.Get(ctx, photo.BlobKey)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return err
		}
		return errs.Storage(err, "read photo payload")
	}

	upload := ports.PhotoUpload{
		ClientRef:           photo.ClientRef,
		InspectionClientRef: owner.ClientRef,
		ItemID:              photo.ItemID,
		Slot:                photo.Slot,
		CapturedAt:          photo.CapturedAt,
		Latitude:            photo.Latitude,
		Longitude:           photo.Longitude,
		GPSAvailable:        photo.GPSAvailable,
		ContentType:         photo.ContentType,
		Data:                data,
	}
	if owner.RemoteID != nil {
		upload.InspectionID = *owner.RemoteID
	}

	resp, err := e.remote.UploadPhoto(ctx, upload)
	if err != nil {
		return err
	}

	return e.uow.WithTx(ctx, func(txCtx context.Context) error {
		if err := e.store.SetPhotoRemoteRef(txCtx, photo.ID, resp.Ref); err != nil {
			return err
		}
		return e.queue.Delete(txCtx, entry.ID)
	})
}

func (e *Engine) dispatchCompletion(ctx context.Context, entry syncqueue.Entry) error {
	logCtx := logging.WithAttrs(ctx, slog.Uint64("entry_id", entry.ID), slog.String("ref", entry.Ref))

	payload, err := entry.Completion()
	if err != nil {
		return &errs.PermanentSyncError{Op: "complete inspection", Err: err}
	}
	current, err := e.store.GetInspection(ctx, payload.InspectionID)
	if err != nil {
		return err
	}
	if current.SyncState != inspection.StatePendingSync || current.SubmissionRef() != entry.Ref {
		logging.Warn(logCtx, "dropping stale completion",
			slog.String("sync_state", string(current.SyncState)),
			slog.String("submission_ref", current.SubmissionRef()),
		)
		return e.queue.Delete(ctx, entry.ID)
	}

	req, missing, err := e.completionRequest(ctx, current)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		if err := e.requeuePhotos(ctx, current, missing); err != nil {
			return err
		}
		return errDeferred
	}

	remoteID := ""
	if current.RemoteID != nil {
		remoteID = *current.RemoteID
	}
	resp, err := e.remote.CompleteInspection(ctx, remoteID, req)
	if err != nil {
		return err
	}

	if err := e.uow.WithTx(ctx, func(txCtx context.Context) error {
		latest, err := e.store.GetInspection(txCtx, current.ID)
		if err != nil {
			return err
		}
		next, err := latest.SyncState.Transition(inspection.StateSynced)
		if err != nil {
			return err
		}
		now := e.now()
		remote := resp.InspectionID
		latest.RemoteID = &remote
		latest.SyncState = next
		latest.SyncedAt = &now
		latest.ReviewState = string(review.StatePending)
		latest.ReviewComment = ""
		if err := e.store.UpdateInspection(txCtx, latest); err != nil {
			return err
		}
		return e.queue.Delete(txCtx, entry.ID)
	}); err != nil {
		return err
	}

	logging.Info(logCtx, "inspection synced",
		slog.String("remote_id", resp.InspectionID),
		slog.Bool("duplicate", resp.Duplicate),
	)
	return nil
}

// completionRequest builds the wire form of a finalized inspection. Photos
// that have no remote ref yet are returned as missing.
func (e *Engine) completionRequest(ctx context.Context, current inspection.Inspection) (ports.CompletionRequest, []inspection.Photo, error) {
	verdicts, err := e.store.ListVerdicts(ctx, current.ID)
	if err != nil {
		return ports.CompletionRequest{}, nil, err
	}
	photos, err := e.store.ListCurrentPhotos(ctx, ports.PhotoFilter{InspectionID: current.ID})
	if err != nil {
		return ports.CompletionRequest{}, nil, err
	}

	var (
		missing      []inspection.Photo
		generalRefs  []string
		refsByItemID = map[string][]string{}
	)
	for _, photo := range photos {
		if photo.RemoteRef == nil {
			missing = append(missing, photo)
			continue
		}
		if photo.ItemID != nil {
			refsByItemID[*photo.ItemID] = append(refsByItemID[*photo.ItemID], *photo.RemoteRef)
			continue
		}
		generalRefs = append(generalRefs, *photo.RemoteRef)
	}

	items := make([]ports.CompletionItem, 0, len(verdicts))
	for _, verdict := range verdicts {
		items = append(items, ports.CompletionItem{
			ItemID:      verdict.ItemID,
			Verdict:     string(verdict.Verdict),
			Description: verdict.Observation,
			NAReason:    verdict.NAReason,
			Tier:        string(verdict.Tier),
			PhotoRefs:   refsByItemID[verdict.ItemID],
		})
	}

	score := 0
	if current.Score != nil {
		score = *current.Score
	}
	return ports.CompletionRequest{
		ClientRef:     current.ClientRef,
		SubmissionRef: current.SubmissionRef(),
		InspectorID:   current.InspectorID,
		TemplateCode:  current.TemplateCode,
		SystemPlate:   current.SystemPlate,
		ObservedPlate: current.ObservedPlate,
		Discrepancy:   current.Discrepancy,
		VehicleType:   current.VehicleType,
		BodyClass:     current.BodyClass,
		ClientName:    current.ClientName,
		StartedAt:     current.StartedAt,
		FinishedAt:    current.FinishedAt,
		Score:         score,
		Result:        string(current.Result),
		Observations:  current.Observations,
		Signature:     current.Signature,
		Items:         items,
		PhotoRefs:     generalRefs,
	}, missing, nil
}

// requeuePhotos restores upload entries for photos that lost theirs, so the
// completion never references a payload the back office has not received.
func (e *Engine) requeuePhotos(ctx context.Context, current inspection.Inspection, photos []inspection.Photo) error {
	return e.uow.WithTx(ctx, func(txCtx context.Context) error {
		for _, photo := range photos {
			payload, err := syncqueue.EncodePayload(syncqueue.PhotoUploadPayload{PhotoID: photo.ID, ClientRef: photo.ClientRef})
			if err != nil {
				return err
			}
			if _, _, err := e.queue.Enqueue(txCtx, ports.QueueEntryCreate{
				Kind:         syncqueue.KindPhotoUpload,
				Ref:          photo.ClientRef,
				InspectionID: current.ID,
				Payload:      payload,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
