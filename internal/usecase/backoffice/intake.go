package backoffice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/review"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/usecase/capture"
)

type ScheduleInput struct {
	InspectorID  string
	Plate        string
	VehicleType  string
	BodyClass    string
	ClientName   string
	TemplateCode string
	ScheduledAt  time.Time
}

// ScheduleAssignment creates a PROGRAMADA inspection for an inspector.
func (s *Service) ScheduleAssignment(ctx context.Context, input ScheduleInput) (review.Submitted, error) {
	if err := s.check(ctx); err != nil {
		return review.Submitted{}, err
	}
	inspectorID := strings.TrimSpace(input.InspectorID)
	if inspectorID == "" {
		return review.Submitted{}, errs.Validation("inspector_id", "is required")
	}
	plate := inspection.NormalizePlate(input.Plate)
	if plate == "" {
		return review.Submitted{}, errs.Validation("plate", "is required")
	}
	if input.ScheduledAt.IsZero() {
		return review.Submitted{}, errs.Validation("scheduled_at", "is required")
	}
	template, err := s.template(input.TemplateCode)
	if err != nil {
		return review.Submitted{}, err
	}

	id := uuid.NewString()
	scheduledAt := input.ScheduledAt.UTC()
	created, err := s.store.CreateSubmitted(ctx, review.Submitted{
		ID:            id,
		AssignmentRef: id,
		InspectorID:   inspectorID,
		SystemPlate:   plate,
		VehicleType:   strings.TrimSpace(input.VehicleType),
		BodyClass:     strings.TrimSpace(input.BodyClass),
		ClientName:    strings.TrimSpace(input.ClientName),
		TemplateCode:  template.Code,
		ScheduledAt:   &scheduledAt,
		Estado:        review.EstadoScheduled,
	})
	if err != nil {
		return review.Submitted{}, err
	}

	s.publish(ctx, ports.EventAssignmentCreated, created.ID, inspectorID)
	return created, nil
}

// AssignmentsToday lists the inspector's inspections scheduled on day plus
// every one currently returned for correction, with review state and item
// overrides so the device can mirror the audit.
func (s *Service) AssignmentsToday(ctx context.Context, inspectorID string, day time.Time) (ports.AssignmentsResponse, error) {
	if err := s.check(ctx); err != nil {
		return ports.AssignmentsResponse{}, err
	}
	inspectorID = strings.TrimSpace(inspectorID)
	if inspectorID == "" {
		return ports.AssignmentsResponse{}, errs.Validation("inspector_id", "is required")
	}

	day = day.UTC()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	scheduled, err := s.store.ListSubmitted(ctx, ports.SubmittedFilter{InspectorID: inspectorID, From: &from, To: &to})
	if err != nil {
		return ports.AssignmentsResponse{}, err
	}
	inCorrection, err := s.store.ListSubmitted(ctx, ports.SubmittedFilter{
		InspectorID: inspectorID,
		Estados:     []review.Estado{review.EstadoInCorrection},
	})
	if err != nil {
		return ports.AssignmentsResponse{}, err
	}

	seen := map[string]struct{}{}
	resp := ports.AssignmentsResponse{
		Date:        from.Format(time.DateOnly),
		InspectorID: inspectorID,
		Assignments: []ports.Assignment{},
	}
	for _, submitted := range append(scheduled, inCorrection...) {
		if _, dup := seen[submitted.ID]; dup {
			continue
		}
		seen[submitted.ID] = struct{}{}

		var items []ports.AuditedItem
		if submitted.Estado != review.EstadoScheduled {
			if items, err = s.auditedItems(ctx, submitted.ID); err != nil {
				return ports.AssignmentsResponse{}, err
			}
		}
		resp.Assignments = append(resp.Assignments, assignmentOf(submitted, items))
	}
	return resp, nil
}

// CompleteInspection accepts a finalized inspection. remoteID is empty for an
// ad-hoc inspection. A repeat of an accepted submission returns the original
// acceptance with Duplicate set and changes nothing.
func (s *Service) CompleteInspection(ctx context.Context, remoteID string, req ports.CompletionRequest, actor string) (ports.CompletionResponse, error) {
	if err := s.check(ctx); err != nil {
		return ports.CompletionResponse{}, err
	}
	items, err := s.validateCompletion(ctx, &req, actor)
	if err != nil {
		return ports.CompletionResponse{}, err
	}
	remoteID = strings.TrimSpace(remoteID)

	var resp ports.CompletionResponse
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, found, err := s.completionTarget(txCtx, remoteID, req.ClientRef)
		if err != nil {
			return err
		}
		if found && current.SubmissionRef == req.SubmissionRef {
			resp = acceptance(current, true)
			return nil
		}
		if found {
			if current.Estado != review.EstadoScheduled && current.Estado != review.EstadoInCorrection {
				return fmt.Errorf("%w: inspection %s is %s", errs.ErrInvalidState, current.ID, current.Estado)
			}
			if current.InspectorID != req.InspectorID {
				return errs.Validation("inspector_id", "does not own this inspection")
			}
		}

		now := s.now()
		score := req.Score
		current.InspectorID = req.InspectorID
		current.SystemPlate = inspection.NormalizePlate(req.SystemPlate)
		current.ObservedPlate = inspection.NormalizePlate(req.ObservedPlate)
		current.Discrepancy = req.Discrepancy || inspection.PlateDiscrepancy(req.SystemPlate, req.ObservedPlate)
		current.TemplateCode = req.TemplateCode
		if v := strings.TrimSpace(req.VehicleType); v != "" {
			current.VehicleType = v
		}
		if v := strings.TrimSpace(req.BodyClass); v != "" {
			current.BodyClass = v
		}
		if v := strings.TrimSpace(req.ClientName); v != "" {
			current.ClientName = v
		}
		current.StartedAt = req.StartedAt
		current.FinishedAt = req.FinishedAt
		current.Estado = review.EstadoDone
		current.ReviewState = review.StatePending
		current.ReviewComment = ""
		current.ReviewedBy = ""
		current.ReviewedAt = nil
		current.Score = &score
		current.Result = inspection.Result(req.Result)
		current.Observations = strings.TrimSpace(req.Observations)
		current.Signature = req.Signature
		current.ClientRef = req.ClientRef
		current.SubmissionRef = req.SubmissionRef
		current.CompletedAt = &now

		if found {
			if err := s.store.UpdateSubmitted(txCtx, current); err != nil {
				return err
			}
		} else {
			if current, err = s.store.CreateSubmitted(txCtx, current); err != nil {
				return err
			}
		}
		if err := s.store.ReplaceItems(txCtx, current.ID, items); err != nil {
			return err
		}
		if err := s.rescore(txCtx, &current); err != nil {
			return err
		}
		if current.Score != nil && *current.Score != req.Score {
			logging.Warn(ctx, "submitted score differs from stored items",
				slog.String("inspection_id", current.ID),
				slog.Int("submitted", req.Score),
				slog.Int("stored", *current.Score),
			)
		}
		if _, err := s.store.AttachPhotos(txCtx, req.ClientRef, current.ID); err != nil {
			return err
		}
		resp = acceptance(current, false)
		return nil
	}); err != nil {
		return ports.CompletionResponse{}, err
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.backoffice"), slog.String("inspection_id", resp.InspectionID))
	logging.Info(logCtx, "inspection completion accepted",
		slog.String("submission_ref", req.SubmissionRef),
		slog.Bool("duplicate", resp.Duplicate),
	)
	return resp, nil
}

func (s *Service) completionTarget(ctx context.Context, remoteID string, clientRef string) (review.Submitted, bool, error) {
	if remoteID != "" {
		current, err := s.store.GetSubmitted(ctx, remoteID)
		if err != nil {
			return review.Submitted{}, false, err
		}
		return current, true, nil
	}
	current, err := s.store.GetSubmittedByClientRef(ctx, clientRef)
	if errors.Is(err, errs.ErrNotFound) {
		return review.Submitted{}, false, nil
	}
	if err != nil {
		return review.Submitted{}, false, err
	}
	return current, true, nil
}

func acceptance(submitted review.Submitted, duplicate bool) ports.CompletionResponse {
	resp := ports.CompletionResponse{
		InspectionID: submitted.ID,
		Estado:       string(submitted.Estado),
		Duplicate:    duplicate,
	}
	if submitted.CompletedAt != nil {
		resp.AcceptedAt = *submitted.CompletedAt
	}
	return resp
}

// validateCompletion normalizes req in place and returns the items to store.
// It rejects unknown photo references so an accepted inspection never points
// at evidence the back office does not hold.
func (s *Service) validateCompletion(ctx context.Context, req *ports.CompletionRequest, actor string) ([]review.Item, error) {
	req.ClientRef = strings.TrimSpace(req.ClientRef)
	req.SubmissionRef = strings.TrimSpace(req.SubmissionRef)
	req.InspectorID = strings.TrimSpace(req.InspectorID)
	actor = strings.TrimSpace(actor)

	switch {
	case req.ClientRef == "":
		return nil, errs.Validation("client_ref", "is required")
	case req.SubmissionRef == "":
		return nil, errs.Validation("submission_ref", "is required")
	case len(req.Signature) == 0:
		return nil, errs.Validation("signature", "is required")
	case len(req.Items) == 0:
		return nil, errs.Validation("items", "at least one item is required")
	case req.Score < 0 || req.Score > 100:
		return nil, errs.Validation("score", "must be between 0 and 100")
	case inspection.NormalizePlate(req.SystemPlate) == "":
		return nil, errs.Validation("system_plate", "is required")
	}
	if req.InspectorID == "" {
		req.InspectorID = actor
	}
	if actor != "" && req.InspectorID != actor {
		return nil, errs.Validation("inspector_id", "does not match the session")
	}
	result, err := inspection.ParseResult(req.Result)
	if err != nil {
		return nil, err
	}
	req.Result = string(result)
	template, err := s.template(req.TemplateCode)
	if err != nil {
		return nil, err
	}
	req.TemplateCode = template.Code

	for _, ref := range req.PhotoRefs {
		if err := s.requirePhoto(ctx, ref); err != nil {
			return nil, err
		}
	}

	items := make([]review.Item, 0, len(req.Items))
	seen := map[string]struct{}{}
	for _, raw := range req.Items {
		itemID := strings.TrimSpace(raw.ItemID)
		if itemID == "" {
			return nil, errs.Validation("items.item_id", "is required")
		}
		if _, dup := seen[itemID]; dup {
			return nil, errs.Validation("items.item_id", fmt.Sprintf("%q appears twice", itemID))
		}
		seen[itemID] = struct{}{}

		verdict, err := inspection.ParseVerdict(raw.Verdict)
		if err != nil {
			return nil, err
		}
		tier := inspection.Tier(raw.Tier)
		if known, ok := template.Item(itemID); ok {
			tier = known.Tier
		} else if tier, err = inspection.ParseTier(raw.Tier); err != nil {
			return nil, err
		}
		for _, ref := range raw.PhotoRefs {
			if err := s.requirePhoto(ctx, ref); err != nil {
				return nil, err
			}
		}
		items = append(items, review.Item{
			ItemID:      itemID,
			Verdict:     verdict,
			Description: strings.TrimSpace(raw.Description),
			NAReason:    strings.TrimSpace(raw.NAReason),
			Tier:        tier,
			PhotoRefs:   raw.PhotoRefs,
		})
	}
	return items, nil
}

func (s *Service) requirePhoto(ctx context.Context, ref string) error {
	if _, err := s.store.GetPhotoByRef(ctx, ref); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.Validation("photo_refs", fmt.Sprintf("unknown photo %q", ref))
		}
		return err
	}
	return nil
}

// StorePhoto keeps an uploaded photo payload. It is idempotent by the
// photo's client ref.
func (s *Service) StorePhoto(ctx context.Context, upload ports.PhotoUpload) (ports.PhotoUploadResponse, error) {
	if err := s.check(ctx); err != nil {
		return ports.PhotoUploadResponse{}, err
	}
	if s.blobs == nil {
		return ports.PhotoUploadResponse{}, errors.New("blob store is required")
	}

	clientRef := strings.TrimSpace(upload.ClientRef)
	if clientRef == "" {
		return ports.PhotoUploadResponse{}, errs.Validation("client_ref", "is required")
	}
	if strings.TrimSpace(upload.InspectionClientRef) == "" {
		return ports.PhotoUploadResponse{}, errs.Validation("inspection_client_ref", "is required")
	}
	if len(upload.Data) == 0 {
		return ports.PhotoUploadResponse{}, errs.Validation("data", "is required")
	}
	if !bytes.HasPrefix(upload.Data, []byte{0xFF, 0xD8}) {
		return ports.PhotoUploadResponse{}, errs.Validation("data", "is not a JPEG image")
	}
	meta, embedded, err := capture.ReadMetadata(upload.Data)
	if err != nil {
		return ports.PhotoUploadResponse{}, err
	}
	if embedded && meta.ClientRef != "" && meta.ClientRef != clientRef {
		return ports.PhotoUploadResponse{}, errs.Validation("client_ref", "does not match the embedded capture metadata")
	}
	capturedAt := upload.CapturedAt
	if capturedAt.IsZero() && embedded {
		capturedAt = meta.CapturedAt
	}
	contentType := strings.TrimSpace(upload.ContentType)
	if contentType == "" {
		contentType = capture.ContentTypeJPEG
	}

	key := "uploads/" + inspection.PhotoBlobKey(clientRef)
	if err := s.blobs.Put(ctx, key, upload.Data, contentType); err != nil {
		return ports.PhotoUploadResponse{}, errs.Storage(err, "store photo payload")
	}

	photo := review.Photo{
		ClientRef:           clientRef,
		InspectionClientRef: strings.TrimSpace(upload.InspectionClientRef),
		InspectionID:        strings.TrimSpace(upload.InspectionID),
		ItemID:              upload.ItemID,
		Slot:                strings.TrimSpace(upload.Slot),
		BlobKey:             key,
		ContentType:         contentType,
		Size:                int64(len(upload.Data)),
		CapturedAt:          capturedAt.UTC(),
		Latitude:            upload.Latitude,
		Longitude:           upload.Longitude,
		GPSAvailable:        upload.GPSAvailable,
	}
	stored, created, err := s.store.StorePhoto(ctx, photo)
	if err != nil {
		return ports.PhotoUploadResponse{}, err
	}
	return ports.PhotoUploadResponse{Ref: stored.Ref, Duplicate: !created}, nil
}

// PhotoPayload returns a stored photo and its bytes for the review UI.
func (s *Service) PhotoPayload(ctx context.Context, ref string) (review.Photo, []byte, error) {
	if err := s.check(ctx); err != nil {
		return review.Photo{}, nil, err
	}
	photo, err := s.store.GetPhotoByRef(ctx, ref)
	if err != nil {
		return review.Photo{}, nil, err
	}
	data, err := s.blobs.Get(ctx, photo.BlobKey)
	if err != nil {
		return review.Photo{}, nil, err
	}
	return photo, data, nil
}
