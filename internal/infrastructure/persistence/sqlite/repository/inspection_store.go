package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/persistence/sqlite/model"
	"fleetinspect/internal/ports"
)

type InspectionRepository struct {
	db *gorm.DB
}

var _ ports.InspectionStore = (*InspectionRepository)(nil)

func NewInspectionRepository(db *gorm.DB) *InspectionRepository {
	return &InspectionRepository{db: db}
}

func (r *InspectionRepository) CreateInspection(ctx context.Context, in inspection.Inspection) (inspection.Inspection, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return inspection.Inspection{}, err
	}
	if strings.TrimSpace(in.ClientRef) == "" {
		return inspection.Inspection{}, errs.Validation("client_ref", "is required")
	}

	now := time.Now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now

	row := inspectionToRow(in)
	if err := db.Create(&row).Error; err != nil {
		return inspection.Inspection{}, errs.Storage(err, "insert inspection")
	}
	return inspectionFromRow(row), nil
}

func (r *InspectionRepository) GetInspection(ctx context.Context, id uint64) (inspection.Inspection, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return inspection.Inspection{}, err
	}

	var row model.Inspection
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		return inspection.Inspection{}, notFoundOr(err, fmt.Sprintf("inspection %d", id), "query inspection")
	}
	return inspectionFromRow(row), nil
}

func (r *InspectionRepository) GetInspectionByRemoteID(ctx context.Context, remoteID string) (inspection.Inspection, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return inspection.Inspection{}, err
	}

	var row model.Inspection
	if err := db.Where("remote_id = ?", strings.TrimSpace(remoteID)).Take(&row).Error; err != nil {
		return inspection.Inspection{}, notFoundOr(err, fmt.Sprintf("inspection remote %q", remoteID), "query inspection by remote id")
	}
	return inspectionFromRow(row), nil
}

func (r *InspectionRepository) UpdateInspection(ctx context.Context, in inspection.Inspection) error {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return err
	}
	if in.ID == 0 {
		return errs.Validation("inspection id", "is required")
	}

	in.UpdatedAt = time.Now().UTC()
	row := inspectionToRow(in)
	result := db.Model(&model.Inspection{}).Where("id = ?", in.ID).Select("*").Omit("id", "created_at").Updates(&row)
	if result.Error != nil {
		return errs.Storage(result.Error, "update inspection")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("inspection %d: %w", in.ID, errs.ErrNotFound)
	}
	return nil
}

// DeleteInspection removes the inspection with its verdicts, photos and history.
func (r *InspectionRepository) DeleteInspection(ctx context.Context, id uint64) error {
	return inTx(r.db, ctx, func(_ context.Context, db *gorm.DB) error {
		verdictIDs := db.Model(&model.ItemVerdict{}).Select("id").Where("inspection_id = ?", id)
		if err := db.Where("item_verdict_id IN (?)", verdictIDs).Delete(&model.HistoryEntry{}).Error; err != nil {
			return errs.Storage(err, "delete history")
		}
		if err := db.Where("inspection_id = ?", id).Delete(&model.ItemVerdict{}).Error; err != nil {
			return errs.Storage(err, "delete verdicts")
		}
		if err := db.Where("inspection_id = ?", id).Delete(&model.Photo{}).Error; err != nil {
			return errs.Storage(err, "delete photos")
		}
		result := db.Where("id = ?", id).Delete(&model.Inspection{})
		if result.Error != nil {
			return errs.Storage(result.Error, "delete inspection")
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("inspection %d: %w", id, errs.ErrNotFound)
		}
		return nil
	})
}

func (r *InspectionRepository) ListInspections(ctx context.Context, filter ports.InspectionFilter) ([]inspection.Inspection, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Inspection{})
	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, state := range filter.States {
			states = append(states, string(state))
		}
		query = query.Where("sync_state IN ?", states)
	}
	if inspector := strings.TrimSpace(filter.InspectorID); inspector != "" {
		query = query.Where("inspector_id = ?", inspector)
	}
	if len(filter.AssignmentIDs) > 0 {
		query = query.Where("assignment_id IN ?", filter.AssignmentIDs)
	}

	var rows []model.Inspection
	if err := query.Order("scheduled_at asc").Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query inspections")
	}

	out := make([]inspection.Inspection, 0, len(rows))
	for _, row := range rows {
		out = append(out, inspectionFromRow(row))
	}
	return out, nil
}

// UpsertVerdict keeps a single row per (inspection, item). A plain re-record
// does not clear an existing back office override.
func (r *InspectionRepository) UpsertVerdict(ctx context.Context, verdict inspection.ItemVerdict) (inspection.ItemVerdict, error) {
	var saved inspection.ItemVerdict
	err := inTx(r.db, ctx, func(_ context.Context, db *gorm.DB) error {
		now := time.Now().UTC()
		row := verdictToRow(verdict)
		row.CreatedAt = now
		row.UpdatedAt = now

		updates := map[string]any{
			"verdict":     row.Verdict,
			"observation": row.Observation,
			"na_reason":   row.NAReason,
			"tier":        row.Tier,
			"updated_at":  now,
		}
		if verdict.Overridden {
			updates["override_verdict"] = row.OverrideVerdict
			updates["overridden"] = true
		}

		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "inspection_id"}, {Name: "item_id"}},
			DoUpdates: clause.Assignments(updates),
		}).Create(&row).Error; err != nil {
			return errs.Storage(err, "upsert item verdict")
		}

		var stored model.ItemVerdict
		if err := db.Where("inspection_id = ? AND item_id = ?", verdict.InspectionID, verdict.ItemID).Take(&stored).Error; err != nil {
			return errs.Storage(err, "reload item verdict")
		}
		saved = verdictFromModel(stored)
		return nil
	})
	if err != nil {
		return inspection.ItemVerdict{}, err
	}
	return saved, nil
}

// ClearOverride drops the admin override of one verdict, keeping the
// inspector's own answer.
func (r *InspectionRepository) ClearOverride(ctx context.Context, verdictID uint64) error {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return err
	}

	result := db.Model(&model.ItemVerdict{}).Where("id = ?", verdictID).Updates(map[string]any{
		"override_verdict": nil,
		"overridden":       false,
		"updated_at":       time.Now().UTC(),
	})
	if result.Error != nil {
		return errs.Storage(result.Error, "clear item override")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("verdict %d: %w", verdictID, errs.ErrNotFound)
	}
	return nil
}

func (r *InspectionRepository) GetVerdict(ctx context.Context, inspectionID uint64, itemID string) (inspection.ItemVerdict, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return inspection.ItemVerdict{}, err
	}

	var row model.ItemVerdict
	if err := db.Where("inspection_id = ? AND item_id = ?", inspectionID, itemID).Take(&row).Error; err != nil {
		return inspection.ItemVerdict{}, notFoundOr(err, fmt.Sprintf("verdict %s of inspection %d", itemID, inspectionID), "query item verdict")
	}
	return verdictFromModel(row), nil
}

func (r *InspectionRepository) ListVerdicts(ctx context.Context, inspectionID uint64) ([]inspection.ItemVerdict, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.ItemVerdict
	if err := db.Where("inspection_id = ?", inspectionID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query item verdicts")
	}

	out := make([]inspection.ItemVerdict, 0, len(rows))
	for _, row := range rows {
		out = append(out, verdictFromModel(row))
	}
	return out, nil
}

func (r *InspectionRepository) CreatePhoto(ctx context.Context, photo inspection.Photo) (inspection.Photo, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return inspection.Photo{}, err
	}
	if strings.TrimSpace(photo.ClientRef) == "" {
		return inspection.Photo{}, errs.Validation("photo client_ref", "is required")
	}
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now().UTC()
	}

	row := photoToRow(photo)
	if err := db.Create(&row).Error; err != nil {
		return inspection.Photo{}, errs.Storage(err, "insert photo")
	}
	return photoFromRow(row), nil
}

func (r *InspectionRepository) GetPhoto(ctx context.Context, id uint64) (inspection.Photo, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return inspection.Photo{}, err
	}

	var row model.Photo
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		return inspection.Photo{}, notFoundOr(err, fmt.Sprintf("photo %d", id), "query photo")
	}
	return photoFromRow(row), nil
}

// ListCurrentPhotos skips superseded retakes.
func (r *InspectionRepository) ListCurrentPhotos(ctx context.Context, filter ports.PhotoFilter) ([]inspection.Photo, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return nil, err
	}

	if filter.InspectionID == 0 && filter.ItemID == nil {
		return nil, errs.Validation("photo_filter", "an inspection id or an item id is required")
	}

	query := db.Model(&model.Photo{}).Where("superseded = ?", false)
	if filter.InspectionID != 0 {
		query = query.Where("inspection_id = ?", filter.InspectionID)
	}
	if filter.ItemID != nil {
		query = query.Where("item_id = ?", *filter.ItemID)
	}
	if slot := strings.TrimSpace(filter.Slot); slot != "" {
		query = query.Where("slot = ?", slot)
	}

	var rows []model.Photo
	if err := query.Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query photos")
	}

	out := make([]inspection.Photo, 0, len(rows))
	for _, row := range rows {
		out = append(out, photoFromRow(row))
	}
	return out, nil
}

func (r *InspectionRepository) SupersedePhotos(ctx context.Context, inspectionID uint64, slot string) (int64, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return 0, err
	}

	result := db.Model(&model.Photo{}).
		Where("inspection_id = ? AND slot = ? AND superseded = ?", inspectionID, slot, false).
		Update("superseded", true)
	if result.Error != nil {
		return 0, errs.Storage(result.Error, "supersede photos")
	}
	return result.RowsAffected, nil
}

func (r *InspectionRepository) SetPhotoRemoteRef(ctx context.Context, photoID uint64, remoteRef string) error {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return err
	}

	result := db.Model(&model.Photo{}).Where("id = ?", photoID).Update("remote_ref", remoteRef)
	if result.Error != nil {
		return errs.Storage(result.Error, "update photo remote ref")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("photo %d: %w", photoID, errs.ErrNotFound)
	}
	return nil
}

// AppendHistory inserts a history entry; entries mirrored from the back
// office are skipped when their remote id is already stored.
func (r *InspectionRepository) AppendHistory(ctx context.Context, entry inspection.HistoryEntry) (bool, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return false, err
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	row := historyToRow(entry)
	query := db
	if entry.RemoteID != nil {
		query = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "remote_id"}},
			DoNothing: true,
		})
	}
	result := query.Create(&row)
	if result.Error != nil {
		return false, errs.Storage(result.Error, "insert history entry")
	}
	return result.RowsAffected > 0, nil
}

func (r *InspectionRepository) ListHistory(ctx context.Context, itemVerdictID uint64) ([]inspection.HistoryEntry, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.HistoryEntry
	if err := db.Where("item_verdict_id = ?", itemVerdictID).Order("at asc").Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query history")
	}

	out := make([]inspection.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyFromRow(row))
	}
	return out, nil
}

func inspectionToRow(in inspection.Inspection) model.Inspection {
	return model.Inspection{
		ID:            in.ID,
		RemoteID:      in.RemoteID,
		ClientRef:     in.ClientRef,
		AssignmentID:  in.AssignmentID,
		InspectorID:   in.InspectorID,
		SystemPlate:   in.SystemPlate,
		ObservedPlate: in.ObservedPlate,
		Discrepancy:   in.Discrepancy,
		VehicleType:   in.VehicleType,
		BodyClass:     in.BodyClass,
		ClientName:    in.ClientName,
		TemplateCode:  in.TemplateCode,
		ScheduledAt:   in.ScheduledAt,
		StartedAt:     in.StartedAt,
		FinishedAt:    in.FinishedAt,
		SyncState:     string(in.SyncState),
		Revision:      in.Revision,
		Result:        string(in.Result),
		Score:         in.Score,
		Signature:     in.Signature,
		Observations:  in.Observations,
		ReviewState:   in.ReviewState,
		ReviewComment: in.ReviewComment,
		SyncedAt:      in.SyncedAt,
		CreatedAt:     in.CreatedAt,
		UpdatedAt:     in.UpdatedAt,
	}
}

func inspectionFromRow(row model.Inspection) inspection.Inspection {
	return inspection.Inspection{
		ID:            row.ID,
		RemoteID:      row.RemoteID,
		ClientRef:     row.ClientRef,
		AssignmentID:  row.AssignmentID,
		InspectorID:   row.InspectorID,
		SystemPlate:   row.SystemPlate,
		ObservedPlate: row.ObservedPlate,
		Discrepancy:   row.Discrepancy,
		VehicleType:   row.VehicleType,
		BodyClass:     row.BodyClass,
		ClientName:    row.ClientName,
		TemplateCode:  row.TemplateCode,
		ScheduledAt:   row.ScheduledAt,
		StartedAt:     row.StartedAt,
		FinishedAt:    row.FinishedAt,
		SyncState:     inspection.SyncState(row.SyncState),
		Revision:      row.Revision,
		Result:        inspection.Result(row.Result),
		Score:         row.Score,
		Signature:     row.Signature,
		Observations:  row.Observations,
		ReviewState:   row.ReviewState,
		ReviewComment: row.ReviewComment,
		SyncedAt:      row.SyncedAt,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

func verdictToRow(v inspection.ItemVerdict) model.ItemVerdict {
	row := model.ItemVerdict{
		ID:           v.ID,
		InspectionID: v.InspectionID,
		ItemID:       v.ItemID,
		Verdict:      string(v.Verdict),
		Overridden:   v.Overridden,
		Observation:  v.Observation,
		NAReason:     v.NAReason,
		Tier:         string(v.Tier),
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
	if v.OverrideVerdict != nil {
		override := string(*v.OverrideVerdict)
		row.OverrideVerdict = &override
	}
	return row
}

func verdictFromModel(row model.ItemVerdict) inspection.ItemVerdict {
	out := inspection.ItemVerdict{
		ID:           row.ID,
		InspectionID: row.InspectionID,
		ItemID:       row.ItemID,
		Verdict:      inspection.Verdict(row.Verdict),
		Overridden:   row.Overridden,
		Observation:  row.Observation,
		NAReason:     row.NAReason,
		Tier:         inspection.Tier(row.Tier),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.OverrideVerdict != nil {
		override := inspection.Verdict(*row.OverrideVerdict)
		out.OverrideVerdict = &override
	}
	return out
}

func photoToRow(p inspection.Photo) model.Photo {
	contentType := p.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return model.Photo{
		ID:           p.ID,
		ClientRef:    p.ClientRef,
		InspectionID: p.InspectionID,
		ItemID:       p.ItemID,
		Slot:         p.Slot,
		BlobKey:      p.BlobKey,
		ContentType:  contentType,
		Thumbnail:    p.Thumbnail,
		CapturedAt:   p.CapturedAt,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		GPSAvailable: p.GPSAvailable,
		Superseded:   p.Superseded,
		RemoteRef:    p.RemoteRef,
		CreatedAt:    p.CreatedAt,
	}
}

func photoFromRow(row model.Photo) inspection.Photo {
	return inspection.Photo{
		ID:           row.ID,
		ClientRef:    row.ClientRef,
		InspectionID: row.InspectionID,
		ItemID:       row.ItemID,
		Slot:         row.Slot,
		BlobKey:      row.BlobKey,
		ContentType:  row.ContentType,
		Thumbnail:    row.Thumbnail,
		CapturedAt:   row.CapturedAt,
		Latitude:     row.Latitude,
		Longitude:    row.Longitude,
		GPSAvailable: row.GPSAvailable,
		Superseded:   row.Superseded,
		RemoteRef:    row.RemoteRef,
		CreatedAt:    row.CreatedAt,
	}
}

func historyToRow(h inspection.HistoryEntry) model.HistoryEntry {
	row := model.HistoryEntry{
		ID:            h.ID,
		ItemVerdictID: h.ItemVerdictID,
		At:            h.At,
		Actor:         h.Actor,
		Action:        h.Action,
		NewVerdict:    string(h.NewVerdict),
		Justification: h.Justification,
		RemoteID:      h.RemoteID,
	}
	if h.PriorVerdict != nil {
		prior := string(*h.PriorVerdict)
		row.PriorVerdict = &prior
	}
	return row
}

func historyFromRow(row model.HistoryEntry) inspection.HistoryEntry {
	out := inspection.HistoryEntry{
		ID:            row.ID,
		ItemVerdictID: row.ItemVerdictID,
		At:            row.At,
		Actor:         row.Actor,
		Action:        row.Action,
		NewVerdict:    inspection.Verdict(row.NewVerdict),
		Justification: row.Justification,
		RemoteID:      row.RemoteID,
	}
	if row.PriorVerdict != nil {
		prior := inspection.Verdict(*row.PriorVerdict)
		out.PriorVerdict = &prior
	}
	return out
}
