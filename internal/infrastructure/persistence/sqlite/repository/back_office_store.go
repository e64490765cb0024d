package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/review"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/persistence/sqlite/model"
	"fleetinspect/internal/ports"
)

type BackOfficeRepository struct {
	db *gorm.DB
}

var _ ports.BackOfficeStore = (*BackOfficeRepository)(nil)

func NewBackOfficeRepository(db *gorm.DB) *BackOfficeRepository {
	return &BackOfficeRepository{db: db}
}

func (r *BackOfficeRepository) CreateSubmitted(ctx context.Context, in review.Submitted) (review.Submitted, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return review.Submitted{}, err
	}
	if strings.TrimSpace(in.ID) == "" {
		in.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	row := submittedToRow(in)
	row.CreatedAt = now
	row.UpdatedAt = now
	if err := db.Create(&row).Error; err != nil {
		return review.Submitted{}, errs.Storage(err, "insert back office inspection")
	}
	return submittedFromRow(row), nil
}

func (r *BackOfficeRepository) GetSubmitted(ctx context.Context, id string) (review.Submitted, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return review.Submitted{}, err
	}

	var row model.BackOfficeInspection
	if err := db.Where("id = ?", strings.TrimSpace(id)).Take(&row).Error; err != nil {
		return review.Submitted{}, notFoundOr(err, fmt.Sprintf("inspection %q", id), "query back office inspection")
	}
	return submittedFromRow(row), nil
}

func (r *BackOfficeRepository) GetSubmittedByClientRef(ctx context.Context, clientRef string) (review.Submitted, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return review.Submitted{}, err
	}

	var row model.BackOfficeInspection
	if err := db.Where("client_ref = ?", strings.TrimSpace(clientRef)).Take(&row).Error; err != nil {
		return review.Submitted{}, notFoundOr(err, fmt.Sprintf("inspection client ref %q", clientRef), "query back office inspection by client ref")
	}
	return submittedFromRow(row), nil
}

func (r *BackOfficeRepository) UpdateSubmitted(ctx context.Context, in review.Submitted) error {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return err
	}

	row := submittedToRow(in)
	row.UpdatedAt = time.Now().UTC()
	result := db.Model(&model.BackOfficeInspection{}).Where("id = ?", in.ID).Select("*").Omit("id", "created_at").Updates(&row)
	if result.Error != nil {
		return errs.Storage(result.Error, "update back office inspection")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("inspection %q: %w", in.ID, errs.ErrNotFound)
	}
	return nil
}

func (r *BackOfficeRepository) ListSubmitted(ctx context.Context, filter ports.SubmittedFilter) ([]review.Submitted, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.BackOfficeInspection{})
	if inspector := strings.TrimSpace(filter.InspectorID); inspector != "" {
		query = query.Where("inspector_id = ?", inspector)
	}
	if filter.From != nil {
		query = query.Where("scheduled_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("scheduled_at < ?", filter.To.UTC())
	}
	if len(filter.Estados) > 0 {
		estados := make([]string, 0, len(filter.Estados))
		for _, estado := range filter.Estados {
			estados = append(estados, string(estado))
		}
		query = query.Where("estado IN ?", estados)
	}
	if filter.ReviewState != "" {
		query = query.Where("review_state = ?", string(filter.ReviewState))
	}

	var rows []model.BackOfficeInspection
	if err := query.Order("scheduled_at asc").Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query back office inspections")
	}

	out := make([]review.Submitted, 0, len(rows))
	for _, row := range rows {
		out = append(out, submittedFromRow(row))
	}
	return out, nil
}

// ReplaceItems upserts the submitted checklist. Items keep their primary key
// and any admin override across resubmissions, so the audit trail and its
// effect on the score stay attached.
func (r *BackOfficeRepository) ReplaceItems(ctx context.Context, inspectionID string, items []review.Item) error {
	return inTx(r.db, ctx, func(_ context.Context, db *gorm.DB) error {
		keep := make([]string, 0, len(items))
		for _, item := range items {
			row, err := itemToRow(inspectionID, item)
			if err != nil {
				return err
			}
			if err := db.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "inspection_id"}, {Name: "item_id"}},
				DoUpdates: clause.Assignments(map[string]any{
					"verdict":     row.Verdict,
					"description": row.Description,
					"na_reason":   row.NAReason,
					"tier":        row.Tier,
					"photo_refs":  row.PhotoRefs,
				}),
			}).Create(&row).Error; err != nil {
				return errs.Storage(err, "upsert back office item")
			}
			keep = append(keep, row.ItemID)
		}

		query := db.Where("inspection_id = ?", inspectionID)
		if len(keep) > 0 {
			query = query.Where("item_id NOT IN ?", keep)
		}
		if err := query.Delete(&model.BackOfficeItem{}).Error; err != nil {
			return errs.Storage(err, "delete stale back office items")
		}
		return nil
	})
}

func (r *BackOfficeRepository) ListItems(ctx context.Context, inspectionID string) ([]review.Item, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.BackOfficeItem
	if err := db.Where("inspection_id = ?", inspectionID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query back office items")
	}

	out := make([]review.Item, 0, len(rows))
	for _, row := range rows {
		out = append(out, itemFromRow(row))
	}
	return out, nil
}

func (r *BackOfficeRepository) GetItem(ctx context.Context, inspectionID string, itemID string) (review.Item, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return review.Item{}, err
	}

	var row model.BackOfficeItem
	if err := db.Where("inspection_id = ? AND item_id = ?", inspectionID, itemID).Take(&row).Error; err != nil {
		return review.Item{}, notFoundOr(err, fmt.Sprintf("item %q of inspection %q", itemID, inspectionID), "query back office item")
	}
	return itemFromRow(row), nil
}

func (r *BackOfficeRepository) SetItemOverride(ctx context.Context, itemPK uint64, verdict inspection.Verdict) error {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return err
	}

	override := string(verdict)
	result := db.Model(&model.BackOfficeItem{}).Where("id = ?", itemPK).Updates(map[string]any{
		"override_verdict": &override,
		"overridden":       true,
	})
	if result.Error != nil {
		return errs.Storage(result.Error, "set item override")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("item %d: %w", itemPK, errs.ErrNotFound)
	}
	return nil
}

func (r *BackOfficeRepository) AppendItemHistory(ctx context.Context, entry inspection.HistoryEntry) (inspection.HistoryEntry, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return inspection.HistoryEntry{}, err
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	row := model.BackOfficeItemHistory{
		ItemPK:        entry.ItemVerdictID,
		At:            entry.At,
		Actor:         entry.Actor,
		Action:        entry.Action,
		NewVerdict:    string(entry.NewVerdict),
		Justification: entry.Justification,
	}
	if entry.PriorVerdict != nil {
		prior := string(*entry.PriorVerdict)
		row.PriorVerdict = &prior
	}
	if err := db.Create(&row).Error; err != nil {
		return inspection.HistoryEntry{}, errs.Storage(err, "insert item history")
	}
	return itemHistoryFromRow(row), nil
}

func (r *BackOfficeRepository) ListItemHistory(ctx context.Context, itemPK uint64) ([]inspection.HistoryEntry, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.BackOfficeItemHistory
	if err := db.Where("item_pk = ?", itemPK).Order("at asc").Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query item history")
	}

	out := make([]inspection.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, itemHistoryFromRow(row))
	}
	return out, nil
}

func (r *BackOfficeRepository) AppendReview(ctx context.Context, record review.Record) (review.Record, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return review.Record{}, err
	}
	if record.At.IsZero() {
		record.At = time.Now().UTC()
	}

	row := model.BackOfficeReview{
		InspectionID: record.InspectionID,
		Action:       string(record.Action),
		Comment:      record.Comment,
		Actor:        record.Actor,
		PriorState:   string(record.PriorState),
		NewState:     string(record.NewState),
		At:           record.At,
	}
	if err := db.Create(&row).Error; err != nil {
		return review.Record{}, errs.Storage(err, "insert review record")
	}
	record.ID = row.ID
	return record, nil
}

func (r *BackOfficeRepository) ListReviews(ctx context.Context, inspectionID string) ([]review.Record, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.BackOfficeReview
	if err := db.Where("inspection_id = ?", inspectionID).Order("at asc").Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query review records")
	}

	out := make([]review.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, review.Record{
			ID:           row.ID,
			InspectionID: row.InspectionID,
			Action:       review.Action(row.Action),
			Comment:      row.Comment,
			Actor:        row.Actor,
			PriorState:   review.State(row.PriorState),
			NewState:     review.State(row.NewState),
			At:           row.At,
		})
	}
	return out, nil
}

func (r *BackOfficeRepository) StorePhoto(ctx context.Context, photo review.Photo) (review.Photo, bool, error) {
	if strings.TrimSpace(photo.ClientRef) == "" {
		return review.Photo{}, false, errs.Validation("photo client_ref", "is required")
	}

	var (
		stored  review.Photo
		created bool
	)
	err := inTx(r.db, ctx, func(_ context.Context, db *gorm.DB) error {
		if strings.TrimSpace(photo.Ref) == "" {
			photo.Ref = uuid.NewString()
		}
		if photo.CreatedAt.IsZero() {
			photo.CreatedAt = time.Now().UTC()
		}

		row := photoRecordToRow(photo)
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_ref"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return errs.Storage(result.Error, "insert back office photo")
		}
		created = result.RowsAffected > 0

		var existing model.BackOfficePhoto
		if err := db.Where("client_ref = ?", photo.ClientRef).Take(&existing).Error; err != nil {
			return errs.Storage(err, "reload back office photo")
		}
		stored = photoRecordFromRow(existing)
		return nil
	})
	if err != nil {
		return review.Photo{}, false, err
	}
	return stored, created, nil
}

func (r *BackOfficeRepository) GetPhotoByRef(ctx context.Context, ref string) (review.Photo, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return review.Photo{}, err
	}

	var row model.BackOfficePhoto
	if err := db.Where("ref = ?", strings.TrimSpace(ref)).Take(&row).Error; err != nil {
		return review.Photo{}, notFoundOr(err, fmt.Sprintf("photo %q", ref), "query back office photo")
	}
	return photoRecordFromRow(row), nil
}

func (r *BackOfficeRepository) ListPhotos(ctx context.Context, inspectionID string) ([]review.Photo, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.BackOfficePhoto
	if err := db.Where("inspection_id = ?", inspectionID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query back office photos")
	}

	out := make([]review.Photo, 0, len(rows))
	for _, row := range rows {
		out = append(out, photoRecordFromRow(row))
	}
	return out, nil
}

// AttachPhotos links photos uploaded before their inspection was completed.
func (r *BackOfficeRepository) AttachPhotos(ctx context.Context, inspectionClientRef string, inspectionID string) (int64, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return 0, err
	}

	result := db.Model(&model.BackOfficePhoto{}).
		Where("inspection_client_ref = ?", inspectionClientRef).
		Update("inspection_id", inspectionID)
	if result.Error != nil {
		return 0, errs.Storage(result.Error, "attach photos")
	}
	return result.RowsAffected, nil
}

func submittedToRow(in review.Submitted) model.BackOfficeInspection {
	row := model.BackOfficeInspection{
		ID:            in.ID,
		AssignmentRef: in.AssignmentRef,
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
		Estado:        string(in.Estado),
		ReviewState:   string(in.ReviewState),
		ReviewComment: in.ReviewComment,
		ReviewedBy:    in.ReviewedBy,
		ReviewedAt:    in.ReviewedAt,
		Score:         in.Score,
		Result:        string(in.Result),
		Observations:  in.Observations,
		Signature:     in.Signature,
		CompletedAt:   in.CompletedAt,
	}
	if ref := strings.TrimSpace(in.ClientRef); ref != "" {
		row.ClientRef = &ref
	}
	if ref := strings.TrimSpace(in.SubmissionRef); ref != "" {
		row.SubmissionRef = &ref
	}
	return row
}

func submittedFromRow(row model.BackOfficeInspection) review.Submitted {
	out := review.Submitted{
		ID:            row.ID,
		AssignmentRef: row.AssignmentRef,
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
		Estado:        review.Estado(row.Estado),
		ReviewState:   review.State(row.ReviewState),
		ReviewComment: row.ReviewComment,
		ReviewedBy:    row.ReviewedBy,
		ReviewedAt:    row.ReviewedAt,
		Score:         row.Score,
		Result:        inspection.Result(row.Result),
		Observations:  row.Observations,
		Signature:     row.Signature,
		CompletedAt:   row.CompletedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.ClientRef != nil {
		out.ClientRef = *row.ClientRef
	}
	if row.SubmissionRef != nil {
		out.SubmissionRef = *row.SubmissionRef
	}
	return out
}

func itemToRow(inspectionID string, item review.Item) (model.BackOfficeItem, error) {
	refs := item.PhotoRefs
	if refs == nil {
		refs = []string{}
	}
	rawRefs, err := json.Marshal(refs)
	if err != nil {
		return model.BackOfficeItem{}, errs.Wrap(err, "encode photo refs")
	}
	row := model.BackOfficeItem{
		ID:           item.ID,
		InspectionID: inspectionID,
		ItemID:       item.ItemID,
		Verdict:      string(item.Verdict),
		Overridden:   item.Overridden,
		Description:  item.Description,
		NAReason:     item.NAReason,
		Tier:         string(item.Tier),
		PhotoRefs:    string(rawRefs),
	}
	if item.OverrideVerdict != nil {
		override := string(*item.OverrideVerdict)
		row.OverrideVerdict = &override
	}
	return row, nil
}

func itemFromRow(row model.BackOfficeItem) review.Item {
	out := review.Item{
		ID:           row.ID,
		InspectionID: row.InspectionID,
		ItemID:       row.ItemID,
		Verdict:      inspection.Verdict(row.Verdict),
		Overridden:   row.Overridden,
		Description:  row.Description,
		NAReason:     row.NAReason,
		Tier:         inspection.Tier(row.Tier),
	}
	if row.OverrideVerdict != nil {
		override := inspection.Verdict(*row.OverrideVerdict)
		out.OverrideVerdict = &override
	}
	if row.PhotoRefs != "" {
		_ = json.Unmarshal([]byte(row.PhotoRefs), &out.PhotoRefs)
	}
	return out
}

func itemHistoryFromRow(row model.BackOfficeItemHistory) inspection.HistoryEntry {
	out := inspection.HistoryEntry{
		ID:            row.ID,
		ItemVerdictID: row.ItemPK,
		At:            row.At,
		Actor:         row.Actor,
		Action:        row.Action,
		NewVerdict:    inspection.Verdict(row.NewVerdict),
		Justification: row.Justification,
	}
	if row.PriorVerdict != nil {
		prior := inspection.Verdict(*row.PriorVerdict)
		out.PriorVerdict = &prior
	}
	return out
}

func photoRecordToRow(p review.Photo) model.BackOfficePhoto {
	return model.BackOfficePhoto{
		ID:                  p.ID,
		Ref:                 p.Ref,
		ClientRef:           p.ClientRef,
		InspectionClientRef: p.InspectionClientRef,
		InspectionID:        p.InspectionID,
		ItemID:              p.ItemID,
		Slot:                p.Slot,
		BlobKey:             p.BlobKey,
		ContentType:         p.ContentType,
		Size:                p.Size,
		CapturedAt:          p.CapturedAt,
		Latitude:            p.Latitude,
		Longitude:           p.Longitude,
		GPSAvailable:        p.GPSAvailable,
		CreatedAt:           p.CreatedAt,
	}
}

func photoRecordFromRow(row model.BackOfficePhoto) review.Photo {
	return review.Photo{
		ID:                  row.ID,
		Ref:                 row.Ref,
		ClientRef:           row.ClientRef,
		InspectionClientRef: row.InspectionClientRef,
		InspectionID:        row.InspectionID,
		ItemID:              row.ItemID,
		Slot:                row.Slot,
		BlobKey:             row.BlobKey,
		ContentType:         row.ContentType,
		Size:                row.Size,
		CapturedAt:          row.CapturedAt,
		Latitude:            row.Latitude,
		Longitude:           row.Longitude,
		GPSAvailable:        row.GPSAvailable,
		CreatedAt:           row.CreatedAt,
	}
}
