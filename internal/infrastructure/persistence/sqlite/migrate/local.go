package migrate

import (
	"context"
	"strconv"

	"gorm.io/gorm"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/persistence/sqlite/model"
)

const photoMigrationBatch = 50

// LocalMigrations is the versioned schema of the inspector's LocalStore.
func LocalMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "base_tables", Up: createLocalTables},
		{Version: 2, Name: "dedupe_item_verdicts", Up: dedupeItemVerdicts},
		{Version: 3, Name: "photos_out_of_line", Up: movePhotoPayloads},
	}
}

func createLocalTables(_ context.Context, tx *gorm.DB, _ Env) error {
	return tx.AutoMigrate(
		&model.Inspection{},
		&model.ItemVerdict{},
		&model.Photo{},
		&model.HistoryEntry{},
		&model.SyncQueueEntry{},
		&model.LocalKV{},
	)
}

// dedupeItemVerdicts folds duplicate (inspection, item) rows left by retried
// writes, repoints their history to the surviving row, and then enforces
// uniqueness with an index.
func dedupeItemVerdicts(_ context.Context, tx *gorm.DB, _ Env) error {
	var rows []model.ItemVerdict
	if err := tx.Order("id asc").Find(&rows).Error; err != nil {
		return errs.Wrap(err, "scan item verdicts")
	}

	verdicts := make([]inspection.ItemVerdict, 0, len(rows))
	for _, row := range rows {
		verdicts = append(verdicts, verdictFromRow(row))
	}
	keep, drop := inspection.DedupeVerdicts(verdicts)

	if len(drop) > 0 {
		winnerByKey := make(map[string]uint64, len(keep))
		for _, winner := range keep {
			winnerByKey[verdictGroupKey(winner.InspectionID, winner.ItemID)] = winner.ID
		}
		dropped := make(map[uint64]struct{}, len(drop))
		for _, id := range drop {
			dropped[id] = struct{}{}
		}
		for _, row := range rows {
			if _, ok := dropped[row.ID]; !ok {
				continue
			}
			winnerID := winnerByKey[verdictGroupKey(row.InspectionID, row.ItemID)]
			if err := tx.Model(&model.HistoryEntry{}).
				Where("item_verdict_id = ?", row.ID).
				Update("item_verdict_id", winnerID).Error; err != nil {
				return errs.Wrapf(err, "repoint history of verdict %d", row.ID)
			}
		}
		if err := tx.Where("id IN ?", drop).Delete(&model.ItemVerdict{}).Error; err != nil {
			return errs.Wrap(err, "delete duplicate verdicts")
		}
	}

	return tx.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_item_verdicts_inspection_item ON item_verdicts (inspection_id, item_id)").Error
}

// movePhotoPayloads writes inline photo payloads to the blob store and nulls
// the column, keeping every other photo field untouched.
func movePhotoPayloads(ctx context.Context, tx *gorm.DB, env Env) error {
	var pending int64
	if err := tx.Model(&model.Photo{}).Where("data IS NOT NULL").Count(&pending).Error; err != nil {
		return errs.Wrap(err, "count inline photos")
	}
	if pending == 0 {
		return nil
	}
	if err := requireBlobs(env); err != nil {
		return err
	}

	for {
		var batch []model.Photo
		if err := tx.Where("data IS NOT NULL").Order("id asc").Limit(photoMigrationBatch).Find(&batch).Error; err != nil {
			return errs.Wrap(err, "scan inline photos")
		}
		if len(batch) == 0 {
			return nil
		}

		for _, row := range batch {
			key := row.BlobKey
			if key == "" {
				key = inspection.PhotoBlobKey(row.ClientRef)
			}
			if len(row.Data) > 0 {
				if err := env.Blobs.Put(ctx, key, row.Data, row.ContentType); err != nil {
					return errs.Wrapf(err, "move photo %d payload", row.ID)
				}
			}
			if err := tx.Model(&model.Photo{}).Where("id = ?", row.ID).Updates(map[string]any{
				"data":     gorm.Expr("NULL"),
				"blob_key": key,
			}).Error; err != nil {
				return errs.Wrapf(err, "clear photo %d inline payload", row.ID)
			}
		}
	}
}

func verdictGroupKey(inspectionID uint64, itemID string) string {
	return itemID + "@" + strconv.FormatUint(inspectionID, 10)
}

func verdictFromRow(row model.ItemVerdict) inspection.ItemVerdict {
	out := inspection.ItemVerdict{
		ID:           row.ID,
		InspectionID: row.InspectionID,
		ItemID:       row.ItemID,
		Verdict:      inspection.Verdict(row.Verdict),
		Overridden:   row.Overridden,
		CreatedAt:    row.CreatedAt,
	}
	if row.OverrideVerdict != nil {
		override := inspection.Verdict(*row.OverrideVerdict)
		out.OverrideVerdict = &override
	}
	return out
}
