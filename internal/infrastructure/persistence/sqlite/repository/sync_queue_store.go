package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fleetinspect/internal/domain/syncqueue"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/persistence/sqlite/model"
	"fleetinspect/internal/ports"
)

var dispatchOrder = fmt.Sprintf("CASE WHEN kind = '%s' THEN 0 ELSE 1 END, id asc", syncqueue.KindPhotoUpload)

type SyncQueueRepository struct {
	db *gorm.DB
}

var _ ports.SyncQueueStore = (*SyncQueueRepository)(nil)

func NewSyncQueueRepository(db *gorm.DB) *SyncQueueRepository {
	return &SyncQueueRepository{db: db}
}

func (r *SyncQueueRepository) Enqueue(ctx context.Context, input ports.QueueEntryCreate) (syncqueue.Entry, bool, error) {
	if _, err := syncqueue.ParseKind(string(input.Kind)); err != nil {
		return syncqueue.Entry{}, false, err
	}
	ref := strings.TrimSpace(input.Ref)
	if ref == "" {
		return syncqueue.Entry{}, false, errs.Validation("queue ref", "is required")
	}

	var (
		entry   syncqueue.Entry
		created bool
	)
	err := inTx(r.db, ctx, func(_ context.Context, db *gorm.DB) error {
		now := time.Now().UTC()
		payload := input.Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		row := model.SyncQueueEntry{
			Kind:          string(input.Kind),
			Ref:           ref,
			InspectionID:  input.InspectionID,
			Payload:       datatypes.JSON(payload),
			Status:        string(syncqueue.StatusPending),
			NextAttemptAt: now,
			CreatedAt:     now,
		}

		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "ref"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return errs.Storage(result.Error, "insert queue entry")
		}
		created = result.RowsAffected > 0

		var stored model.SyncQueueEntry
		if err := db.Where("kind = ? AND ref = ?", row.Kind, row.Ref).Take(&stored).Error; err != nil {
			return errs.Storage(err, "reload queue entry")
		}
		entry = entryFromRow(stored)
		return nil
	})
	if err != nil {
		return syncqueue.Entry{}, false, err
	}
	return entry, created, nil
}

func (r *SyncQueueRepository) GetEntry(ctx context.Context, id uint64) (syncqueue.Entry, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return syncqueue.Entry{}, err
	}

	var row model.SyncQueueEntry
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		return syncqueue.Entry{}, notFoundOr(err, fmt.Sprintf("queue entry %d", id), "query queue entry")
	}
	return entryFromRow(row), nil
}

// ListDispatchable returns pending entries that are due, photo uploads first.
func (r *SyncQueueRepository) ListDispatchable(ctx context.Context, now time.Time, limit int) ([]syncqueue.Entry, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.SyncQueueEntry{}).
		Where("status = ? AND next_attempt_at <= ?", string(syncqueue.StatusPending), now.UTC()).
		Order(dispatchOrder)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []model.SyncQueueEntry
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query dispatchable entries")
	}
	return entriesFromRows(rows), nil
}

func (r *SyncQueueRepository) ListEntries(ctx context.Context, filter ports.QueueFilter) ([]syncqueue.Entry, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.SyncQueueEntry{})
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status IN ?", statuses)
	}
	if filter.InspectionID > 0 {
		query = query.Where("inspection_id = ?", filter.InspectionID)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", string(filter.Kind))
	}

	var rows []model.SyncQueueEntry
	if err := query.Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Storage(err, "query queue entries")
	}
	return entriesFromRows(rows), nil
}

// CountOutstanding counts entries of kind for an inspection that have not
// been delivered, failed ones included.
func (r *SyncQueueRepository) CountOutstanding(ctx context.Context, inspectionID uint64, kind syncqueue.Kind) (int64, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&model.SyncQueueEntry{}).
		Where("inspection_id = ? AND kind = ?", inspectionID, string(kind)).
		Count(&count).Error; err != nil {
		return 0, errs.Storage(err, "count outstanding entries")
	}
	return count, nil
}

func (r *SyncQueueRepository) MarkInFlight(ctx context.Context, id uint64, at time.Time) error {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return err
	}

	attemptAt := at.UTC()
	result := db.Model(&model.SyncQueueEntry{}).
		Where("id = ? AND status = ?", id, string(syncqueue.StatusPending)).
		Updates(map[string]any{
			"status":          string(syncqueue.StatusInFlight),
			"last_attempt_at": &attemptAt,
		})
	if result.Error != nil {
		return errs.Storage(result.Error, "mark queue entry in flight")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: queue entry %d is not pending", errs.ErrInvalidState, id)
	}
	return nil
}

func (r *SyncQueueRepository) RecordFailure(ctx context.Context, id uint64, failure ports.QueueFailure) error {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return err
	}

	attemptedAt := failure.AttemptedAt.UTC()
	result := db.Model(&model.SyncQueueEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          string(failure.Status),
			"attempts":        failure.Attempts,
			"last_attempt_at": &attemptedAt,
			"next_attempt_at": failure.NextAttemptAt.UTC(),
			"last_error":      failure.LastError,
		})
	if result.Error != nil {
		return errs.Storage(result.Error, "record queue failure")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("queue entry %d: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (r *SyncQueueRepository) Delete(ctx context.Context, id uint64) error {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return err
	}

	if err := db.Where("id = ?", id).Delete(&model.SyncQueueEntry{}).Error; err != nil {
		return errs.Storage(err, "delete queue entry")
	}
	return nil
}

// ResetInFlight returns entries orphaned by a crash mid-dispatch to pending.
func (r *SyncQueueRepository) ResetInFlight(ctx context.Context) (int64, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return 0, err
	}

	result := db.Model(&model.SyncQueueEntry{}).
		Where("status = ?", string(syncqueue.StatusInFlight)).
		Update("status", string(syncqueue.StatusPending))
	if result.Error != nil {
		return 0, errs.Storage(result.Error, "reset in-flight entries")
	}
	return result.RowsAffected, nil
}

// Resurface puts a failed entry back in the queue with a fresh attempt budget.
func (r *SyncQueueRepository) Resurface(ctx context.Context, id uint64, at time.Time) error {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return err
	}

	result := db.Model(&model.SyncQueueEntry{}).
		Where("id = ? AND status = ?", id, string(syncqueue.StatusFailed)).
		Updates(map[string]any{
			"status":          string(syncqueue.StatusPending),
			"attempts":        0,
			"next_attempt_at": at.UTC(),
		})
	if result.Error != nil {
		return errs.Storage(result.Error, "resurface queue entry")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: queue entry %d is not failed", errs.ErrInvalidState, id)
	}
	return nil
}

func (r *SyncQueueRepository) Stats(ctx context.Context) (ports.QueueStats, error) {
	db, err := dbFromContext(r.db, ctx)
	if err != nil {
		return ports.QueueStats{}, err
	}

	type statusCount struct {
		Status string
		Total  int64
	}
	var rows []statusCount
	if err := db.Model(&model.SyncQueueEntry{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return ports.QueueStats{}, errs.Storage(err, "query queue stats")
	}

	var stats ports.QueueStats
	for _, row := range rows {
		switch syncqueue.Status(row.Status) {
		case syncqueue.StatusPending:
			stats.Pending = row.Total
		case syncqueue.StatusInFlight:
			stats.InFlight = row.Total
		case syncqueue.StatusFailed:
			stats.Failed = row.Total
		}
	}
	return stats, nil
}

func entriesFromRows(rows []model.SyncQueueEntry) []syncqueue.Entry {
	out := make([]syncqueue.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, entryFromRow(row))
	}
	return out
}

func entryFromRow(row model.SyncQueueEntry) syncqueue.Entry {
	return syncqueue.Entry{
		ID:            row.ID,
		Kind:          syncqueue.Kind(row.Kind),
		Ref:           row.Ref,
		InspectionID:  row.InspectionID,
		Payload:       []byte(row.Payload),
		Status:        syncqueue.Status(row.Status),
		Attempts:      row.Attempts,
		LastAttemptAt: row.LastAttemptAt,
		NextAttemptAt: row.NextAttemptAt,
		LastError:     row.LastError,
		CreatedAt:     row.CreatedAt,
	}
}
