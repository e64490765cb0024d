package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/blob"
	"fleetinspect/internal/infrastructure/persistence/sqlite/model"
)

func openMigrateDB(t *testing.T) (*gorm.DB, *blob.FileStore) {
	t.Helper()

	dir := t.TempDir()
	db, err := gorm.Open(gormsqlite.Open(filepath.Join(dir, "local.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	blobs, err := blob.NewFileStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return db, blobs
}

func TestRunnerUpIsIdempotent(t *testing.T) {
	db, blobs := openMigrateDB(t)
	ctx := context.Background()
	runner := NewRunner(db, Env{Blobs: blobs}, LocalMigrations())

	applied, err := runner.Up(ctx)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if len(applied) != 3 {
		t.Fatalf("Up() applied = %v", applied)
	}
	applied, err = runner.Up(ctx)
	if err != nil {
		t.Fatalf("Up(again) error = %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("Up(again) applied = %v", applied)
	}

	current, err := runner.Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if current != 3 {
		t.Fatalf("Current() = %d", current)
	}
}

func TestDedupeMigrationKeepsOverrideAndRepointsHistory(t *testing.T) {
	db, blobs := openMigrateDB(t)
	ctx := context.Background()
	if _, err := NewRunner(db, Env{Blobs: blobs}, LocalMigrations()[:1]).Up(ctx); err != nil {
		t.Fatalf("Up(v1) error = %v", err)
	}

	older := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)
	override := "pass"
	rows := []model.ItemVerdict{
		{InspectionID: 7, ItemID: "brakes", Verdict: "fail", OverrideVerdict: &override, Overridden: true, CreatedAt: older, UpdatedAt: older},
		{InspectionID: 7, ItemID: "brakes", Verdict: "fail", CreatedAt: newer, UpdatedAt: newer},
		{InspectionID: 7, ItemID: "horn", Verdict: "pass", CreatedAt: older, UpdatedAt: older},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("insert verdicts: %v", err)
	}
	history := model.HistoryEntry{ItemVerdictID: rows[1].ID, At: newer, Actor: "insp-1", Action: "record", NewVerdict: "fail"}
	if err := db.Create(&history).Error; err != nil {
		t.Fatalf("insert history: %v", err)
	}

	if _, err := NewRunner(db, Env{Blobs: blobs}, LocalMigrations()).Up(ctx); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	var remaining []model.ItemVerdict
	if err := db.Where("inspection_id = ?", 7).Order("id asc").Find(&remaining).Error; err != nil {
		t.Fatalf("query verdicts: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining verdicts = %d", len(remaining))
	}
	if remaining[0].ID != rows[0].ID || !remaining[0].Overridden {
		t.Fatalf("surviving brakes row = %+v", remaining[0])
	}

	var moved model.HistoryEntry
	if err := db.Where("id = ?", history.ID).Take(&moved).Error; err != nil {
		t.Fatalf("query history: %v", err)
	}
	if moved.ItemVerdictID != rows[0].ID {
		t.Fatalf("history item_verdict_id = %d, want %d", moved.ItemVerdictID, rows[0].ID)
	}

	duplicate := model.ItemVerdict{InspectionID: 7, ItemID: "horn", Verdict: "fail", CreatedAt: newer, UpdatedAt: newer}
	if err := db.Create(&duplicate).Error; err == nil {
		t.Fatalf("insert duplicate verdict succeeded after unique index")
	}
}

func TestPhotoMigrationMovesPayloadToBlobs(t *testing.T) {
	db, blobs := openMigrateDB(t)
	ctx := context.Background()
	if _, err := NewRunner(db, Env{Blobs: blobs}, LocalMigrations()[:2]).Up(ctx); err != nil {
		t.Fatalf("Up(v2) error = %v", err)
	}

	photo := model.Photo{
		ClientRef:    "p-legacy",
		InspectionID: 3,
		Slot:         "general",
		Data:         []byte("legacy-jpeg"),
		ContentType:  "image/jpeg",
		CapturedAt:   time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		Latitude:     -33.45,
		Longitude:    -70.66,
		GPSAvailable: true,
		CreatedAt:    time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&photo).Error; err != nil {
		t.Fatalf("insert photo: %v", err)
	}

	if _, err := NewRunner(db, Env{Blobs: blobs}, LocalMigrations()).Up(ctx); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	var migrated model.Photo
	if err := db.Where("id = ?", photo.ID).Take(&migrated).Error; err != nil {
		t.Fatalf("query photo: %v", err)
	}
	if migrated.Data != nil {
		t.Fatalf("photo data not cleared")
	}
	if migrated.BlobKey != inspection.PhotoBlobKey("p-legacy") {
		t.Fatalf("photo blob key = %q", migrated.BlobKey)
	}
	if migrated.Latitude != -33.45 || !migrated.GPSAvailable {
		t.Fatalf("photo metadata changed: %+v", migrated)
	}

	data, err := blobs.Get(ctx, migrated.BlobKey)
	if err != nil {
		t.Fatalf("blobs.Get() error = %v", err)
	}
	if string(data) != "legacy-jpeg" {
		t.Fatalf("blob data = %q", data)
	}
}

func TestPhotoMigrationRequiresBlobStore(t *testing.T) {
	db, blobs := openMigrateDB(t)
	ctx := context.Background()
	if _, err := NewRunner(db, Env{Blobs: blobs}, LocalMigrations()[:2]).Up(ctx); err != nil {
		t.Fatalf("Up(v2) error = %v", err)
	}
	if err := db.Create(&model.Photo{ClientRef: "p-1", InspectionID: 1, Slot: "general", Data: []byte("x"), CapturedAt: time.Now().UTC(), CreatedAt: time.Now().UTC()}).Error; err != nil {
		t.Fatalf("insert photo: %v", err)
	}

	_, err := NewRunner(db, Env{}, LocalMigrations()).Up(ctx)
	if !errs.IsStorage(err) {
		t.Fatalf("Up() error = %v, want storage error", err)
	}

	var count int64
	if err := db.Model(&model.SchemaVersion{}).Where("version = ?", 3).Count(&count).Error; err != nil {
		t.Fatalf("count schema versions: %v", err)
	}
	if count != 0 {
		t.Fatalf("v3 recorded despite failure")
	}
	if errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unexpected not found: %v", err)
	}
}
