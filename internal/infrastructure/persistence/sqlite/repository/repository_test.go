package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/syncqueue"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/blob"
	"fleetinspect/internal/infrastructure/persistence/sqlite/migrate"
	"fleetinspect/internal/infrastructure/persistence/sqlite/uow"
	"fleetinspect/internal/ports"
)

func openTestDB(t *testing.T, migrations []migrate.Migration) *gorm.DB {
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
	if _, err := migrate.NewRunner(db, migrate.Env{Blobs: blobs}, migrations).Up(context.Background()); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return db
}

func createTestInspection(t *testing.T, repo *InspectionRepository, clientRef string, state inspection.SyncState) inspection.Inspection {
	t.Helper()

	created, err := repo.CreateInspection(context.Background(), inspection.Inspection{
		ClientRef:    clientRef,
		InspectorID:  "insp-1",
		SystemPlate:  "ABC123",
		TemplateCode: "general",
		SyncState:    state,
	})
	if err != nil {
		t.Fatalf("CreateInspection() error = %v", err)
	}
	return created
}

func TestInspectionRepositoryUpsertVerdictKeepsSingleRow(t *testing.T) {
	repo := NewInspectionRepository(openTestDB(t, migrate.LocalMigrations()))
	ctx := context.Background()
	insp := createTestInspection(t, repo, "c-1", inspection.StateInProgress)

	first, err := repo.UpsertVerdict(ctx, inspection.ItemVerdict{
		InspectionID: insp.ID,
		ItemID:       "brakes",
		Verdict:      inspection.VerdictPass,
		Tier:         inspection.TierCritical,
	})
	if err != nil {
		t.Fatalf("UpsertVerdict() error = %v", err)
	}
	second, err := repo.UpsertVerdict(ctx, inspection.ItemVerdict{
		InspectionID: insp.ID,
		ItemID:       "brakes",
		Verdict:      inspection.VerdictFail,
		Observation:  "pads worn",
		Tier:         inspection.TierCritical,
	})
	if err != nil {
		t.Fatalf("UpsertVerdict(again) error = %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("UpsertVerdict() id = %d, want %d", second.ID, first.ID)
	}

	verdicts, err := repo.ListVerdicts(ctx, insp.ID)
	if err != nil {
		t.Fatalf("ListVerdicts() error = %v", err)
	}
	if len(verdicts) != 1 {
		t.Fatalf("ListVerdicts() len = %d", len(verdicts))
	}
	if verdicts[0].Verdict != inspection.VerdictFail || verdicts[0].Observation != "pads worn" {
		t.Fatalf("ListVerdicts()[0] = %+v", verdicts[0])
	}
}

func TestInspectionRepositorySupersedeHidesRetakes(t *testing.T) {
	repo := NewInspectionRepository(openTestDB(t, migrate.LocalMigrations()))
	ctx := context.Background()
	insp := createTestInspection(t, repo, "c-2", inspection.StateInProgress)
	itemID := "tyres"
	slot := inspection.ItemSlot(itemID)

	if _, err := repo.CreatePhoto(ctx, inspection.Photo{ClientRef: "p-1", InspectionID: insp.ID, ItemID: &itemID, Slot: slot, CapturedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("CreatePhoto() error = %v", err)
	}
	superseded, err := repo.SupersedePhotos(ctx, insp.ID, slot)
	if err != nil {
		t.Fatalf("SupersedePhotos() error = %v", err)
	}
	if superseded != 1 {
		t.Fatalf("SupersedePhotos() = %d", superseded)
	}
	if _, err := repo.CreatePhoto(ctx, inspection.Photo{ClientRef: "p-2", InspectionID: insp.ID, ItemID: &itemID, Slot: slot, CapturedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("CreatePhoto(retake) error = %v", err)
	}

	current, err := repo.ListCurrentPhotos(ctx, ports.PhotoFilter{InspectionID: insp.ID, ItemID: &itemID})
	if err != nil {
		t.Fatalf("ListCurrentPhotos() error = %v", err)
	}
	if len(current) != 1 || current[0].ClientRef != "p-2" {
		t.Fatalf("ListCurrentPhotos() = %+v", current)
	}
}

func TestInspectionRepositoryListCurrentPhotosByItemOnly(t *testing.T) {
	repo := NewInspectionRepository(openTestDB(t, migrate.LocalMigrations()))
	ctx := context.Background()
	first := createTestInspection(t, repo, "c-item-1", inspection.StateSynced)
	second := createTestInspection(t, repo, "c-item-2", inspection.StateInProgress)
	itemID := "extinguisher"
	otherID := "horn"

	for _, photo := range []inspection.Photo{
		{ClientRef: "p-a", InspectionID: first.ID, ItemID: &itemID, Slot: inspection.ItemSlot(itemID)},
		{ClientRef: "p-b", InspectionID: second.ID, ItemID: &itemID, Slot: inspection.ItemSlot(itemID)},
		{ClientRef: "p-c", InspectionID: second.ID, ItemID: &otherID, Slot: inspection.ItemSlot(otherID)},
	} {
		photo.CapturedAt = time.Now().UTC()
		if _, err := repo.CreatePhoto(ctx, photo); err != nil {
			t.Fatalf("CreatePhoto(%s) error = %v", photo.ClientRef, err)
		}
	}

	byItem, err := repo.ListCurrentPhotos(ctx, ports.PhotoFilter{ItemID: &itemID})
	if err != nil {
		t.Fatalf("ListCurrentPhotos(item) error = %v", err)
	}
	if len(byItem) != 2 {
		t.Fatalf("ListCurrentPhotos(item) len = %d, want 2", len(byItem))
	}
	for _, photo := range byItem {
		if photo.ItemID == nil || *photo.ItemID != itemID {
			t.Fatalf("ListCurrentPhotos(item) returned %+v", photo)
		}
	}

	if _, err := repo.ListCurrentPhotos(ctx, ports.PhotoFilter{}); !errs.IsValidation(err) {
		t.Fatalf("ListCurrentPhotos(empty filter) error = %v, want validation error", err)
	}
}

func TestInspectionRepositoryClearOverrideKeepsInspectorVerdict(t *testing.T) {
	repo := NewInspectionRepository(openTestDB(t, migrate.LocalMigrations()))
	ctx := context.Background()
	insp := createTestInspection(t, repo, "c-override", inspection.StateSynced)

	override := inspection.VerdictFail
	saved, err := repo.UpsertVerdict(ctx, inspection.ItemVerdict{
		InspectionID:    insp.ID,
		ItemID:          "brakes",
		Verdict:         inspection.VerdictPass,
		OverrideVerdict: &override,
		Overridden:      true,
		Tier:            inspection.TierCritical,
	})
	if err != nil {
		t.Fatalf("UpsertVerdict() error = %v", err)
	}
	if !saved.Overridden {
		t.Fatalf("UpsertVerdict() overridden = false")
	}

	if err := repo.ClearOverride(ctx, saved.ID); err != nil {
		t.Fatalf("ClearOverride() error = %v", err)
	}
	got, err := repo.GetVerdict(ctx, insp.ID, "brakes")
	if err != nil {
		t.Fatalf("GetVerdict() error = %v", err)
	}
	if got.Overridden || got.OverrideVerdict != nil || got.Verdict != inspection.VerdictPass {
		t.Fatalf("GetVerdict() = %+v", got)
	}
	if err := repo.ClearOverride(ctx, 9999); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("ClearOverride(missing) error = %v", err)
	}
}

func TestInspectionRepositoryAppendHistoryDedupesRemoteEntries(t *testing.T) {
	repo := NewInspectionRepository(openTestDB(t, migrate.LocalMigrations()))
	ctx := context.Background()
	insp := createTestInspection(t, repo, "c-3", inspection.StateSynced)
	verdict, err := repo.UpsertVerdict(ctx, inspection.ItemVerdict{InspectionID: insp.ID, ItemID: "horn", Verdict: inspection.VerdictFail})
	if err != nil {
		t.Fatalf("UpsertVerdict() error = %v", err)
	}

	remoteID := "42"
	entry := inspection.HistoryEntry{
		ItemVerdictID: verdict.ID,
		Actor:         "admin-1",
		Action:        inspection.HistoryActionOverride,
		NewVerdict:    inspection.VerdictPass,
		Justification: "horn works after fuse replacement",
		RemoteID:      &remoteID,
	}
	inserted, err := repo.AppendHistory(ctx, entry)
	if err != nil || !inserted {
		t.Fatalf("AppendHistory() = %v, %v", inserted, err)
	}
	inserted, err = repo.AppendHistory(ctx, entry)
	if err != nil {
		t.Fatalf("AppendHistory(repeat) error = %v", err)
	}
	if inserted {
		t.Fatalf("AppendHistory(repeat) inserted a duplicate")
	}

	history, err := repo.ListHistory(ctx, verdict.ID)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("ListHistory() len = %d", len(history))
	}
}

func TestInspectionRepositoryGetMissingIsNotFound(t *testing.T) {
	repo := NewInspectionRepository(openTestDB(t, migrate.LocalMigrations()))
	if _, err := repo.GetInspection(context.Background(), 999); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("GetInspection() error = %v", err)
	}
}

func TestSyncQueueRepositoryEnqueueIsIdempotent(t *testing.T) {
	queue := NewSyncQueueRepository(openTestDB(t, migrate.LocalMigrations()))
	ctx := context.Background()

	input := ports.QueueEntryCreate{Kind: syncqueue.KindInspectionComplete, Ref: "c-1#1", InspectionID: 1, Payload: []byte(`{"inspection_id":1}`)}
	first, created, err := queue.Enqueue(ctx, input)
	if err != nil || !created {
		t.Fatalf("Enqueue() = %v, %v", created, err)
	}
	second, created, err := queue.Enqueue(ctx, input)
	if err != nil {
		t.Fatalf("Enqueue(repeat) error = %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("Enqueue(repeat) created=%v id=%d, want id %d", created, second.ID, first.ID)
	}
}

func TestSyncQueueRepositoryDispatchOrderAndLifecycle(t *testing.T) {
	queue := NewSyncQueueRepository(openTestDB(t, migrate.LocalMigrations()))
	ctx := context.Background()

	completion, _, err := queue.Enqueue(ctx, ports.QueueEntryCreate{Kind: syncqueue.KindInspectionComplete, Ref: "c-1#1", InspectionID: 1})
	if err != nil {
		t.Fatalf("Enqueue(completion) error = %v", err)
	}
	photo, _, err := queue.Enqueue(ctx, ports.QueueEntryCreate{Kind: syncqueue.KindPhotoUpload, Ref: "p-1", InspectionID: 1})
	if err != nil {
		t.Fatalf("Enqueue(photo) error = %v", err)
	}

	due, err := queue.ListDispatchable(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ListDispatchable() error = %v", err)
	}
	if len(due) != 2 || due[0].ID != photo.ID || due[1].ID != completion.ID {
		t.Fatalf("ListDispatchable() order = %+v", due)
	}

	now := time.Now().UTC()
	if err := queue.MarkInFlight(ctx, photo.ID, now); err != nil {
		t.Fatalf("MarkInFlight() error = %v", err)
	}
	if err := queue.MarkInFlight(ctx, photo.ID, now); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("MarkInFlight(twice) error = %v", err)
	}
	reset, err := queue.ResetInFlight(ctx)
	if err != nil || reset != 1 {
		t.Fatalf("ResetInFlight() = %d, %v", reset, err)
	}

	if err := queue.RecordFailure(ctx, completion.ID, ports.QueueFailure{
		Status:        syncqueue.StatusFailed,
		Attempts:      5,
		AttemptedAt:   now,
		NextAttemptAt: now,
		LastError:     "boom",
	}); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	stats, err := queue.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 1 || stats.Failed != 1 || stats.InFlight != 0 {
		t.Fatalf("Stats() = %+v", stats)
	}

	if err := queue.Resurface(ctx, completion.ID, now); err != nil {
		t.Fatalf("Resurface() error = %v", err)
	}
	resurfaced, err := queue.GetEntry(ctx, completion.ID)
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if resurfaced.Status != syncqueue.StatusPending || resurfaced.Attempts != 0 || resurfaced.LastError != "boom" {
		t.Fatalf("GetEntry() after resurface = %+v", resurfaced)
	}

	outstanding, err := queue.CountOutstanding(ctx, 1, syncqueue.KindPhotoUpload)
	if err != nil || outstanding != 1 {
		t.Fatalf("CountOutstanding() = %d, %v", outstanding, err)
	}
	if err := queue.Delete(ctx, photo.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	outstanding, err = queue.CountOutstanding(ctx, 1, syncqueue.KindPhotoUpload)
	if err != nil || outstanding != 0 {
		t.Fatalf("CountOutstanding(after delete) = %d, %v", outstanding, err)
	}
}

func TestUnitOfWorkRollsBackInspectionAndQueueTogether(t *testing.T) {
	db := openTestDB(t, migrate.LocalMigrations())
	repo := NewInspectionRepository(db)
	queue := NewSyncQueueRepository(db)
	work := uow.NewUnitOfWork(db)
	ctx := context.Background()
	insp := createTestInspection(t, repo, "c-9", inspection.StateInProgress)

	failure := errors.New("storage full")
	err := work.WithTx(ctx, func(txCtx context.Context) error {
		insp.SyncState = inspection.StatePendingSync
		if err := repo.UpdateInspection(txCtx, insp); err != nil {
			return err
		}
		if _, _, err := queue.Enqueue(txCtx, ports.QueueEntryCreate{Kind: syncqueue.KindInspectionComplete, Ref: insp.SubmissionRef(), InspectionID: insp.ID}); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("WithTx() error = %v", err)
	}

	reloaded, err := repo.GetInspection(ctx, insp.ID)
	if err != nil {
		t.Fatalf("GetInspection() error = %v", err)
	}
	if reloaded.SyncState != inspection.StateInProgress {
		t.Fatalf("sync state = %s after rollback", reloaded.SyncState)
	}
	entries, err := queue.ListEntries(ctx, ports.QueueFilter{InspectionID: insp.ID})
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("ListEntries() len = %d after rollback", len(entries))
	}
}
