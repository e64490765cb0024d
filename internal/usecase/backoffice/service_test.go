package backoffice

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/review"
	"fleetinspect/internal/domain/scoring"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/blob"
	"fleetinspect/internal/infrastructure/persistence/sqlite/migrate"
	"fleetinspect/internal/infrastructure/persistence/sqlite/repository"
	"fleetinspect/internal/infrastructure/persistence/sqlite/uow"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/usecase/capture"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []ports.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event ports.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *repository.BackOfficeRepository
	events *recordingPublisher
}

func setupService(t *testing.T) fixture {
	t.Helper()

	dir := t.TempDir()
	db, err := gorm.Open(gormsqlite.Open(filepath.Join(dir, "server.sqlite")), &gorm.Config{})
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
	if _, err := migrate.NewRunner(db, migrate.Env{}, migrate.BackOfficeMigrations()).Up(context.Background()); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	blobs, err := blob.NewFileStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	store := repository.NewBackOfficeRepository(db)
	events := &recordingPublisher{}
	return fixture{
		svc:    NewService(store, uow.NewUnitOfWork(db), blobs, scoring.NewCatalog(), events),
		store:  store,
		events: events,
	}
}

func testJPEG(t *testing.T, meta *capture.Metadata) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	if meta == nil {
		return buf.Bytes()
	}
	out, err := capture.EmbedMetadata(buf.Bytes(), *meta)
	if err != nil {
		t.Fatalf("EmbedMetadata() error = %v", err)
	}
	return out
}

// completed schedules an assignment and completes it with brakes pass and
// horn pass, which scores 100 on the general template.
func (f fixture) completed(t *testing.T) review.Submitted {
	t.Helper()
	ctx := context.Background()

	scheduled, err := f.svc.ScheduleAssignment(ctx, ScheduleInput{
		InspectorID:  "insp-1",
		Plate:        "abc-123",
		VehicleType:  "truck",
		ClientName:   "Transportes Sur",
		TemplateCode: "general",
		ScheduledAt:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ScheduleAssignment() error = %v", err)
	}
	if _, err := f.svc.CompleteInspection(ctx, scheduled.ID, completion("c-1", "c-1#1"), "insp-1"); err != nil {
		t.Fatalf("CompleteInspection() error = %v", err)
	}
	current, err := f.store.GetSubmitted(ctx, scheduled.ID)
	if err != nil {
		t.Fatalf("GetSubmitted() error = %v", err)
	}
	return current
}

func completion(clientRef string, submissionRef string) ports.CompletionRequest {
	return ports.CompletionRequest{
		ClientRef:     clientRef,
		SubmissionRef: submissionRef,
		InspectorID:   "insp-1",
		TemplateCode:  "general",
		SystemPlate:   "ABC123",
		Score:         100,
		Result:        "APROBADO",
		Signature:     []byte("sig"),
		Items: []ports.CompletionItem{
			{ItemID: "brakes", Verdict: "pass"},
			{ItemID: "horn", Verdict: "pass"},
		},
	}
}

func TestCompleteInspectionIsIdempotent(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	submitted := f.completed(t)

	if submitted.Estado != review.EstadoDone || submitted.ReviewState != review.StatePending {
		t.Fatalf("completed inspection = %+v", submitted)
	}

	again, err := f.svc.CompleteInspection(ctx, submitted.ID, completion("c-1", "c-1#1"), "insp-1")
	if err != nil {
		t.Fatalf("CompleteInspection() repeat error = %v", err)
	}
	if !again.Duplicate || again.InspectionID != submitted.ID {
		t.Fatalf("CompleteInspection() repeat = %+v", again)
	}
	items, err := f.store.ListItems(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ListItems() = %d items", len(items))
	}

	if _, err := f.svc.CompleteInspection(ctx, submitted.ID, completion("c-1", "c-1#2"), "insp-1"); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("CompleteInspection() new revision without correction error = %v", err)
	}
}

func TestCompleteInspectionScoresFromStoredItems(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	req := completion("adhoc-score", "adhoc-score#1")
	req.Items[0].Verdict = "fail"
	req.Score = 100
	req.Result = "APROBADO"
	accepted, err := f.svc.CompleteInspection(ctx, "", req, "insp-1")
	if err != nil {
		t.Fatalf("CompleteInspection() error = %v", err)
	}

	stored, err := f.store.GetSubmitted(ctx, accepted.InspectionID)
	if err != nil {
		t.Fatalf("GetSubmitted() error = %v", err)
	}
	if stored.Score == nil || *stored.Score != 65 || stored.Result != inspection.ResultRejected {
		t.Fatalf("stored score = %v result = %s, want 65 RECHAZADO", stored.Score, stored.Result)
	}
}

func TestCompleteAdhocInspectionDedupesByClientRef(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	first, err := f.svc.CompleteInspection(ctx, "", completion("adhoc-1", "adhoc-1#1"), "insp-1")
	if err != nil {
		t.Fatalf("CompleteInspection() error = %v", err)
	}
	second, err := f.svc.CompleteInspection(ctx, "", completion("adhoc-1", "adhoc-1#1"), "insp-1")
	if err != nil {
		t.Fatalf("CompleteInspection() repeat error = %v", err)
	}
	if first.Duplicate || !second.Duplicate || first.InspectionID != second.InspectionID {
		t.Fatalf("CompleteInspection() = %+v then %+v", first, second)
	}
}

func TestCompleteInspectionValidates(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	noSignature := completion("c-1", "c-1#1")
	noSignature.Signature = nil
	unknownPhoto := completion("c-2", "c-2#1")
	unknownPhoto.Items[0].PhotoRefs = []string{"missing"}
	badVerdict := completion("c-3", "c-3#1")
	badVerdict.Items[0].Verdict = "maybe"
	otherInspector := completion("c-4", "c-4#1")
	otherInspector.InspectorID = "insp-2"

	cases := map[string]ports.CompletionRequest{
		"signature":       noSignature,
		"unknown photo":   unknownPhoto,
		"verdict":         badVerdict,
		"other inspector": otherInspector,
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.CompleteInspection(ctx, "", req, "insp-1"); !errs.IsValidation(err) {
				t.Fatalf("CompleteInspection() error = %v, want validation", err)
			}
		})
	}

	if _, err := f.svc.CompleteInspection(ctx, "missing", completion("c-5", "c-5#1"), "insp-1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("CompleteInspection() unknown id error = %v", err)
	}
}

func TestStorePhotoIsIdempotentAndAttaches(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	item := "brakes"
	data := testJPEG(t, &capture.Metadata{ClientRef: "p-1", CapturedAt: time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)})

	upload := ports.PhotoUpload{ClientRef: "p-1", InspectionClientRef: "adhoc-1", ItemID: &item, Slot: "item:brakes", Data: data}
	first, err := f.svc.StorePhoto(ctx, upload)
	if err != nil {
		t.Fatalf("StorePhoto() error = %v", err)
	}
	second, err := f.svc.StorePhoto(ctx, upload)
	if err != nil {
		t.Fatalf("StorePhoto() repeat error = %v", err)
	}
	if first.Duplicate || !second.Duplicate || first.Ref != second.Ref {
		t.Fatalf("StorePhoto() = %+v then %+v", first, second)
	}

	req := completion("adhoc-1", "adhoc-1#1")
	req.Items[0].PhotoRefs = []string{first.Ref}
	resp, err := f.svc.CompleteInspection(ctx, "", req, "insp-1")
	if err != nil {
		t.Fatalf("CompleteInspection() error = %v", err)
	}

	photo, payload, err := f.svc.PhotoPayload(ctx, first.Ref)
	if err != nil {
		t.Fatalf("PhotoPayload() error = %v", err)
	}
	if photo.InspectionID != resp.InspectionID || !bytes.Equal(payload, data) {
		t.Fatalf("PhotoPayload() photo = %+v", photo)
	}
	if !photo.CapturedAt.Equal(time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)) {
		t.Fatalf("captured at = %s, want embedded metadata time", photo.CapturedAt)
	}

	mismatch := ports.PhotoUpload{ClientRef: "p-2", InspectionClientRef: "adhoc-1", Data: data}
	if _, err := f.svc.StorePhoto(ctx, mismatch); !errs.IsValidation(err) {
		t.Fatalf("StorePhoto() metadata mismatch error = %v", err)
	}
	notJPEG := ports.PhotoUpload{ClientRef: "p-3", InspectionClientRef: "adhoc-1", Data: []byte("png?")}
	if _, err := f.svc.StorePhoto(ctx, notJPEG); !errs.IsValidation(err) {
		t.Fatalf("StorePhoto() non-jpeg error = %v", err)
	}
}

func TestStorePhotoRejectsMalformedCaptureMetadata(t *testing.T) {
	f := setupService(t)
	data := testJPEG(t, &capture.Metadata{ClientRef: "p-1", CapturedAt: time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)})
	corrupt := bytes.Replace(data, []byte(`{"client_ref"`), []byte(`["client_ref"`), 1)
	if bytes.Equal(corrupt, data) {
		t.Fatalf("metadata document not found in test image")
	}

	_, err := f.svc.StorePhoto(context.Background(), ports.PhotoUpload{ClientRef: "p-1", InspectionClientRef: "adhoc-1", Data: corrupt})
	if !errs.IsValidation(err) {
		t.Fatalf("StorePhoto() error = %v, want validation error", err)
	}
	if kind := errs.Kind(err); kind != "validation" {
		t.Fatalf("Kind() = %q, want validation", kind)
	}
}

func TestReviewInspectionActions(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	submitted := f.completed(t)

	if _, err := f.svc.ReviewInspection(ctx, ReviewInput{InspectionID: submitted.ID, Action: "APROBAR"}); !errors.Is(err, errs.ErrInvalidAction) {
		t.Fatalf("ReviewInspection() bad action error = %v", err)
	}
	if _, err := f.svc.ReviewInspection(ctx, ReviewInput{InspectionID: "missing", Action: "ACEPTAR"}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("ReviewInspection() missing error = %v", err)
	}
	if _, err := f.svc.ReviewInspection(ctx, ReviewInput{InspectionID: submitted.ID, Action: "RECHAZAR", Comment: "  "}); !errs.IsValidation(err) {
		t.Fatalf("ReviewInspection() reject without comment error = %v", err)
	}

	unchanged, err := f.store.GetSubmitted(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("GetSubmitted() error = %v", err)
	}
	if unchanged.ReviewState != review.StatePending {
		t.Fatalf("review state mutated by rejected call: %s", unchanged.ReviewState)
	}

	rejected, err := f.svc.ReviewInspection(ctx, ReviewInput{InspectionID: submitted.ID, Action: " rechazar ", Comment: "plate photo unreadable", Actor: "admin-1"})
	if err != nil {
		t.Fatalf("ReviewInspection() reject error = %v", err)
	}
	if rejected.ReviewState != review.StateRejected || rejected.Estado != review.EstadoDone {
		t.Fatalf("rejected = %+v", rejected)
	}

	corrected, err := f.svc.ReviewInspection(ctx, ReviewInput{InspectionID: submitted.ID, Action: "CORRECCION", Comment: "retake plate photo", Actor: "admin-1"})
	if err != nil {
		t.Fatalf("ReviewInspection() correction error = %v", err)
	}
	if corrected.ReviewState != review.StateCorrectionRequired || corrected.Estado != review.EstadoInCorrection {
		t.Fatalf("corrected = %+v", corrected)
	}

	score := 70
	result := inspection.ResultObserved
	accepted, err := f.svc.ReviewInspection(ctx, ReviewInput{
		InspectionID: submitted.ID,
		Action:       "ACEPTAR",
		Edits:        &review.Edits{Score: &score, Result: &result},
		Actor:        "admin-1",
	})
	if err != nil {
		t.Fatalf("ReviewInspection() accept error = %v", err)
	}
	if accepted.ReviewState != review.StateAccepted || *accepted.Score != 70 || accepted.Result != inspection.ResultObserved {
		t.Fatalf("accepted = %+v", accepted)
	}

	records, err := f.svc.Reviews(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("Reviews() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Reviews() = %d records, want 3", len(records))
	}
	if got := f.events.types(); len(got) != 4 || got[3] != ports.EventInspectionReviewed {
		t.Fatalf("events = %v", got)
	}
}

func TestReviewInspectionRequiresCompletion(t *testing.T) {
	f := setupService(t)
	scheduled, err := f.svc.ScheduleAssignment(context.Background(), ScheduleInput{
		InspectorID: "insp-1",
		Plate:       "xyz-987",
		ScheduledAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ScheduleAssignment() error = %v", err)
	}
	if _, err := f.svc.ReviewInspection(context.Background(), ReviewInput{InspectionID: scheduled.ID, Action: "ACEPTAR"}); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("ReviewInspection() error = %v, want invalid state", err)
	}
}

func TestOverrideItemRecordsHistoryAndRescores(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	submitted := f.completed(t)

	if _, err := f.svc.OverrideItem(ctx, OverrideInput{
		InspectionID:  submitted.ID,
		ItemID:        "brakes",
		Verdict:       "fail",
		Justification: "too short",
		Actor:         "admin-1",
	}); !errs.IsValidation(err) {
		t.Fatalf("OverrideItem() short justification error = %v", err)
	}
	history, err := f.svc.ItemHistory(ctx, submitted.ID, "brakes")
	if err != nil {
		t.Fatalf("ItemHistory() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("ItemHistory() = %d entries after rejected override", len(history))
	}

	result, err := f.svc.OverrideItem(ctx, OverrideInput{
		InspectionID:  submitted.ID,
		ItemID:        "brakes",
		Verdict:       "fail",
		Justification: "brake pads worn beyond the legal limit",
		Actor:         "admin-1",
	})
	if err != nil {
		t.Fatalf("OverrideItem() error = %v", err)
	}
	if result.Inspection.Result != inspection.ResultRejected {
		t.Fatalf("OverrideItem() result = %s, want RECHAZADO", result.Inspection.Result)
	}
	if result.Item.Effective() != inspection.VerdictFail || result.Item.Verdict != inspection.VerdictPass {
		t.Fatalf("OverrideItem() item = %+v", result.Item)
	}

	if _, err := f.svc.OverrideItem(ctx, OverrideInput{
		InspectionID:  submitted.ID,
		ItemID:        "brakes",
		Verdict:       "pass",
		Justification: "pads replaced and verified on site",
		Actor:         "admin-2",
	}); err != nil {
		t.Fatalf("OverrideItem() second error = %v", err)
	}

	history, err = f.svc.ItemHistory(ctx, submitted.ID, "brakes")
	if err != nil {
		t.Fatalf("ItemHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("ItemHistory() = %d entries, want 2", len(history))
	}
	if *history[0].PriorVerdict != inspection.VerdictPass || history[0].NewVerdict != inspection.VerdictFail {
		t.Fatalf("first entry = %+v", history[0])
	}
	if *history[1].PriorVerdict != inspection.VerdictFail || history[1].NewVerdict != inspection.VerdictPass || history[1].Actor != "admin-2" {
		t.Fatalf("second entry = %+v", history[1])
	}

	detail, err := f.svc.ReviewDetail(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("ReviewDetail() error = %v", err)
	}
	if detail.Result != string(inspection.ResultApproved) {
		t.Fatalf("ReviewDetail() result = %s", detail.Result)
	}
	for _, item := range detail.Items {
		if item.ItemID == "brakes" && (len(item.History) != 2 || !item.Overridden) {
			t.Fatalf("ReviewDetail() brakes = %+v", item)
		}
	}

	if _, err := f.svc.OverrideItem(ctx, OverrideInput{
		InspectionID:  submitted.ID,
		ItemID:        "unknown",
		Verdict:       "fail",
		Justification: "this item does not exist on the form",
		Actor:         "admin-1",
	}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("OverrideItem() unknown item error = %v", err)
	}
}

func TestAssignmentsTodayIncludesCorrections(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	submitted := f.completed(t)

	if _, err := f.svc.ReviewInspection(ctx, ReviewInput{InspectionID: submitted.ID, Action: "CORRECCION", Comment: "retake", Actor: "admin-1"}); err != nil {
		t.Fatalf("ReviewInspection() error = %v", err)
	}
	if _, err := f.svc.ScheduleAssignment(ctx, ScheduleInput{
		InspectorID: "insp-1",
		Plate:       "new-111",
		ScheduledAt: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("ScheduleAssignment() error = %v", err)
	}
	if _, err := f.svc.ScheduleAssignment(ctx, ScheduleInput{
		InspectorID: "insp-2",
		Plate:       "oth-222",
		ScheduledAt: time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("ScheduleAssignment() error = %v", err)
	}

	resp, err := f.svc.AssignmentsToday(ctx, "insp-1", time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("AssignmentsToday() error = %v", err)
	}
	if resp.Date != "2026-03-05" || len(resp.Assignments) != 2 {
		t.Fatalf("AssignmentsToday() = %+v", resp)
	}
	for _, assignment := range resp.Assignments {
		switch assignment.Estado {
		case string(review.EstadoScheduled):
			if assignment.Plate != "NEW111" || len(assignment.Items) != 0 {
				t.Fatalf("scheduled assignment = %+v", assignment)
			}
		case string(review.EstadoInCorrection):
			if assignment.ID != submitted.ID || len(assignment.Items) != 2 || assignment.ReviewComment != "retake" {
				t.Fatalf("correction assignment = %+v", assignment)
			}
		default:
			t.Fatalf("unexpected assignment = %+v", assignment)
		}
	}
}
