package inspector

import (
	"context"
	"errors"
	"strings"
	"time"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/scoring"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/usecase/capture"
)

// Slot names for inspection-level photos. Item photos use inspection.ItemSlot.
const (
	SlotGeneral   = "general"
	SlotPlate     = "plate"
	SlotSignature = "signature"
)

type Config struct {
	InspectorID string
}

// Service holds the inspector-side use cases over the local store. Every
// multi-record write goes through the unit of work.
type Service struct {
	store   ports.InspectionStore
	queue   ports.SyncQueueStore
	uow     ports.UnitOfWork
	blobs   ports.BlobStore
	catalog *scoring.Catalog
	capture *capture.Service
	cfg     Config
	now     func() time.Time
}

func NewService(
	store ports.InspectionStore,
	queue ports.SyncQueueStore,
	uow ports.UnitOfWork,
	blobs ports.BlobStore,
	catalog *scoring.Catalog,
	captureService *capture.Service,
	cfg Config,
) *Service {
	return &Service{
		store:   store,
		queue:   queue,
		uow:     uow,
		blobs:   blobs,
		catalog: catalog,
		capture: captureService,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type AdhocInput struct {
	Plate        string
	VehicleType  string
	BodyClass    string
	ClientName   string
	TemplateCode string
}

type RecordVerdictInput struct {
	InspectionID uint64
	ItemID       string
	Verdict      string
	Observation  string
	NAReason     string
}

type AttachPhotoInput struct {
	InspectionID uint64
	ItemID       *string
	Slot         string
	Artifact     *capture.Artifact
}

type CapturePhotoInput struct {
	InspectionID uint64
	ItemID       *string
	Slot         string
	Facing       ports.Facing
}

type FinalizeInput struct {
	InspectionID uint64
	Signature    []byte
	Observations string
}

type Detail struct {
	Inspection inspection.Inspection
	Template   scoring.Template
	Verdicts   []inspection.ItemVerdict
	Photos     []inspection.Photo
	History    map[string][]inspection.HistoryEntry
	Outcome    scoring.Outcome
}

type ListItem struct {
	Inspection inspection.Inspection
	Outcome    scoring.Outcome
}

func (s *Service) check(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	if s.store == nil {
		return errors.New("inspection store is required")
	}
	if s.uow == nil {
		return errors.New("unit of work is required")
	}
	if s.catalog == nil {
		return errors.New("checklist catalog is required")
	}
	return nil
}

func (s *Service) inspectorID(explicit string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	return strings.TrimSpace(s.cfg.InspectorID)
}

// ensureNoOtherInProgress enforces one in-progress inspection per inspector.
// It must run inside the transaction that moves an inspection to in_progress.
func (s *Service) ensureNoOtherInProgress(ctx context.Context, inspectorID string, self uint64) error {
	active, err := s.store.ListInspections(ctx, ports.InspectionFilter{
		States:      []inspection.SyncState{inspection.StateInProgress},
		InspectorID: inspectorID,
	})
	if err != nil {
		return err
	}
	for _, other := range active {
		if other.ID != self {
			return errs.Wrapf(errs.ErrInspectionInProgress, "inspection %d", other.ID)
		}
	}
	return nil
}

func (s *Service) requireInProgress(ctx context.Context, id uint64) (inspection.Inspection, error) {
	current, err := s.store.GetInspection(ctx, id)
	if err != nil {
		return inspection.Inspection{}, err
	}
	if current.SyncState != inspection.StateInProgress {
		return inspection.Inspection{}, errs.Wrapf(errs.ErrInvalidState, "inspection %d is %s", id, current.SyncState)
	}
	return current, nil
}
