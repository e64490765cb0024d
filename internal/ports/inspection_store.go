package ports

import (
	"context"

	"fleetinspect/internal/domain/inspection"
)

type InspectionFilter struct {
	States        []inspection.SyncState
	InspectorID   string
	AssignmentIDs []string
}

// PhotoFilter selects current photos of one inspection, of one item, or
// both. At least one of InspectionID and ItemID is required.
type PhotoFilter struct {
	InspectionID uint64
	ItemID       *string
	Slot         string
}

// InspectionStore is the LocalStore surface for inspections, verdicts,
// photos and the local change history. Every call picks up the transaction
// carried in ctx by UnitOfWork.
type InspectionStore interface {
	CreateInspection(ctx context.Context, in inspection.Inspection) (inspection.Inspection, error)
	GetInspection(ctx context.Context, id uint64) (inspection.Inspection, error)
	GetInspectionByRemoteID(ctx context.Context, remoteID string) (inspection.Inspection, error)
	UpdateInspection(ctx context.Context, in inspection.Inspection) error
	DeleteInspection(ctx context.Context, id uint64) error
	ListInspections(ctx context.Context, filter InspectionFilter) ([]inspection.Inspection, error)

	UpsertVerdict(ctx context.Context, verdict inspection.ItemVerdict) (inspection.ItemVerdict, error)
	GetVerdict(ctx context.Context, inspectionID uint64, itemID string) (inspection.ItemVerdict, error)
	ClearOverride(ctx context.Context, verdictID uint64) error
	ListVerdicts(ctx context.Context, inspectionID uint64) ([]inspection.ItemVerdict, error)

	CreatePhoto(ctx context.Context, photo inspection.Photo) (inspection.Photo, error)
	GetPhoto(ctx context.Context, id uint64) (inspection.Photo, error)
	ListCurrentPhotos(ctx context.Context, filter PhotoFilter) ([]inspection.Photo, error)
	SupersedePhotos(ctx context.Context, inspectionID uint64, slot string) (int64, error)
	SetPhotoRemoteRef(ctx context.Context, photoID uint64, remoteRef string) error

	AppendHistory(ctx context.Context, entry inspection.HistoryEntry) (bool, error)
	ListHistory(ctx context.Context, itemVerdictID uint64) ([]inspection.HistoryEntry, error)
}
