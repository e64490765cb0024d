package ports

import (
	"context"
	"time"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/review"
)

type SubmittedFilter struct {
	InspectorID string
	From        *time.Time
	To          *time.Time
	Estados     []review.Estado
	ReviewState review.State
}

// BackOfficeStore is the remote system of record used by intake and review.
type BackOfficeStore interface {
	CreateSubmitted(ctx context.Context, in review.Submitted) (review.Submitted, error)
	GetSubmitted(ctx context.Context, id string) (review.Submitted, error)
	GetSubmittedByClientRef(ctx context.Context, clientRef string) (review.Submitted, error)
	UpdateSubmitted(ctx context.Context, in review.Submitted) error
	ListSubmitted(ctx context.Context, filter SubmittedFilter) ([]review.Submitted, error)

	ReplaceItems(ctx context.Context, inspectionID string, items []review.Item) error
	ListItems(ctx context.Context, inspectionID string) ([]review.Item, error)
	GetItem(ctx context.Context, inspectionID string, itemID string) (review.Item, error)
	SetItemOverride(ctx context.Context, itemPK uint64, verdict inspection.Verdict) error

	// AppendItemHistory is the only write the history table accepts.
	AppendItemHistory(ctx context.Context, entry inspection.HistoryEntry) (inspection.HistoryEntry, error)
	ListItemHistory(ctx context.Context, itemPK uint64) ([]inspection.HistoryEntry, error)

	AppendReview(ctx context.Context, record review.Record) (review.Record, error)
	ListReviews(ctx context.Context, inspectionID string) ([]review.Record, error)

	// StorePhoto is idempotent by client ref; created is false for a repeat.
	StorePhoto(ctx context.Context, photo review.Photo) (stored review.Photo, created bool, err error)
	GetPhotoByRef(ctx context.Context, ref string) (review.Photo, error)
	ListPhotos(ctx context.Context, inspectionID string) ([]review.Photo, error)
	AttachPhotos(ctx context.Context, inspectionClientRef string, inspectionID string) (int64, error)
}
