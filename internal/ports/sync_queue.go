package ports

import (
	"context"
	"time"

	"fleetinspect/internal/domain/syncqueue"
)

type QueueEntryCreate struct {
	Kind         syncqueue.Kind
	Ref          string
	InspectionID uint64
	Payload      []byte
}

type QueueFilter struct {
	Statuses     []syncqueue.Status
	InspectionID uint64
	Kind         syncqueue.Kind
}

type QueueFailure struct {
	Status        syncqueue.Status
	Attempts      int
	AttemptedAt   time.Time
	NextAttemptAt time.Time
	LastError     string
}

type QueueStats struct {
	Pending  int64
	InFlight int64
	Failed   int64
}

// SyncQueueStore is the durable outbound queue.
type SyncQueueStore interface {
	// Enqueue is idempotent per (kind, ref); created is false for a repeat.
	Enqueue(ctx context.Context, input QueueEntryCreate) (entry syncqueue.Entry, created bool, err error)
	GetEntry(ctx context.Context, id uint64) (syncqueue.Entry, error)
	ListDispatchable(ctx context.Context, now time.Time, limit int) ([]syncqueue.Entry, error)
	ListEntries(ctx context.Context, filter QueueFilter) ([]syncqueue.Entry, error)
	CountOutstanding(ctx context.Context, inspectionID uint64, kind syncqueue.Kind) (int64, error)
	MarkInFlight(ctx context.Context, id uint64, at time.Time) error
	RecordFailure(ctx context.Context, id uint64, failure QueueFailure) error
	Delete(ctx context.Context, id uint64) error
	ResetInFlight(ctx context.Context) (int64, error)
	Resurface(ctx context.Context, id uint64, at time.Time) error
	Stats(ctx context.Context) (QueueStats, error)
}
