package backoffice

import (
	"context"
	"errors"
	"time"

	"fleetinspect/internal/domain/scoring"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

// Service is the remote system of record: it schedules assignments, accepts
// completions and photos from inspectors, and hosts the admin review and
// override workflow.
type Service struct {
	store   ports.BackOfficeStore
	uow     ports.UnitOfWork
	blobs   ports.BlobStore
	catalog *scoring.Catalog
	events  ports.EventPublisher
	now     func() time.Time
}

func NewService(
	store ports.BackOfficeStore,
	uow ports.UnitOfWork,
	blobs ports.BlobStore,
	catalog *scoring.Catalog,
	events ports.EventPublisher,
) *Service {
	return &Service{
		store:   store,
		uow:     uow,
		blobs:   blobs,
		catalog: catalog,
		events:  events,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) check(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	if s.store == nil {
		return errors.New("back office store is required")
	}
	if s.uow == nil {
		return errors.New("unit of work is required")
	}
	if s.catalog == nil {
		return errors.New("checklist catalog is required")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, inspectionID string, inspectorID string) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, ports.Event{
		Type:         eventType,
		InspectionID: inspectionID,
		InspectorID:  inspectorID,
		At:           s.now(),
	})
}
