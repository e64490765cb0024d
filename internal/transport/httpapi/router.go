package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/review"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/infrastructure/auth"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/usecase/backoffice"
)

const (
	defaultMaxBody = 1 << 20
	// Photos travel base64 encoded inside JSON.
	defaultMaxPhotoBody = 24 << 20
)

type Config struct {
	Secret        string
	RatePerSecond float64
	Burst         int
	MaxBodyBytes  int64
	MaxPhotoBytes int64
	TrustProxy    bool
}

// BackOffice is the use-case surface served over HTTP.
type BackOffice interface {
	ScheduleAssignment(ctx context.Context, input backoffice.ScheduleInput) (review.Submitted, error)
	AssignmentsToday(ctx context.Context, inspectorID string, day time.Time) (ports.AssignmentsResponse, error)
	CompleteInspection(ctx context.Context, remoteID string, req ports.CompletionRequest, actor string) (ports.CompletionResponse, error)
	StorePhoto(ctx context.Context, upload ports.PhotoUpload) (ports.PhotoUploadResponse, error)
	PhotoPayload(ctx context.Context, ref string) (review.Photo, []byte, error)
	ListSubmitted(ctx context.Context, filter ports.SubmittedFilter) ([]review.Submitted, error)
	ReviewDetail(ctx context.Context, id string) (ports.ReviewDetail, error)
	ReviewInspection(ctx context.Context, input backoffice.ReviewInput) (review.Submitted, error)
	OverrideItem(ctx context.Context, input backoffice.OverrideInput) (backoffice.OverrideResult, error)
	ItemHistory(ctx context.Context, inspectionID string, itemID string) ([]inspection.HistoryEntry, error)
}

type handler struct {
	cfg     Config
	svc     BackOffice
	hub     *Hub
	metrics *Metrics
	limiter *rateLimiter
	now     func() time.Time
}

// NewRouter builds the back office API. hub and gatherer are optional.
func NewRouter(cfg Config, svc BackOffice, hub *Hub, metrics *Metrics, gatherer prometheus.Gatherer) (http.Handler, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errs.Validation("server.jwt_secret", "is required")
	}
	if svc == nil {
		return nil, errors.New("back office service is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.MaxPhotoBytes <= 0 {
		cfg.MaxPhotoBytes = defaultMaxPhotoBody
	}

	h := &handler{
		cfg:     cfg,
		svc:     svc,
		hub:     hub,
		metrics: metrics,
		limiter: newRateLimiter(cfg.RatePerSecond, cfg.Burst),
		now:     func() time.Time { return time.Now().UTC() },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(h.observe)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(h.limiter.middleware)
		api.Use(h.authenticate)

		api.Get("/events", h.events)

		api.Group(func(staff chi.Router) {
			staff.Use(requireRole(auth.RoleInspector, auth.RoleAdmin))
			staff.Get("/assignments/today", h.assignmentsToday)
		})

		api.Group(func(inspector chi.Router) {
			inspector.Use(requireRole(auth.RoleInspector))
			inspector.Post("/inspections/complete", h.completeInspection)
			inspector.Post("/inspections/{id}/complete", h.completeInspection)
			inspector.Post("/photos", h.uploadPhoto)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(requireRole(auth.RoleAdmin))
			admin.Post("/assignments", h.scheduleAssignment)
			admin.Get("/inspections", h.listInspections)
			admin.Get("/inspections/{id}/review", h.reviewDetail)
			admin.Post("/inspections/{id}/review", h.reviewInspection)
			admin.Post("/inspections/{id}/items/{itemID}/override", h.overrideItem)
			admin.Get("/inspections/{id}/items/{itemID}/history", h.itemHistory)
			admin.Get("/photos/{ref}", h.photo)
		})
	})

	return r, nil
}
