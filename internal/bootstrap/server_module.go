package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"fleetinspect/internal/bootstrap/config"
	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/infrastructure/blob"
	sqliterepo "fleetinspect/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "fleetinspect/internal/infrastructure/persistence/sqlite/uow"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/transport/httpapi"
	"fleetinspect/internal/usecase/backoffice"
)

// ServerModule wires the back office. The HTTP listener itself is started by
// ServerRuntime so admin commands can reuse the wiring without serving.
var ServerModule = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideServerDatabase),
	fx.Provide(provideServerBlobs),
	fx.Provide(provideServerApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewBackOfficeRepository,
			fx.As(new(ports.BackOfficeStore)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(provideCatalog),
	fx.Provide(httpapi.NewHub),
	fx.Provide(func(hub *httpapi.Hub) ports.EventPublisher { return hub }),
	fx.Provide(backoffice.NewService),
	fx.Provide(provideRegistry),
	fx.Provide(provideHTTPMetrics),
	fx.Provide(provideRouter),
	fx.Provide(provideHTTPServer),
)

func provideServerDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	return openDatabase(lc, ctx, cfg.Server.Database)
}

func provideServerBlobs(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (ports.BlobStore, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	switch strings.ToLower(cfg.Server.Blob.Backend) {
	case "", "fs":
		store, err := blob.NewFileStore(cfg.Server.Blob.Dir)
		if err != nil {
			return nil, err
		}
		logging.Info(logCtx, "photo blobs on filesystem", slog.String("dir", cfg.Server.Blob.Dir))
		return store, nil
	case "gcs":
		store, err := blob.NewGCSStore(ctx, cfg.Server.Blob.Bucket, cfg.Server.Blob.CredentialsFile)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				return store.Close()
			},
		})
		logging.Info(logCtx, "photo blobs on cloud storage", slog.String("bucket", cfg.Server.Blob.Bucket))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.Server.Blob.Backend)
	}
}

func provideServerApp(cfg config.Config, db *gorm.DB, blobs ports.BlobStore) *ServerApp {
	return &ServerApp{
		Config: cfg,
		DB:     db,
		Blobs:  blobs,
	}
}

func provideHTTPMetrics(reg *prometheus.Registry) *httpapi.Metrics {
	return httpapi.NewMetrics(reg)
}

type routerParams struct {
	fx.In

	Config   config.Config
	Service  *backoffice.Service
	Hub      *httpapi.Hub
	Metrics  *httpapi.Metrics
	Registry *prometheus.Registry
}

func provideRouter(p routerParams) (http.Handler, error) {
	return httpapi.NewRouter(httpapi.Config{
		Secret:        p.Config.Server.JWTSecret,
		RatePerSecond: p.Config.Server.RatePerSecond,
		Burst:         p.Config.Server.RateBurst,
		TrustProxy:    p.Config.Server.TrustProxy,
	}, p.Service, p.Hub, p.Metrics, p.Registry)
}

func provideHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
