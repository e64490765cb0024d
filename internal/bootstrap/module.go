package bootstrap

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"fleetinspect/internal/bootstrap/config"
	"fleetinspect/internal/bootstrap/database"
	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/scoring"
	"fleetinspect/internal/domain/syncqueue"
	"fleetinspect/internal/infrastructure/auth"
	"fleetinspect/internal/infrastructure/blob"
	cacheinfra "fleetinspect/internal/infrastructure/cache"
	catalogfile "fleetinspect/internal/infrastructure/catalog"
	"fleetinspect/internal/infrastructure/device"
	sqliterepo "fleetinspect/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "fleetinspect/internal/infrastructure/persistence/sqlite/uow"
	"fleetinspect/internal/infrastructure/remote"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/usecase/capture"
	"fleetinspect/internal/usecase/inspector"
	"fleetinspect/internal/usecase/syncengine"
)

// Module wires the inspector agent. Remote collaborators are only built when
// a command asks for the sync engine, so offline commands work without
// sync.base_url.
var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(
		fx.Annotate(
			provideLocalBlobs,
			fx.As(new(ports.BlobStore)),
		),
	),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewInspectionRepository,
			fx.As(new(ports.InspectionStore)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewSyncQueueRepository,
			fx.As(new(ports.SyncQueueStore)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(provideCatalog),
	fx.Provide(
		fx.Annotate(
			provideCaptureProvider,
			fx.As(new(ports.CaptureProvider)),
		),
	),
	fx.Provide(provideCaptureService),
	fx.Provide(provideInspectorService),
	fx.Provide(provideCredentials),
	fx.Provide(provideRemoteClient),
	fx.Provide(func(client *remote.Client) ports.RemoteAPI { return client }),
	fx.Provide(provideMonitor),
	fx.Provide(provideEventListener),
	fx.Provide(provideRegistry),
	fx.Provide(provideSyncMetrics),
	fx.Provide(provideSyncEngine),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	return openDatabase(lc, ctx, cfg.Database)
}

func openDatabase(lc fx.Lifecycle, ctx context.Context, dbCfg config.DatabaseConfig) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, dbCfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return database.Close(db)
		},
	})

	return db, nil
}

func provideLocalBlobs(cfg config.Config) (*blob.FileStore, error) {
	return blob.NewFileStore(cfg.Storage.BlobDir)
}

func provideApp(cfg config.Config, db *gorm.DB, blobs ports.BlobStore) *App {
	return &App{
		Config: cfg,
		DB:     db,
		Blobs:  blobs,
	}
}

type catalogResult struct {
	fx.Out

	Catalog *scoring.Catalog
	// Watcher is nil when no checklist file is configured.
	Watcher *catalogfile.Watcher
}

func provideCatalog(ctx context.Context, cfg config.Config) (catalogResult, error) {
	catalog := scoring.NewCatalog()
	path := strings.TrimSpace(cfg.Checklist.File)
	if path == "" {
		return catalogResult{Catalog: catalog}, nil
	}

	watcher := catalogfile.NewWatcher(path, catalog)
	if err := watcher.Load(logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))); err != nil {
		return catalogResult{}, err
	}
	return catalogResult{Catalog: catalog, Watcher: watcher}, nil
}

// DeviceSettings feeds the file-backed camera and static locator. Commands
// that capture supply it; without it every capture reports cancellation.
type DeviceSettings struct {
	ImagePath   string
	Coordinates *ports.Coordinates
}

type deviceParams struct {
	fx.In

	Settings *DeviceSettings `optional:"true"`
}

func provideCaptureProvider(p deviceParams) *device.Provider {
	if p.Settings == nil {
		return device.NewFileProvider("", nil)
	}
	return device.NewFileProvider(p.Settings.ImagePath, p.Settings.Coordinates)
}

func provideCaptureService(provider ports.CaptureProvider, cfg config.Config) *capture.Service {
	defaults := capture.DefaultConfig()
	return capture.NewService(provider, capture.Config{
		MaxDimension:       cfg.Capture.MaxDimension,
		JPEGQuality:        cfg.Capture.JPEGQuality,
		ThumbnailDimension: cfg.Capture.ThumbnailDimension,
		ThumbnailQuality:   defaults.ThumbnailQuality,
		GPSTimeout:         cfg.Capture.GPSTimeout,
	})
}

type inspectorParams struct {
	fx.In

	Config  config.Config
	Store   ports.InspectionStore
	Queue   ports.SyncQueueStore
	UOW     ports.UnitOfWork
	Blobs   ports.BlobStore
	Catalog *scoring.Catalog
	Capture *capture.Service
}

func provideInspectorService(p inspectorParams) *inspector.Service {
	return inspector.NewService(
		p.Store,
		p.Queue,
		p.UOW,
		p.Blobs,
		p.Catalog,
		p.Capture,
		inspector.Config{InspectorID: p.Config.App.InspectorID},
	)
}

// provideCredentials prefers a configured token. On a single host the agent
// can sign its own inspector token with the server secret instead.
func provideCredentials(cfg config.Config) ports.CredentialSource {
	if token := strings.TrimSpace(cfg.Sync.Token); token != "" {
		return remote.StaticToken(token)
	}
	if secret := strings.TrimSpace(cfg.Server.JWTSecret); secret != "" && cfg.App.InspectorID != "" {
		return &remote.Signer{
			Secret:  secret,
			Subject: cfg.App.InspectorID,
			Role:    auth.RoleInspector,
			TTL:     time.Hour,
		}
	}
	return remote.StaticToken("")
}

func provideRemoteClient(cfg config.Config, creds ports.CredentialSource) (*remote.Client, error) {
	return remote.NewClient(remote.Config{
		BaseURL:        cfg.Sync.BaseURL,
		RequestTimeout: cfg.Sync.RequestTimeout,
		RatePerSecond:  cfg.Sync.RatePerSecond,
	}, creds, nil)
}

func provideMonitor(client *remote.Client, cfg config.Config) *remote.Monitor {
	return remote.NewMonitor(client, cfg.Sync.HealthInterval)
}

// provideEventListener returns nil when push events are disabled.
func provideEventListener(cfg config.Config, creds ports.CredentialSource) (*remote.EventListener, error) {
	if !cfg.Sync.Events {
		return nil, nil
	}
	return remote.NewEventListener(cfg.Sync.BaseURL, creds)
}

func provideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func provideSyncMetrics(reg *prometheus.Registry) *syncengine.Metrics {
	return syncengine.NewMetrics(reg)
}

type syncEngineParams struct {
	fx.In

	Config  config.Config
	Store   ports.InspectionStore
	Queue   ports.SyncQueueStore
	UOW     ports.UnitOfWork
	Blobs   ports.BlobStore
	Remote  ports.RemoteAPI
	Cache   ports.Cache
	Metrics *syncengine.Metrics
}

func provideSyncEngine(p syncEngineParams) *syncengine.Engine {
	return syncengine.New(
		p.Store,
		p.Queue,
		p.UOW,
		p.Blobs,
		p.Remote,
		p.Cache,
		p.Metrics,
		syncengine.Config{
			InspectorID: p.Config.App.InspectorID,
			Interval:    p.Config.Sync.Interval,
			BatchSize:   p.Config.Sync.BatchSize,
			Retry: syncqueue.RetryPolicy{
				MaxAttempts: p.Config.Sync.MaxAttempts,
				Initial:     p.Config.Sync.BackoffInitial,
				Max:         p.Config.Sync.BackoffMax,
			},
		},
	)
}

// Inputs supplies the values every module expects from the caller.
func Inputs(ctx context.Context, configFile string) fx.Option {
	return fx.Options(
		fx.Provide(func() context.Context { return ctx }),
		fx.Provide(
			fx.Annotate(
				func() string { return configFile },
				fx.ResultTags(`name:"configFile"`),
			),
		),
	)
}
