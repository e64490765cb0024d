package bootstrap

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/fx"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/usecase/backoffice"
	"fleetinspect/internal/usecase/inspector"
	"fleetinspect/internal/usecase/syncengine"
)

func useTempState(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("FI_DATABASE_DSN", filepath.Join(dir, "local.sqlite"))
	t.Setenv("FI_STORAGE_BLOB_DIR", filepath.Join(dir, "blobs"))
	t.Setenv("FI_SERVER_DATABASE_DSN", filepath.Join(dir, "server.sqlite"))
	t.Setenv("FI_SERVER_BLOB_DIR", filepath.Join(dir, "server-blobs"))
	t.Setenv("FI_APP_INSPECTOR_ID", "insp-1")
	return dir
}

func TestModuleGraphsValidate(t *testing.T) {
	ctx := context.Background()

	var engine *syncengine.Engine
	if err := fx.ValidateApp(Module, AgentRuntime, Inputs(ctx, ""), fx.Populate(&engine)); err != nil {
		t.Fatalf("ValidateApp(Module) error = %v", err)
	}

	var server *http.Server
	if err := fx.ValidateApp(ServerModule, ServerRuntime, Inputs(ctx, ""), fx.Populate(&server)); err != nil {
		t.Fatalf("ValidateApp(ServerModule) error = %v", err)
	}
}

func TestModuleRunsOfflineWithoutSyncURL(t *testing.T) {
	useTempState(t)
	ctx := context.Background()

	var app *App
	var svc *inspector.Service
	fxApp := fx.New(Module, Inputs(ctx, ""), fx.NopLogger, fx.Populate(&app, &svc))
	if err := fxApp.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = fxApp.Stop(stopCtx)
	})

	applied, err := app.InitSchema(ctx)
	if err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	if len(applied) == 0 {
		t.Fatalf("InitSchema() applied nothing on a fresh store")
	}
	version, err := app.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != applied[len(applied)-1] {
		t.Fatalf("SchemaVersion() = %d, want %d", version, applied[len(applied)-1])
	}

	started, err := svc.StartAdhocInspection(ctx, inspector.AdhocInput{
		Plate:       "ABC-123",
		VehicleType: "truck",
		ClientName:  "Acme",
	})
	if err != nil {
		t.Fatalf("StartAdhocInspection() error = %v", err)
	}
	if started.SyncState != inspection.StateInProgress {
		t.Fatalf("state = %s, want in_progress", started.SyncState)
	}
}

func TestSyncEngineRequiresBaseURL(t *testing.T) {
	useTempState(t)
	ctx := context.Background()

	var engine *syncengine.Engine
	fxApp := fx.New(Module, Inputs(ctx, ""), fx.NopLogger, fx.Populate(&engine))
	if err := fxApp.Err(); err == nil {
		t.Fatalf("fx.New() error = nil, want missing sync.base_url")
	}
}

func TestServerModuleMigratesAndSchedules(t *testing.T) {
	useTempState(t)
	t.Setenv("FI_SERVER_JWT_SECRET", "test-secret")
	ctx := context.Background()

	var app *ServerApp
	var svc *backoffice.Service
	var handler http.Handler
	fxApp := fx.New(ServerModule, Inputs(ctx, ""), fx.NopLogger, fx.Populate(&app, &svc, &handler))
	if err := fxApp.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = fxApp.Stop(stopCtx)
	})

	if _, err := app.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	assigned, err := svc.ScheduleAssignment(ctx, backoffice.ScheduleInput{
		InspectorID: "insp-1",
		Plate:       "XYZ-987",
		VehicleType: "van",
		ClientName:  "Acme",
	})
	if err != nil {
		t.Fatalf("ScheduleAssignment() error = %v", err)
	}
	if assigned.ID == "" {
		t.Fatalf("ScheduleAssignment() returned empty id")
	}
	if handler == nil {
		t.Fatalf("router was not built")
	}
}
