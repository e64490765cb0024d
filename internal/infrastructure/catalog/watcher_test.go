package catalog

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"fleetinspect/internal/domain/scoring"
)

const trucksCatalog = `
version = 1

[[templates]]
code = "trucks"
name = "Camiones"

[templates.thresholds]
approve = 90
observe = 70

[[templates.items]]
id = "brakes"
label = "Frenos"
tier = "critical"
`

const busesCatalog = `
version = 1

[[templates]]
code = "buses"
name = "Buses"

[[templates.items]]
id = "doors"
label = "Puertas"
tier = "safety"
`

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatcherLoadAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checklists.toml")
	writeFile(t, path, trucksCatalog)

	catalog := scoring.NewCatalog()
	w := NewWatcher(path, catalog)
	w.debounce = 10 * time.Millisecond
	if err := w.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := catalog.Codes(); !slices.Equal(got, []string{"general", "trucks"}) {
		t.Fatalf("Codes() = %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// fsnotify registers the directory asynchronously with Run.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, busesCatalog)
	waitFor(t, "buses template", func() bool {
		_, err := catalog.Get("buses")
		return err == nil
	})
	if _, err := catalog.Get("trucks"); err == nil {
		t.Fatalf("trucks template still present after reload")
	}

	writeFile(t, path, "version = 2")
	time.Sleep(200 * time.Millisecond)
	if _, err := catalog.Get("buses"); err != nil {
		t.Fatalf("invalid file replaced the catalog: %v", err)
	}
}

func TestWatcherLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checklists.toml")
	writeFile(t, path, "version = 1\n[[templates]]\ncode = \"x\"\n[[templates.items]]\nid = \"a\"\ntier = \"severe\"\n")

	catalog := scoring.NewCatalog()
	if err := NewWatcher(path, catalog).Load(context.Background()); err == nil {
		t.Fatalf("Load() error = nil, want tier error")
	}
	if got := catalog.Codes(); !slices.Equal(got, []string{"general"}) {
		t.Fatalf("Codes() = %v", got)
	}
}
