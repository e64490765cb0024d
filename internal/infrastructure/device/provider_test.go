package device

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"fleetinspect/internal/ports"
)

func TestFileCameraDecodesImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create frame: %v", err)
	}
	if err := png.Encode(file, image.NewRGBA(image.Rect(0, 0, 40, 30))); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	_ = file.Close()

	provider := NewFileProvider(path, nil)
	img, err := provider.Camera().Acquire(context.Background(), ports.FacingRear)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if img.Bounds().Dx() != 40 {
		t.Fatalf("Acquire() width = %d", img.Bounds().Dx())
	}
	if _, err := provider.Locator().Locate(context.Background()); !errors.Is(err, ports.ErrLocationUnavailable) {
		t.Fatalf("Locate() error = %v", err)
	}
}

func TestFileCameraEmptyPathIsCancellation(t *testing.T) {
	if _, err := (FileCamera{}).Acquire(context.Background(), ports.FacingRear); !errors.Is(err, ports.ErrCaptureCancelled) {
		t.Fatalf("Acquire() error = %v", err)
	}
}

func TestStaticLocatorRejectsOutOfRange(t *testing.T) {
	locator := StaticLocator{Coordinates: &ports.Coordinates{Latitude: 120}}
	if _, err := locator.Locate(context.Background()); !errors.Is(err, ports.ErrLocationUnavailable) {
		t.Fatalf("Locate() error = %v", err)
	}
}
