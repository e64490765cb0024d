package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

type fakeCamera struct {
	frame image.Image
	err   error
	delay time.Duration
}

func (c fakeCamera) Acquire(ctx context.Context, _ ports.Facing) (image.Image, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.frame, c.err
}

type fakeLocator struct {
	coords ports.Coordinates
	err    error
	block  bool
	delay  time.Duration
}

func (l fakeLocator) Locate(ctx context.Context) (ports.Coordinates, error) {
	if l.block {
		<-ctx.Done()
		return ports.Coordinates{}, ctx.Err()
	}
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return ports.Coordinates{}, ctx.Err()
		}
	}
	return l.coords, l.err
}

type fakeProvider struct {
	camera  ports.Camera
	locator ports.Locator
}

func (p fakeProvider) Camera() ports.Camera   { return p.camera }
func (p fakeProvider) Locator() ports.Locator { return p.locator }

func testFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x += 7 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	return img
}

func fixedService(provider ports.CaptureProvider, cfg Config) *Service {
	svc := NewService(provider, cfg)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC) }
	return svc
}

func TestCaptureFullSuccess(t *testing.T) {
	itemID := "tyres"
	svc := fixedService(fakeProvider{
		camera:  fakeCamera{frame: testFrame(3200, 2400)},
		locator: fakeLocator{coords: ports.Coordinates{Latitude: -33.4489, Longitude: -70.6693}},
	}, DefaultConfig())

	artifact, err := svc.Capture(context.Background(), Request{InspectionRef: "c-1", ItemID: &itemID})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if artifact == nil {
		t.Fatalf("Capture() returned nil artifact")
	}
	if !artifact.GPSAvailable || !artifact.Annotated {
		t.Fatalf("Capture() gps=%v annotated=%v", artifact.GPSAvailable, artifact.Annotated)
	}
	if artifact.Width != 1600 || artifact.Height != 1200 {
		t.Fatalf("Capture() size = %dx%d", artifact.Width, artifact.Height)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(artifact.Data))
	if err != nil {
		t.Fatalf("decode capture: %v", err)
	}
	if decoded.Bounds().Dx() != 1600 {
		t.Fatalf("decoded width = %d", decoded.Bounds().Dx())
	}

	thumb, err := jpeg.Decode(bytes.NewReader(artifact.Thumbnail))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if thumb.Bounds().Dx() != 240 || thumb.Bounds().Dy() != 180 {
		t.Fatalf("thumbnail size = %v", thumb.Bounds())
	}

	meta, ok, err := ReadMetadata(artifact.Data)
	if err != nil || !ok {
		t.Fatalf("ReadMetadata() = %v, %v", ok, err)
	}
	if meta.ClientRef != artifact.ClientRef || meta.ItemID != "tyres" || meta.InspectionRef != "c-1" {
		t.Fatalf("ReadMetadata() = %+v", meta)
	}
	if meta.Latitude != -33.4489 || !meta.CapturedAt.Equal(artifact.CapturedAt) {
		t.Fatalf("ReadMetadata() position/time = %+v", meta)
	}
}

func TestCaptureWithoutGPSUsesSentinel(t *testing.T) {
	svc := fixedService(fakeProvider{
		camera:  fakeCamera{frame: testFrame(800, 600)},
		locator: fakeLocator{err: ports.ErrLocationUnavailable},
	}, DefaultConfig())

	artifact, err := svc.Capture(context.Background(), Request{InspectionRef: "c-1"})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if artifact.GPSAvailable {
		t.Fatalf("Capture() gps available without a fix")
	}
	if artifact.Coordinates != (ports.Coordinates{}) {
		t.Fatalf("Capture() coordinates = %+v", artifact.Coordinates)
	}
	if artifact.Width != 800 {
		t.Fatalf("Capture() resized a small frame to %d", artifact.Width)
	}

	meta, ok, err := ReadMetadata(artifact.Data)
	if err != nil || !ok {
		t.Fatalf("ReadMetadata() = %v, %v", ok, err)
	}
	if meta.GPSAvailable || meta.Latitude != 0 || meta.Longitude != 0 {
		t.Fatalf("ReadMetadata() = %+v", meta)
	}
}

func TestCaptureGPSTimeoutDoesNotBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GPSTimeout = 20 * time.Millisecond
	svc := fixedService(fakeProvider{
		camera:  fakeCamera{frame: testFrame(320, 240)},
		locator: fakeLocator{block: true},
	}, cfg)

	started := time.Now()
	artifact, err := svc.Capture(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if artifact.GPSAvailable {
		t.Fatalf("Capture() gps available after timeout")
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("Capture() took %s", elapsed)
	}
}

func TestCaptureGPSBudgetStartsWhenFrameIsTaken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GPSTimeout = 50 * time.Millisecond
	svc := fixedService(fakeProvider{
		camera:  fakeCamera{frame: testFrame(320, 240), delay: 250 * time.Millisecond},
		locator: fakeLocator{coords: ports.Coordinates{Latitude: -12.0464, Longitude: -77.0428}, delay: 120 * time.Millisecond},
	}, cfg)

	artifact, err := svc.Capture(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if !artifact.GPSAvailable || artifact.Coordinates.Latitude != -12.0464 {
		t.Fatalf("Capture() gps = %v %+v, want fix obtained while the camera was open", artifact.GPSAvailable, artifact.Coordinates)
	}
}

func TestCaptureCameraFailure(t *testing.T) {
	svc := fixedService(fakeProvider{
		camera:  fakeCamera{err: errors.New("permission denied")},
		locator: fakeLocator{},
	}, DefaultConfig())

	artifact, err := svc.Capture(context.Background(), Request{})
	if artifact != nil {
		t.Fatalf("Capture() artifact = %+v", artifact)
	}
	var captureErr *errs.CaptureError
	if !errors.As(err, &captureErr) || captureErr.Stage != "camera" {
		t.Fatalf("Capture() error = %v", err)
	}
}

func TestCaptureCancelledReturnsNil(t *testing.T) {
	svc := fixedService(fakeProvider{
		camera:  fakeCamera{err: ports.ErrCaptureCancelled},
		locator: fakeLocator{},
	}, DefaultConfig())

	artifact, err := svc.Capture(context.Background(), Request{})
	if err != nil || artifact != nil {
		t.Fatalf("Capture() = %v, %v", artifact, err)
	}
}

func TestEmbedMetadataRejectsNonJPEG(t *testing.T) {
	if _, err := EmbedMetadata([]byte("png?"), Metadata{}); err == nil {
		t.Fatalf("EmbedMetadata() expected error")
	}
	if _, _, err := ReadMetadata([]byte{0x89, 0x50}); !errs.IsValidation(err) {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
}

func TestReadMetadataRejectsMalformedDocument(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testFrame(16, 16), nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	data, err := EmbedMetadata(buf.Bytes(), Metadata{ClientRef: "p-1"})
	if err != nil {
		t.Fatalf("EmbedMetadata() error = %v", err)
	}
	corrupt := bytes.Replace(data, []byte(`{"client_ref"`), []byte(`["client_ref"`), 1)

	_, ok, err := ReadMetadata(corrupt)
	if ok || !errs.IsValidation(err) {
		t.Fatalf("ReadMetadata() = %v, %v, want validation error", ok, err)
	}
}

func TestCaptureFallsBackWhenMetadataCannotBeEmbedded(t *testing.T) {
	svc := fixedService(fakeProvider{
		camera:  fakeCamera{frame: testFrame(320, 240)},
		locator: fakeLocator{coords: ports.Coordinates{Latitude: 1, Longitude: 2}},
	}, DefaultConfig())

	oversized := string(bytes.Repeat([]byte("x"), 70000))
	artifact, err := svc.Capture(context.Background(), Request{InspectionRef: oversized})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if artifact.Annotated {
		t.Fatalf("Capture() annotated despite oversized metadata")
	}
	if _, err := jpeg.Decode(bytes.NewReader(artifact.Data)); err != nil {
		t.Fatalf("decode fallback capture: %v", err)
	}
	if _, ok, _ := ReadMetadata(artifact.Data); ok {
		t.Fatalf("fallback capture carries metadata")
	}
}
