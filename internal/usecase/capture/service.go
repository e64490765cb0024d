package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

const ContentTypeJPEG = "image/jpeg"

type Config struct {
	MaxDimension       int
	JPEGQuality        int
	ThumbnailDimension int
	ThumbnailQuality   int
	GPSTimeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxDimension:       1600,
		JPEGQuality:        80,
		ThumbnailDimension: 240,
		ThumbnailQuality:   70,
		GPSTimeout:         5 * time.Second,
	}
}

func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if c.MaxDimension <= 0 {
		c.MaxDimension = defaults.MaxDimension
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = defaults.JPEGQuality
	}
	if c.ThumbnailDimension <= 0 {
		c.ThumbnailDimension = defaults.ThumbnailDimension
	}
	if c.ThumbnailQuality <= 0 || c.ThumbnailQuality > 100 {
		c.ThumbnailQuality = defaults.ThumbnailQuality
	}
	if c.GPSTimeout <= 0 {
		c.GPSTimeout = defaults.GPSTimeout
	}
	return c
}

type Request struct {
	InspectionRef string
	ItemID        *string
	Facing        ports.Facing
}

// Artifact is a finished capture. Nothing is persisted until the caller
// hands it to the inspection store.
type Artifact struct {
	ClientRef    string
	Data         []byte
	Thumbnail    []byte
	ContentType  string
	CapturedAt   time.Time
	Coordinates  ports.Coordinates
	GPSAvailable bool
	// Annotated is false when the stamp or the metadata segment could not be added.
	Annotated bool
	Width     int
	Height    int
}

type Service struct {
	provider ports.CaptureProvider
	cfg      Config
	now      func() time.Time
}

func NewService(provider ports.CaptureProvider, cfg Config) *Service {
	return &Service{
		provider: provider,
		cfg:      cfg.normalized(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type locateResult struct {
	coords ports.Coordinates
	err    error
}

// Capture returns nil, nil when the user dismisses the camera.
func (s *Service) Capture(ctx context.Context, req Request) (*Artifact, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}
	if s.provider == nil {
		return nil, &errs.CaptureError{Stage: "camera", Err: errors.New("capture provider is not configured")}
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.capture"))

	wait, stopLocate := s.startLocate(ctx)
	defer stopLocate()

	facing := req.Facing
	if facing == "" {
		facing = ports.FacingRear
	}
	frame, err := s.provider.Camera().Acquire(ctx, facing)
	if err != nil {
		if errors.Is(err, ports.ErrCaptureCancelled) {
			return nil, nil
		}
		return nil, &errs.CaptureError{Stage: "camera", Err: err}
	}
	if frame == nil || frame.Bounds().Empty() {
		return nil, &errs.CaptureError{Stage: "camera", Err: errors.New("camera returned an empty frame")}
	}

	result := wait()
	gpsAvailable := result.err == nil
	coords := result.coords
	if !gpsAvailable {
		coords = ports.Coordinates{}
		logging.Warn(logCtx, "capture without location", slog.Any("err", errs.Loggable(result.err)))
	}

	capturedAt := s.now()
	resized := fit(frame, s.cfg.MaxDimension)

	plain, err := encodeJPEG(resized, s.cfg.JPEGQuality)
	if err != nil {
		return nil, &errs.CaptureError{Stage: "encode", Err: err}
	}
	thumbnail, err := encodeJPEG(fit(resized, s.cfg.ThumbnailDimension), s.cfg.ThumbnailQuality)
	if err != nil {
		return nil, &errs.CaptureError{Stage: "thumbnail", Err: err}
	}

	artifact := &Artifact{
		ClientRef:    uuid.NewString(),
		Data:         plain,
		Thumbnail:    thumbnail,
		ContentType:  ContentTypeJPEG,
		CapturedAt:   capturedAt,
		Coordinates:  coords,
		GPSAvailable: gpsAvailable,
		Width:        resized.Bounds().Dx(),
		Height:       resized.Bounds().Dy(),
	}

	meta := Metadata{
		ClientRef:     artifact.ClientRef,
		CapturedAt:    capturedAt,
		Latitude:      coords.Latitude,
		Longitude:     coords.Longitude,
		GPSAvailable:  gpsAvailable,
		InspectionRef: strings.TrimSpace(req.InspectionRef),
	}
	if req.ItemID != nil {
		meta.ItemID = *req.ItemID
	}

	annotated, err := s.annotate(resized, meta)
	if err != nil {
		logging.Warn(logCtx, "returning unannotated capture", slog.Any("err", errs.Loggable(err)))
		return artifact, nil
	}
	artifact.Data = annotated
	artifact.Annotated = true
	return artifact, nil
}

// startLocate asks the locator for a fix while the camera is open. The
// returned wait gives the locator at most GPSTimeout more, counted from when
// wait is called, so a slow shutter never eats into the GPS budget.
func (s *Service) startLocate(ctx context.Context) (wait func() locateResult, stop context.CancelFunc) {
	locator := s.provider.Locator()
	if locator == nil {
		return func() locateResult { return locateResult{err: ports.ErrLocationUnavailable} }, func() {}
	}

	locateCtx, cancel := context.WithCancel(ctx)
	done := make(chan locateResult, 1)
	go func() {
		coords, err := locator.Locate(locateCtx)
		done <- locateResult{coords: coords, err: err}
	}()

	wait = func() locateResult {
		timer := time.NewTimer(s.cfg.GPSTimeout)
		defer timer.Stop()
		select {
		case result := <-done:
			return result
		case <-timer.C:
			cancel()
			return locateResult{err: fmt.Errorf("%w: no fix within %s", ports.ErrLocationUnavailable, s.cfg.GPSTimeout)}
		case <-ctx.Done():
			return locateResult{err: fmt.Errorf("%w: %v", ports.ErrLocationUnavailable, ctx.Err())}
		}
	}
	return wait, cancel
}

func (s *Service) annotate(img image.Image, meta Metadata) (out []byte, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			out = nil
			err = fmt.Errorf("annotate capture: %v", recovered)
		}
	}()

	stamped := stamp(img, meta)
	encoded, err := encodeJPEG(stamped, s.cfg.JPEGQuality)
	if err != nil {
		return nil, errs.Wrap(err, "encode stamped capture")
	}
	return EmbedMetadata(encoded, meta)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
