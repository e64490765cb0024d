package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

// FileCamera "acquires" a frame by decoding an image file, which is how the
// CLI feeds captures on hosts without a camera. An empty path is treated as
// the user dismissing the capture.
type FileCamera struct {
	Path string
}

func (c FileCamera) Acquire(ctx context.Context, _ ports.Facing) (image.Image, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	path := strings.TrimSpace(c.Path)
	if path == "" {
		return nil, ports.ErrCaptureCancelled
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrapf(err, "open image %s", path)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errs.Wrapf(err, "decode image %s", path)
	}
	return img, nil
}

// StaticLocator reports a fixed position, or no fix when Coordinates is nil.
type StaticLocator struct {
	Coordinates *ports.Coordinates
}

func (l StaticLocator) Locate(ctx context.Context) (ports.Coordinates, error) {
	if ctx == nil {
		return ports.Coordinates{}, errors.New("context is required")
	}
	if l.Coordinates == nil {
		return ports.Coordinates{}, ports.ErrLocationUnavailable
	}
	c := *l.Coordinates
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return ports.Coordinates{}, fmt.Errorf("%w: out of range %v", ports.ErrLocationUnavailable, c)
	}
	return c, nil
}

type Provider struct {
	camera  ports.Camera
	locator ports.Locator
}

var _ ports.CaptureProvider = (*Provider)(nil)

func NewProvider(camera ports.Camera, locator ports.Locator) *Provider {
	return &Provider{camera: camera, locator: locator}
}

// NewFileProvider builds the CLI provider from an image path and an optional position.
func NewFileProvider(imagePath string, coords *ports.Coordinates) *Provider {
	return NewProvider(FileCamera{Path: imagePath}, StaticLocator{Coordinates: coords})
}

func (p *Provider) Camera() ports.Camera   { return p.camera }
func (p *Provider) Locator() ports.Locator { return p.locator }
