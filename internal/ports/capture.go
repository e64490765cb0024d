package ports

import (
	"context"
	"errors"
	"image"
)

// ErrCaptureCancelled is returned by a Camera when the user dismisses the capture.
var ErrCaptureCancelled = errors.New("capture cancelled")

// ErrLocationUnavailable covers denied permission, insecure context and no fix.
var ErrLocationUnavailable = errors.New("location unavailable")

type Facing string

const (
	FacingRear  Facing = "rear"
	FacingFront Facing = "front"
)

type Coordinates struct {
	Latitude  float64
	Longitude float64
}

type Camera interface {
	Acquire(ctx context.Context, facing Facing) (image.Image, error)
}

type Locator interface {
	Locate(ctx context.Context) (Coordinates, error)
}

// CaptureProvider bundles the device capabilities a capture needs.
type CaptureProvider interface {
	Camera() Camera
	Locator() Locator
}
