package sampler

import (
	"context"
	"errors"
	"time"
)

// Capability errors. Unsupported and PermissionDenied stop sampling;
// PositionUnavailable and Timeout are transient and the watch keeps going.
var (
	ErrUnsupported         = errors.New("geolocation is not supported by this device")
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("location information unavailable")
	ErrTimeout             = errors.New("location request timed out")
)

// IsTerminal reports whether a capability error ends the sampling run.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnsupported) || errors.Is(err, ErrPermissionDenied)
}

// Reading is one fix reported by the device.
type Reading struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Speed     *float64
	Heading   *float64
	Timestamp time.Time
}

// ReadOptions mirror what a location driver accepts per request.
type ReadOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Event is either a reading or an error from a continuous watch.
type Event struct {
	Reading Reading
	Err     error
}

// Device is the location-producing capability.
type Device interface {
	// Watch streams events until ctx is done, then closes the channel. It
	// returns an error right away when watching cannot start at all.
	Watch(ctx context.Context, opts ReadOptions) (<-chan Event, error)
	// Current requests a single reading.
	Current(ctx context.Context, opts ReadOptions) (Reading, error)
}
