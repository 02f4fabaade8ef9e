// internal/domain/geo/model.go

package geo

import (
	"context"
	"errors"
	"math"
	"time"
)

// Coordinate is a geographic point in WGS84 degrees
type Coordinate struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty"` // meters, 0 when unknown
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// Valid reports whether the coordinate lies on the globe
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// Age returns how old the fix is relative to now
func (c Coordinate) Age(now time.Time) time.Duration {
	if c.CapturedAt.IsZero() {
		return math.MaxInt64
	}
	return now.Sub(c.CapturedAt)
}

// Position is a raw fix as returned by the device geolocation API
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Timestamp time.Time
}

// Device error codes, mirroring the platform geolocation API
var (
	// ErrPermissionDenied means the user refused location access; terminal
	// for the session, never retried
	ErrPermissionDenied = errors.New("geolocation permission denied")

	// ErrPositionUnavailable means the device could not produce a fix
	ErrPositionUnavailable = errors.New("position unavailable")

	// ErrAcquisitionTimeout means the device did not answer in time
	ErrAcquisitionTimeout = errors.New("position acquisition timed out")
)

// IsTransient reports whether a device error is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrPositionUnavailable) || errors.Is(err, ErrAcquisitionTimeout)
}

// Provider is the boundary to the device geolocation API
type Provider interface {
	// CurrentPosition performs a single-shot position request
	CurrentPosition(ctx context.Context) (Position, error)
}

// PermissionState reflects the browser permission for location access
type PermissionState string

const (
	PermissionPrompt  PermissionState = "prompt"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// Phase is the acquirer's position in its request lifecycle
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRequesting Phase = "requesting"
	PhaseRetrying   Phase = "retrying"
	PhaseGranted    Phase = "granted"
	PhaseDenied     Phase = "denied"
	PhaseFallback   Phase = "fallback"
)

// LocationState is the acquirer's observable state
type LocationState struct {
	Phase    Phase       `json:"phase"`
	Location *Coordinate `json:"location,omitempty"`
	Attempt  int         `json:"attempt,omitempty"`
	Degraded bool        `json:"degraded"`          // true when Location is the fallback centroid
	Message  string      `json:"message,omitempty"` // explanation attached to a degraded fix
}

// Acquirer owns the device location permission flow
type Acquirer interface {
	// CurrentLocation returns the latest known coordinate, or nil
	CurrentLocation() *Coordinate

	// RequestLocation acquires a fix, retrying transient failures. At
	// most one request runs per acquirer; a concurrent call while one
	// is in flight fails fast instead of starting a second device flow.
	RequestLocation(ctx context.Context) (Coordinate, error)

	// PermissionState returns the current permission as last observed
	PermissionState() PermissionState

	// State returns a snapshot of the acquirer's state machine
	State() LocationState

	// OnLocationChange registers a callback invoked whenever a new
	// coordinate is installed, the degraded fallback included
	OnLocationChange(fn func(Coordinate))
}
