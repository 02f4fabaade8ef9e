// internal/service/geo/acquirer.go

package geo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"ritrovo/internal/domain/geo"
	"ritrovo/internal/domain/profile"
)

// ErrRequestInFlight is returned when a location request is already
// running; at most one request is in flight per acquirer
var ErrRequestInFlight = errors.New("location request already in flight")

// AcquirerConfig contains configuration for the location acquirer
type AcquirerConfig struct {
	// Fallback is the fixed city centroid used after retries run out
	Fallback geo.Coordinate

	// MaxAttempts is the total device attempts for transient failures
	MaxAttempts int

	// RetryDelay is the fixed wait between attempts
	RetryDelay time.Duration

	// RequestTimeout bounds a single device call
	RequestTimeout time.Duration

	// CacheTolerance lets a fix younger than this be reused without a
	// new device call
	CacheTolerance time.Duration
}

// DefaultAcquirerConfig returns the standard acquisition policy
func DefaultAcquirerConfig() AcquirerConfig {
	return AcquirerConfig{
		Fallback:       geo.Coordinate{Latitude: 41.9028, Longitude: 12.4964},
		MaxAttempts:    3,
		RetryDelay:     2 * time.Second,
		RequestTimeout: 15 * time.Second,
		CacheTolerance: 5 * time.Minute,
	}
}

// Acquirer implements the geo.Acquirer interface. It owns the device
// permission flow, the retry budget and the degraded fallback.
type Acquirer struct {
	provider geo.Provider
	profiles profile.Store
	userID   string
	config   AcquirerConfig
	now      func() time.Time

	mu         sync.Mutex
	state      geo.LocationState
	permission geo.PermissionState
	inFlight   bool
	listeners  []func(geo.Coordinate)
}

// NewAcquirer creates a new location acquirer. The profile store is
// used to load a previously saved coordinate and to persist new fixes;
// it may be nil for unauthenticated sessions along with an empty userID.
func NewAcquirer(provider geo.Provider, profiles profile.Store, userID string, config AcquirerConfig) *Acquirer {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	return &Acquirer{
		provider:   provider,
		profiles:   profiles,
		userID:     userID,
		config:     config,
		now:        time.Now,
		state:      geo.LocationState{Phase: geo.PhaseIdle},
		permission: geo.PermissionPrompt,
	}
}

// Start loads a previously saved coordinate from the user's profile. A
// saved value short-circuits the first live request.
func (a *Acquirer) Start(ctx context.Context) error {
	if a.profiles == nil || a.userID == "" {
		return nil
	}

	saved, err := a.profiles.SavedCoordinate(ctx, a.userID)
	if err != nil {
		return fmt.Errorf("error loading saved coordinate: %w", err)
	}

	if saved != nil && saved.Valid() {
		a.mu.Lock()
		a.state = geo.LocationState{Phase: geo.PhaseGranted, Location: saved}
		a.mu.Unlock()
	}

	return nil
}

// CurrentLocation returns the latest known coordinate, or nil
func (a *Acquirer) CurrentLocation() *geo.Coordinate {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Location == nil {
		return nil
	}

	c := *a.state.Location
	return &c
}

// PermissionState returns the permission as last observed
func (a *Acquirer) PermissionState() geo.PermissionState {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.permission
}

// State returns a snapshot of the acquirer's state machine
func (a *Acquirer) State() geo.LocationState {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.state
	if a.state.Location != nil {
		c := *a.state.Location
		s.Location = &c
	}
	return s
}

// OnLocationChange registers a callback invoked whenever a new
// coordinate is installed. Cache hits do not fire it.
func (a *Acquirer) OnLocationChange(fn func(geo.Coordinate)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.listeners = append(a.listeners, fn)
}

// notifyChange fires the registered callbacks outside the lock
func (a *Acquirer) notifyChange(c geo.Coordinate) {
	a.mu.Lock()
	listeners := make([]func(geo.Coordinate), len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(c)
	}
}

// RequestLocation acquires a live fix. Transient device failures are
// retried on a fixed delay up to the attempt budget; once the budget is
// exhausted the fixed fallback centroid is installed as a degraded fix.
// Permission denial is terminal and surfaced to the caller.
func (a *Acquirer) RequestLocation(ctx context.Context) (geo.Coordinate, error) {
	a.mu.Lock()

	if a.inFlight {
		a.mu.Unlock()
		return geo.Coordinate{}, ErrRequestInFlight
	}

	if a.permission == geo.PermissionDenied {
		a.mu.Unlock()
		return geo.Coordinate{}, geo.ErrPermissionDenied
	}

	// A fresh genuine fix is reused without a new device call
	if loc := a.state.Location; loc != nil && !a.state.Degraded && loc.Age(a.now()) < a.config.CacheTolerance {
		c := *loc
		a.mu.Unlock()
		return c, nil
	}

	a.inFlight = true
	a.state.Phase = geo.PhaseRequesting
	a.state.Attempt = 1
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight = false
		a.mu.Unlock()
	}()

	pos, err := a.acquire(ctx)
	if err != nil {
		if errors.Is(err, geo.ErrPermissionDenied) {
			a.mu.Lock()
			a.permission = geo.PermissionDenied
			a.state = geo.LocationState{Phase: geo.PhaseDenied}
			a.mu.Unlock()
			return geo.Coordinate{}, err
		}

		// Transient budget exhausted: fall back to the reference
		// centroid so downstream distance math stays possible
		fallback := a.config.Fallback
		fallback.CapturedAt = a.now()

		a.mu.Lock()
		a.state = geo.LocationState{
			Phase:    geo.PhaseFallback,
			Location: &fallback,
			Degraded: true,
			Message:  fmt.Sprintf("using approximate location: %v", err),
		}
		a.mu.Unlock()

		a.notifyChange(fallback)
		a.persist(ctx, fallback)
		return fallback, nil
	}

	coord := geo.Coordinate{
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		Accuracy:   pos.Accuracy,
		CapturedAt: pos.Timestamp,
	}
	if coord.CapturedAt.IsZero() {
		coord.CapturedAt = a.now()
	}

	a.mu.Lock()
	a.permission = geo.PermissionGranted
	a.state = geo.LocationState{Phase: geo.PhaseGranted, Location: &coord}
	a.mu.Unlock()

	a.notifyChange(coord)
	a.persist(ctx, coord)
	return coord, nil
}

// acquire runs the device call under the retry policy
func (a *Acquirer) acquire(ctx context.Context) (geo.Position, error) {
	var pos geo.Position

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(a.config.RetryDelay),
			uint64(a.config.MaxAttempts-1),
		),
		ctx,
	)

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
		defer cancel()

		p, err := a.provider.CurrentPosition(callCtx)
		if err != nil {
			if errors.Is(err, geo.ErrPermissionDenied) {
				// Denial is terminal, never retried
				return backoff.Permanent(err)
			}
			return err
		}

		pos = p
		return nil
	}

	notify := func(err error, _ time.Duration) {
		a.mu.Lock()
		a.state.Phase = geo.PhaseRetrying
		a.state.Attempt++
		a.mu.Unlock()

		log.WithError(err).Debug("retrying location acquisition")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return geo.Position{}, err
	}

	return pos, nil
}

// persist writes the coordinate to the user's profile, best-effort
func (a *Acquirer) persist(ctx context.Context, c geo.Coordinate) {
	if a.profiles == nil || a.userID == "" {
		return
	}

	if err := a.profiles.SaveCoordinate(ctx, a.userID, c); err != nil {
		log.WithError(err).Warn("failed to persist coordinate to profile")
	}
}
