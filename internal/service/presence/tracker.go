// internal/service/presence/tracker.go

package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"ritrovo/internal/domain/geo"
	"ritrovo/internal/domain/identity"
	"ritrovo/internal/domain/presence"
	"ritrovo/internal/domain/profile"
)

// Bus is the change-notification boundary; *nats.Conn satisfies it
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// TrackerConfig contains configuration for the presence tracker
type TrackerConfig struct {
	// Subject is the change-notification subject for presence updates
	Subject string

	// Heartbeat is the republish cadence
	Heartbeat time.Duration

	// NearbyRadiusKm bounds who counts as nearby when the local user
	// has a known location
	NearbyRadiusKm float64

	// Staleness is the heartbeat age past which a record is treated as
	// offline regardless of its online flag
	Staleness time.Duration
}

// DefaultTrackerConfig returns the standard presence policy
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Subject:        "presence.updated",
		Heartbeat:      30 * time.Second,
		NearbyRadiusKm: 10,
		Staleness:      90 * time.Second,
	}
}

// Tracker implements the presence.Tracker interface: it maintains the
// local user's heartbeat record and derives the nearby-online set from
// change notifications.
type Tracker struct {
	store    presence.Store
	profiles profile.Store
	bus      Bus
	acquirer geo.Acquirer
	session  identity.Session
	config   TrackerConfig
	now      func() time.Time

	publishing atomic.Bool
	mu         sync.RWMutex
	nearby     []presence.Record
	sub        *nats.Subscription
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewTracker creates a presence tracker. With an anonymous session the
// tracker is inert: Start, publishes and teardown are all no-ops.
func NewTracker(
	store presence.Store,
	profiles profile.Store,
	bus Bus,
	acquirer geo.Acquirer,
	session identity.Session,
	config TrackerConfig,
) *Tracker {
	return &Tracker{
		store:    store,
		profiles: profiles,
		bus:      bus,
		acquirer: acquirer,
		session:  session,
		config:   config,
		now:      time.Now,
	}
}

// Start publishes the initial record, subscribes to the change feed
// and begins the heartbeat loop
func (t *Tracker) Start(ctx context.Context) error {
	if !t.session.Authenticated() {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.PublishPresence(ctx, "")
	t.refreshNearby(ctx)

	sub, err := t.bus.Subscribe(t.config.Subject, func(msg *nats.Msg) {
		t.refreshNearby(runCtx)
	})
	if err != nil {
		cancel()
		return err
	}
	t.sub = sub

	// The record carries the location it was published with, so a new
	// fix republishes immediately rather than waiting out the heartbeat
	if t.acquirer != nil {
		t.acquirer.OnLocationChange(func(geo.Coordinate) {
			t.PublishPresence(runCtx, "")
		})
	}

	t.wg.Add(1)
	go t.heartbeat(runCtx)

	return nil
}

// heartbeat republishes presence on a fixed cadence
func (t *Tracker) heartbeat(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.PublishPresence(ctx, "")
		}
	}
}

// PublishPresence upserts the user's record and notifies the change
// feed. Fire-and-forget: failures are logged, overlapping calls from
// the same tracker are skipped silently.
func (t *Tracker) PublishPresence(ctx context.Context, status string) {
	if !t.session.Authenticated() {
		return
	}
	if !t.publishing.CompareAndSwap(false, true) {
		return
	}
	defer t.publishing.Store(false)

	t.publish(ctx, true, status)
}

// SetOffline best-effort publishes an offline record. Teardown is not
// a reliable hook, so consumers still derive offline from staleness.
func (t *Tracker) SetOffline(ctx context.Context) {
	if !t.session.Authenticated() {
		return
	}

	t.publish(ctx, false, "")
}

func (t *Tracker) publish(ctx context.Context, online bool, status string) {
	var loc *geo.Coordinate
	if t.acquirer != nil {
		loc = t.acquirer.CurrentLocation()
	}

	record := presence.Record{
		UserID:     t.session.UserID,
		Location:   loc,
		LastSeenAt: t.now(),
		IsOnline:   online,
		Status:     status,
	}

	if err := t.store.Upsert(ctx, record); err != nil {
		log.WithError(err).Warn("presence upsert failed")
		return
	}

	if err := t.bus.Publish(t.config.Subject, []byte(t.session.UserID)); err != nil {
		log.WithError(err).Warn("presence notification failed")
	}
}

// refreshNearby re-derives the nearby-online set: fetch the online
// records excluding self, resolve display profiles, and filter by
// radius when the local location is known
func (t *Tracker) refreshNearby(ctx context.Context) {
	records, err := t.store.ListOnline(ctx, t.session.UserID, t.config.Staleness)
	if err != nil {
		log.WithError(err).Warn("failed to list online users")
		return
	}

	// Authoritative staleness re-check against the local clock; the
	// store-side cutoff is only an optimization
	now := t.now()
	records = lo.Filter(records, func(r presence.Record, _ int) bool {
		return !r.StaleAfter(now, t.config.Staleness)
	})

	// Malformed user ids are skipped rather than failing the batch
	ids := lo.FilterMap(records, func(r presence.Record, _ int) (string, bool) {
		_, err := uuid.Parse(r.UserID)
		return r.UserID, err == nil
	})

	profiles, err := t.profiles.ResolveProfiles(ctx, ids)
	if err != nil {
		log.WithError(err).Warn("failed to resolve presence profiles")
		profiles = nil
	}

	for i := range records {
		if p, ok := profiles[records[i].UserID]; ok {
			prof := p
			records[i].Profile = &prof
		}
	}

	var viewer *geo.Coordinate
	if t.acquirer != nil {
		viewer = t.acquirer.CurrentLocation()
	}

	// Without a local location the unfiltered online set is returned
	if viewer != nil {
		records = lo.Filter(records, func(r presence.Record, _ int) bool {
			return r.Location != nil && geo.DistanceKm(*viewer, *r.Location) <= t.config.NearbyRadiusKm
		})
	}

	t.mu.Lock()
	t.nearby = records
	t.mu.Unlock()
}

// NearbyOnlineUsers returns the latest derived nearby-online set
func (t *Tracker) NearbyOnlineUsers() []presence.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]presence.Record, len(t.nearby))
	copy(out, t.nearby)
	return out
}

// Stop publishes offline and tears down the subscription and heartbeat
func (t *Tracker) Stop(ctx context.Context) error {
	if !t.session.Authenticated() {
		return nil
	}

	t.SetOffline(ctx)

	if t.sub != nil {
		if err := t.sub.Unsubscribe(); err != nil {
			log.WithError(err).Warn("presence unsubscribe failed")
		}
	}
	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
