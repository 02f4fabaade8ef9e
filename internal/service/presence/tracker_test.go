package presence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ritrovo/internal/domain/geo"
	"ritrovo/internal/domain/identity"
	domain "ritrovo/internal/domain/presence"
	"ritrovo/internal/domain/profile"
	presenceService "ritrovo/internal/service/presence"
)

var rome = geo.Coordinate{Latitude: 41.9028, Longitude: 12.4964, CapturedAt: time.Now()}

type fakeBus struct {
	mu        sync.Mutex
	published []string
	handler   nats.MsgHandler
	subject   string
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subject = subject
	b.published = append(b.published, string(data))
	return nil
}

func (b *fakeBus) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = cb
	return &nats.Subscription{}, nil
}

func (b *fakeBus) deliver() {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(&nats.Msg{})
	}
}

type fakePresenceStore struct {
	mu      sync.Mutex
	online  []domain.Record
	upserts []domain.Record
}

func (s *fakePresenceStore) Upsert(ctx context.Context, record domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, record)
	return nil
}

func (s *fakePresenceStore) ListOnline(ctx context.Context, excludeUserID string, staleness time.Duration) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Record, 0, len(s.online))
	for _, r := range s.online {
		if r.UserID != excludeUserID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakePresenceStore) lastUpsert() *domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.upserts) == 0 {
		return nil
	}
	r := s.upserts[len(s.upserts)-1]
	return &r
}

type fakeProfiles struct {
	mu        sync.Mutex
	profiles  map[string]profile.Profile
	requested []string
}

func (f *fakeProfiles) ResolveProfiles(ctx context.Context, ids []string) (map[string]profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append([]string(nil), ids...)
	out := map[string]profile.Profile{}
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeProfiles) SavedCoordinate(ctx context.Context, userID string) (*geo.Coordinate, error) {
	return nil, nil
}

func (f *fakeProfiles) SaveCoordinate(ctx context.Context, userID string, c geo.Coordinate) error {
	return nil
}

type fixedAcquirer struct {
	mu        sync.Mutex
	loc       *geo.Coordinate
	listeners []func(geo.Coordinate)
}

func (f *fixedAcquirer) CurrentLocation() *geo.Coordinate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loc
}

func (f *fixedAcquirer) RequestLocation(ctx context.Context) (geo.Coordinate, error) {
	if f.loc == nil {
		return geo.Coordinate{}, geo.ErrPositionUnavailable
	}
	return *f.loc, nil
}

func (f *fixedAcquirer) PermissionState() geo.PermissionState { return geo.PermissionGranted }

func (f *fixedAcquirer) State() geo.LocationState {
	return geo.LocationState{Phase: geo.PhaseGranted, Location: f.CurrentLocation()}
}

func (f *fixedAcquirer) OnLocationChange(fn func(geo.Coordinate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// moveTo installs a new coordinate and fires the change callbacks, the
// way a fresh device fix would
func (f *fixedAcquirer) moveTo(c geo.Coordinate) {
	f.mu.Lock()
	f.loc = &c
	listeners := append(([]func(geo.Coordinate))(nil), f.listeners...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(c)
	}
}

// onlineAt builds an online record kmNorth of the viewer; negative means
// no location at all
func onlineAt(userID string, kmNorth float64) domain.Record {
	r := domain.Record{UserID: userID, IsOnline: true, LastSeenAt: time.Now()}
	if kmNorth >= 0 {
		r.Location = &geo.Coordinate{
			Latitude:  rome.Latitude + kmNorth/111.19,
			Longitude: rome.Longitude,
		}
	}
	return r
}

func testTrackerConfig() presenceService.TrackerConfig {
	config := presenceService.DefaultTrackerConfig()
	config.Heartbeat = time.Hour
	return config
}

func TestAnonymousTrackerIsInert(t *testing.T) {
	store := &fakePresenceStore{}
	bus := &fakeBus{}
	tracker := presenceService.NewTracker(store, &fakeProfiles{}, bus, nil, identity.Session{}, testTrackerConfig())

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx))
	tracker.PublishPresence(ctx, "around")
	require.NoError(t, tracker.Stop(ctx))

	assert.Empty(t, store.upserts)
	assert.Empty(t, bus.published)
	assert.Nil(t, bus.handler, "anonymous sessions never subscribe")
}

func TestPublishPresenceUpsertsAndNotifies(t *testing.T) {
	store := &fakePresenceStore{}
	bus := &fakeBus{}
	session := identity.Session{UserID: uuid.NewString()}
	tracker := presenceService.NewTracker(store, &fakeProfiles{}, bus, &fixedAcquirer{loc: &rome}, session, testTrackerConfig())

	tracker.PublishPresence(context.Background(), "aperitivo")

	record := store.lastUpsert()
	require.NotNil(t, record)
	assert.Equal(t, session.UserID, record.UserID)
	assert.True(t, record.IsOnline)
	assert.Equal(t, "aperitivo", record.Status)
	require.NotNil(t, record.Location)
	assert.InDelta(t, rome.Latitude, record.Location.Latitude, 1e-9)

	require.Len(t, bus.published, 1)
	assert.Equal(t, "presence.updated", bus.subject)
	assert.Equal(t, session.UserID, bus.published[0])
}

func TestNearbyRadiusFilter(t *testing.T) {
	near := uuid.NewString()
	far := uuid.NewString()
	unlocated := uuid.NewString()

	store := &fakePresenceStore{online: []domain.Record{
		onlineAt(near, 3),
		onlineAt(far, 50),
		onlineAt(unlocated, -1),
	}}
	bus := &fakeBus{}
	session := identity.Session{UserID: uuid.NewString()}
	tracker := presenceService.NewTracker(store, &fakeProfiles{}, bus, &fixedAcquirer{loc: &rome}, session, testTrackerConfig())

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx))
	defer tracker.Stop(ctx)

	nearby := tracker.NearbyOnlineUsers()
	require.Len(t, nearby, 1)
	assert.Equal(t, near, nearby[0].UserID)
}

func TestNearbyUnfilteredWithoutViewerLocation(t *testing.T) {
	store := &fakePresenceStore{online: []domain.Record{
		onlineAt(uuid.NewString(), 3),
		onlineAt(uuid.NewString(), 50),
	}}
	session := identity.Session{UserID: uuid.NewString()}
	tracker := presenceService.NewTracker(store, &fakeProfiles{}, &fakeBus{}, &fixedAcquirer{}, session, testTrackerConfig())

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx))
	defer tracker.Stop(ctx)

	assert.Len(t, tracker.NearbyOnlineUsers(), 2)
}

func TestNearbyExcludesSelf(t *testing.T) {
	session := identity.Session{UserID: uuid.NewString()}
	other := uuid.NewString()

	store := &fakePresenceStore{online: []domain.Record{
		onlineAt(session.UserID, 0),
		onlineAt(other, 3),
	}}
	tracker := presenceService.NewTracker(store, &fakeProfiles{}, &fakeBus{}, &fixedAcquirer{loc: &rome}, session, testTrackerConfig())

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx))
	defer tracker.Stop(ctx)

	nearby := tracker.NearbyOnlineUsers()
	require.Len(t, nearby, 1)
	assert.Equal(t, other, nearby[0].UserID)
}

func TestMalformedUserIDSkippedInProfileLookup(t *testing.T) {
	valid := uuid.NewString()
	profiles := &fakeProfiles{profiles: map[string]profile.Profile{
		valid: {ID: valid, Name: "Marco"},
	}}

	store := &fakePresenceStore{online: []domain.Record{
		onlineAt(valid, 3),
		onlineAt("not-a-uuid", 3),
	}}
	session := identity.Session{UserID: uuid.NewString()}
	tracker := presenceService.NewTracker(store, profiles, &fakeBus{}, &fixedAcquirer{loc: &rome}, session, testTrackerConfig())

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx))
	defer tracker.Stop(ctx)

	assert.Equal(t, []string{valid}, profiles.requested)

	// The malformed record itself stays in the nearby set, just without
	// a resolved profile
	nearby := tracker.NearbyOnlineUsers()
	require.Len(t, nearby, 2)
	for _, r := range nearby {
		if r.UserID == valid {
			require.NotNil(t, r.Profile)
			assert.Equal(t, "Marco", r.Profile.Name)
		} else {
			assert.Nil(t, r.Profile)
		}
	}
}

func TestChangeNotificationRefreshesNearby(t *testing.T) {
	store := &fakePresenceStore{}
	bus := &fakeBus{}
	session := identity.Session{UserID: uuid.NewString()}
	tracker := presenceService.NewTracker(store, &fakeProfiles{}, bus, &fixedAcquirer{loc: &rome}, session, testTrackerConfig())

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx))
	defer tracker.Stop(ctx)

	assert.Empty(t, tracker.NearbyOnlineUsers())

	// Someone comes online and a notification arrives
	newcomer := uuid.NewString()
	store.mu.Lock()
	store.online = append(store.online, onlineAt(newcomer, 2))
	store.mu.Unlock()
	bus.deliver()

	nearby := tracker.NearbyOnlineUsers()
	require.Len(t, nearby, 1)
	assert.Equal(t, newcomer, nearby[0].UserID)
}

func TestLocationChangeRepublishesPresence(t *testing.T) {
	store := &fakePresenceStore{}
	acquirer := &fixedAcquirer{loc: &rome}
	session := identity.Session{UserID: uuid.NewString()}
	tracker := presenceService.NewTracker(store, &fakeProfiles{}, &fakeBus{}, acquirer, session, testTrackerConfig())

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx))
	defer tracker.Stop(ctx)

	store.mu.Lock()
	before := len(store.upserts)
	store.mu.Unlock()

	// A fresh fix must republish without waiting out the heartbeat
	milan := geo.Coordinate{Latitude: 45.4642, Longitude: 9.19, CapturedAt: time.Now()}
	acquirer.moveTo(milan)

	record := store.lastUpsert()
	require.NotNil(t, record)
	store.mu.Lock()
	after := len(store.upserts)
	store.mu.Unlock()

	assert.Equal(t, before+1, after)
	require.NotNil(t, record.Location)
	assert.InDelta(t, milan.Latitude, record.Location.Latitude, 1e-9)
}

type blockingStore struct {
	fakePresenceStore
	gate    chan struct{}
	entered chan struct{}
}

func (s *blockingStore) Upsert(ctx context.Context, record domain.Record) error {
	s.entered <- struct{}{}
	<-s.gate
	return s.fakePresenceStore.Upsert(ctx, record)
}

func TestOverlappingPublishIsSkipped(t *testing.T) {
	store := &blockingStore{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	session := identity.Session{UserID: uuid.NewString()}
	tracker := presenceService.NewTracker(store, &fakeProfiles{}, &fakeBus{}, &fixedAcquirer{loc: &rome}, session, testTrackerConfig())

	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		tracker.PublishPresence(ctx, "")
		close(done)
	}()

	// First publish is inside Upsert now; overlapping calls must return
	// immediately without a second upsert
	<-store.entered
	tracker.PublishPresence(ctx, "")
	tracker.PublishPresence(ctx, "")

	close(store.gate)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked publish never finished")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.upserts, 1, "overlapping publishes are skipped, not queued")
}

func TestStaleRecordsFilteredClientSide(t *testing.T) {
	fresh := uuid.NewString()
	stale := uuid.NewString()

	staleRecord := onlineAt(stale, 3)
	staleRecord.LastSeenAt = time.Now().Add(-5 * time.Minute)

	store := &fakePresenceStore{online: []domain.Record{
		onlineAt(fresh, 3),
		staleRecord,
	}}
	session := identity.Session{UserID: uuid.NewString()}
	tracker := presenceService.NewTracker(store, &fakeProfiles{}, &fakeBus{}, &fixedAcquirer{loc: &rome}, session, testTrackerConfig())

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx))
	defer tracker.Stop(ctx)

	nearby := tracker.NearbyOnlineUsers()
	require.Len(t, nearby, 1)
	assert.Equal(t, fresh, nearby[0].UserID)
}

func TestStopPublishesOffline(t *testing.T) {
	store := &fakePresenceStore{}
	session := identity.Session{UserID: uuid.NewString()}
	tracker := presenceService.NewTracker(store, &fakeProfiles{}, &fakeBus{}, &fixedAcquirer{loc: &rome}, session, testTrackerConfig())

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx))
	require.NoError(t, tracker.Stop(ctx))

	record := store.lastUpsert()
	require.NotNil(t, record)
	assert.False(t, record.IsOnline)
}
