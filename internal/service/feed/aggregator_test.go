package feed_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "ritrovo/internal/domain/feed"
	"ritrovo/internal/domain/geo"
	"ritrovo/internal/domain/identity"
	"ritrovo/internal/domain/profile"
	feedService "ritrovo/internal/service/feed"
)

// rome is the viewer position used throughout
var rome = geo.Coordinate{Latitude: 41.9028, Longitude: 12.4964, CapturedAt: time.Now()}

type fakeSource struct {
	kind  domain.ContentKind
	items []domain.Item
	err   error
}

func (s *fakeSource) Kind() domain.ContentKind { return s.kind }

func (s *fakeSource) FetchVisible(ctx context.Context, filters domain.Filters, now time.Time, lookBack time.Duration) ([]domain.Item, error) {
	return s.items, s.err
}

func (s *fakeSource) FetchPage(ctx context.Context, filters domain.Filters, pageOffset int) ([]domain.Item, error) {
	return s.items, s.err
}

type fakeProfiles struct {
	profiles map[string]profile.Profile
}

func (f *fakeProfiles) ResolveProfiles(ctx context.Context, ids []string) (map[string]profile.Profile, error) {
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

type fakeParticipation struct {
	joined    map[string]map[string]bool
	max       map[string]int
	joinCalls int
}

func newFakeParticipation() *fakeParticipation {
	return &fakeParticipation{joined: map[string]map[string]bool{}, max: map[string]int{}}
}

func (f *fakeParticipation) Join(ctx context.Context, itemID, userID string) (domain.JoinOutcome, error) {
	f.joinCalls++
	members := f.joined[itemID]
	if members == nil {
		members = map[string]bool{}
		f.joined[itemID] = members
	}
	if members[userID] {
		return domain.OutcomeAlreadyJoined, nil
	}
	if max := f.max[itemID]; max > 0 && len(members) >= max {
		return domain.OutcomeFull, nil
	}
	members[userID] = true
	return domain.OutcomeJoined, nil
}

func (f *fakeParticipation) Leave(ctx context.Context, itemID, userID string) error {
	delete(f.joined[itemID], userID)
	return nil
}

func (f *fakeParticipation) CountForItems(ctx context.Context, itemIDs []string) (map[string]int, error) {
	counts := map[string]int{}
	for _, id := range itemIDs {
		if n := len(f.joined[id]); n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}

type fakeAcquirer struct {
	loc *geo.Coordinate
}

func (f *fakeAcquirer) CurrentLocation() *geo.Coordinate { return f.loc }

func (f *fakeAcquirer) RequestLocation(ctx context.Context) (geo.Coordinate, error) {
	if f.loc == nil {
		return geo.Coordinate{}, geo.ErrPositionUnavailable
	}
	return *f.loc, nil
}

func (f *fakeAcquirer) PermissionState() geo.PermissionState { return geo.PermissionGranted }

func (f *fakeAcquirer) State() geo.LocationState {
	return geo.LocationState{Phase: geo.PhaseGranted, Location: f.loc}
}

func (f *fakeAcquirer) OnLocationChange(fn func(geo.Coordinate)) {}

// item builds a visible moment/event starting startsIn from now, at an
// optional offset north of the viewer
func item(id string, kind domain.ContentKind, startsIn time.Duration, kmNorth float64) domain.Item {
	start := time.Now().Add(startsIn)
	it := domain.Item{
		ID:          id,
		ContentKind: kind,
		Title:       id,
		HostID:      "host-1",
		StartsAt:    &start,
	}
	if kmNorth >= 0 {
		// One degree of latitude is roughly 111.19 km
		it.Place = &domain.Place{
			Name: "spot",
			Coordinate: &geo.Coordinate{
				Latitude:  rome.Latitude + kmNorth/111.19,
				Longitude: rome.Longitude,
			},
		}
	}
	return it
}

type fixture struct {
	moments *fakeSource
	events  *fakeSource
	parts   *fakeParticipation
	session identity.Session
	config  feedService.AggregatorConfig
}

func newAggregator(f fixture) *feedService.Aggregator {
	if f.moments == nil {
		f.moments = &fakeSource{kind: domain.KindMoment}
	}
	if f.events == nil {
		f.events = &fakeSource{kind: domain.KindEvent}
	}
	if f.parts == nil {
		f.parts = newFakeParticipation()
	}
	if f.config.PageSize == 0 {
		f.config = feedService.DefaultAggregatorConfig()
	}

	return feedService.NewAggregator(
		f.moments,
		f.events,
		&fakeProfiles{profiles: map[string]profile.Profile{
			"host-1": {ID: "host-1", Name: "Giulia"},
		}},
		f.parts,
		newFakeParticipation(),
		&fakeAcquirer{loc: &rome},
		f.session,
		domain.NewClassifier(domain.DefaultClassifierConfig()),
		f.config,
	)
}

func TestMergeCompleteness(t *testing.T) {
	moments := &fakeSource{kind: domain.KindMoment, items: []domain.Item{
		item("m1", domain.KindMoment, time.Hour, 1),
		item("m2", domain.KindMoment, 2*time.Hour, 2),
		item("m3", domain.KindMoment, 3*time.Hour, -1),
	}}
	events := &fakeSource{kind: domain.KindEvent, items: []domain.Item{
		item("e1", domain.KindEvent, 4*time.Hour, 3),
		item("e2", domain.KindEvent, 5*time.Hour, -1),
	}}

	agg := newAggregator(fixture{
		moments: moments,
		events:  events,
		config:  feedService.AggregatorConfig{PageSize: 100, LookBack: 3 * time.Hour, IndifferenceKm: 0.5},
	})

	require.NoError(t, agg.LoadFeed(context.Background(), domain.Filters{}, true))

	items := agg.Items()
	assert.Len(t, items, 5)
	assert.False(t, agg.HasMore())

	kinds := map[domain.ContentKind]int{}
	for _, it := range items {
		kinds[it.ContentKind]++
		require.NotNil(t, it.Host, "host should be resolved for %s", it.ID)
		assert.Equal(t, "Giulia", it.Host.Name)
	}
	assert.Equal(t, 3, kinds[domain.KindMoment])
	assert.Equal(t, 2, kinds[domain.KindEvent])
}

func TestExpiredItemsFilteredOnMerge(t *testing.T) {
	stale := item("old", domain.KindMoment, -30*time.Hour, 1)
	fresh := item("fresh", domain.KindMoment, time.Hour, 1)

	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: []domain.Item{stale, fresh}},
	})

	require.NoError(t, agg.LoadFeed(context.Background(), domain.Filters{}, true))

	items := agg.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "fresh", items[0].ID)
}

func TestPaginationExhaustion(t *testing.T) {
	var all []domain.Item
	for i := 0; i < 45; i++ {
		all = append(all, item(fmt.Sprintf("m%02d", i), domain.KindMoment, time.Duration(i+1)*time.Minute+3*time.Hour, -1))
	}

	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: all},
	})

	ctx := context.Background()
	require.NoError(t, agg.LoadFeed(ctx, domain.Filters{}, true))
	assert.Len(t, agg.Items(), 20)
	assert.True(t, agg.HasMore())

	require.NoError(t, agg.LoadMore(ctx))
	assert.Len(t, agg.Items(), 40)
	assert.True(t, agg.HasMore())

	require.NoError(t, agg.LoadMore(ctx))
	assert.Len(t, agg.Items(), 45)
	assert.False(t, agg.HasMore())

	// Exhausted: further calls are no-ops
	require.NoError(t, agg.LoadMore(ctx))
	assert.Len(t, agg.Items(), 45)
}

func TestTieBreakWithinIndifferenceBand(t *testing.T) {
	// The nearer item is merely upcoming; the farther one is live but
	// only 200 m more distant, inside the indifference band
	upcomingNear := item("upcoming", domain.KindMoment, 6*time.Hour, 0.2)
	liveFar := item("live", domain.KindMoment, -10*time.Minute, 0.4)

	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: []domain.Item{upcomingNear, liveFar}},
	})

	require.NoError(t, agg.LoadFeed(context.Background(), domain.Filters{}, true))

	items := agg.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "live", items[0].ID)
	assert.Equal(t, "upcoming", items[1].ID)
}

func TestDistanceWinsOutsideIndifferenceBand(t *testing.T) {
	upcomingNear := item("near", domain.KindMoment, 6*time.Hour, 3)
	liveFar := item("far", domain.KindMoment, -10*time.Minute, 8)

	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: []domain.Item{liveFar, upcomingNear}},
	})

	require.NoError(t, agg.LoadFeed(context.Background(), domain.Filters{}, true))

	items := agg.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "near", items[0].ID)
	assert.Equal(t, "far", items[1].ID)
}

func TestMaxDistanceFilter(t *testing.T) {
	within := item("within", domain.KindMoment, time.Hour, 3)
	within.MoodTag = "relax"
	beyond := item("beyond", domain.KindMoment, time.Hour, 8)
	beyond.MoodTag = "relax"
	noPlace := item("no-place", domain.KindMoment, time.Hour, -1)

	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: []domain.Item{within, beyond, noPlace}},
	})

	require.NoError(t, agg.LoadFeed(context.Background(), domain.Filters{Mood: "relax", MaxDistanceKm: 5}, true))

	ids := map[string]bool{}
	for _, it := range agg.Items() {
		ids[it.ID] = true
	}

	assert.True(t, ids["within"])
	assert.False(t, ids["beyond"], "items beyond the distance cap are excluded")
	assert.True(t, ids["no-place"], "items without a computed distance are never excluded by distance")
}

func TestDistanceAttachment(t *testing.T) {
	placed := item("placed", domain.KindMoment, time.Hour, 3)
	unplaced := item("unplaced", domain.KindMoment, time.Hour, -1)

	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: []domain.Item{placed, unplaced}},
	})

	require.NoError(t, agg.LoadFeed(context.Background(), domain.Filters{}, true))

	for _, it := range agg.Items() {
		switch it.ID {
		case "placed":
			require.NotNil(t, it.DistanceKm)
			assert.InDelta(t, 3, *it.DistanceKm, 0.1)
		case "unplaced":
			assert.Nil(t, it.DistanceKm)
		}
	}
}

func TestJoinIdempotence(t *testing.T) {
	parts := newFakeParticipation()
	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: []domain.Item{item("m1", domain.KindMoment, time.Hour, 1)}},
		parts:   parts,
		session: identity.Session{UserID: "user-1"},
	})

	ctx := context.Background()
	require.NoError(t, agg.LoadFeed(ctx, domain.Filters{}, true))

	outcome, err := agg.JoinItem(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeJoined, outcome)

	outcome, err = agg.JoinItem(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyJoined, outcome)

	items := agg.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Participants.Count, "second join must not double-count")
	assert.True(t, items[0].Participants.Stale, "optimistic count is marked stale until reload")
	assert.Contains(t, items[0].ParticipantIDs, "user-1")
}

func TestJoinFullItem(t *testing.T) {
	parts := newFakeParticipation()
	parts.max["m1"] = 1
	parts.joined["m1"] = map[string]bool{"someone-else": true}

	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: []domain.Item{item("m1", domain.KindMoment, time.Hour, 1)}},
		parts:   parts,
		session: identity.Session{UserID: "user-1"},
	})

	ctx := context.Background()
	require.NoError(t, agg.LoadFeed(ctx, domain.Filters{}, true))

	outcome, err := agg.JoinItem(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFull, outcome)

	// A rejected join leaves the local count untouched
	assert.Equal(t, 1, agg.Items()[0].Participants.Count)
}

func TestJoinLocallyFullSkipsStore(t *testing.T) {
	capped := item("m1", domain.KindMoment, time.Hour, 1)
	capped.MaxParticipants = 1

	parts := newFakeParticipation()
	parts.joined["m1"] = map[string]bool{"someone-else": true}

	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: []domain.Item{capped}},
		parts:   parts,
		session: identity.Session{UserID: "user-1"},
	})

	ctx := context.Background()
	require.NoError(t, agg.LoadFeed(ctx, domain.Filters{}, true))

	outcome, err := agg.JoinItem(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFull, outcome)
	assert.Zero(t, parts.joinCalls, "a locally full item never reaches the store")
}

func TestJoinRequiresAuthentication(t *testing.T) {
	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: []domain.Item{item("m1", domain.KindMoment, time.Hour, 1)}},
	})

	ctx := context.Background()
	require.NoError(t, agg.LoadFeed(ctx, domain.Filters{}, true))

	_, err := agg.JoinItem(ctx, "m1")
	assert.ErrorIs(t, err, feedService.ErrNotAuthenticated)
}

func TestJoinEventKindRejected(t *testing.T) {
	agg := newAggregator(fixture{
		events:  &fakeSource{kind: domain.KindEvent, items: []domain.Item{item("e1", domain.KindEvent, time.Hour, 1)}},
		session: identity.Session{UserID: "user-1"},
	})

	ctx := context.Background()
	require.NoError(t, agg.LoadFeed(ctx, domain.Filters{}, true))

	_, err := agg.JoinItem(ctx, "e1")
	assert.ErrorIs(t, err, feedService.ErrNotJoinable)
}

func TestLeaveClampsAtZero(t *testing.T) {
	parts := newFakeParticipation()
	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: []domain.Item{item("m1", domain.KindMoment, time.Hour, 1)}},
		parts:   parts,
		session: identity.Session{UserID: "user-1"},
	})

	ctx := context.Background()
	require.NoError(t, agg.LoadFeed(ctx, domain.Filters{}, true))

	left, err := agg.LeaveItem(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, left)

	items := agg.Items()
	assert.Equal(t, 0, items[0].Participants.Count)
	assert.True(t, items[0].Participants.Stale)
}

func TestSingleSourceFailureIsPartial(t *testing.T) {
	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, err: errors.New("store down")},
		events:  &fakeSource{kind: domain.KindEvent, items: []domain.Item{item("e1", domain.KindEvent, time.Hour, 1)}},
	})

	require.NoError(t, agg.LoadFeed(context.Background(), domain.Filters{}, true))

	items := agg.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "e1", items[0].ID)
}

func TestBothSourcesFailing(t *testing.T) {
	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, err: errors.New("store down")},
		events:  &fakeSource{kind: domain.KindEvent, err: errors.New("store down too")},
	})

	err := agg.LoadFeed(context.Background(), domain.Filters{}, true)
	assert.ErrorIs(t, err, feedService.ErrAllSourcesFailed)
}

func TestApplyFiltersResetsPagination(t *testing.T) {
	var all []domain.Item
	for i := 0; i < 30; i++ {
		all = append(all, item(fmt.Sprintf("m%02d", i), domain.KindMoment, time.Duration(i+1)*time.Minute+3*time.Hour, -1))
	}

	agg := newAggregator(fixture{
		moments: &fakeSource{kind: domain.KindMoment, items: all},
	})

	ctx := context.Background()
	require.NoError(t, agg.LoadFeed(ctx, domain.Filters{}, true))
	require.NoError(t, agg.LoadMore(ctx))
	assert.Len(t, agg.Items(), 30)

	require.NoError(t, agg.ApplyFilters(ctx, domain.Filters{Query: "anything"}))
	assert.Len(t, agg.Items(), 20, "new filters restart from the first page")
}
