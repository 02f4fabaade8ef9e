// internal/service/feed/aggregator.go

package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"ritrovo/internal/domain/feed"
	"ritrovo/internal/domain/geo"
	"ritrovo/internal/domain/identity"
	"ritrovo/internal/domain/profile"
)

var (
	// ErrNotAuthenticated is returned for join/leave without a session
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotJoinable is returned when joining an event-kind item; only
	// moments are joinable through the feed
	ErrNotJoinable = errors.New("item is not joinable")

	// ErrItemNotVisible is returned when the item is not in the feed
	ErrItemNotVisible = errors.New("item not in the visible feed")

	// ErrAllSourcesFailed is surfaced when neither source produced a
	// result; a single failed source just contributes zero items
	ErrAllSourcesFailed = errors.New("all feed sources failed")
)

// AggregatorConfig contains the merge and ranking policy
type AggregatorConfig struct {
	// PageSize is the fixed in-memory page size
	PageSize int

	// LookBack is the shared query tolerance applied identically to
	// both sources so their temporal cutoffs cannot skew
	LookBack time.Duration

	// IndifferenceKm is the band within which two distances are treated
	// as tied, so near-identical distances do not flap the order
	IndifferenceKm float64
}

// DefaultAggregatorConfig returns the standard feed policy
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		PageSize:       20,
		LookBack:       3 * time.Hour,
		IndifferenceKm: 0.5,
	}
}

// Aggregator implements the feed.Aggregator interface: it merges the
// moment and event sources into one ranked, paginated feed.
type Aggregator struct {
	moments     feed.Source
	events      feed.Source
	profiles    profile.Store
	momentParts feed.ParticipationStore
	eventParts  feed.ParticipationStore
	acquirer    geo.Acquirer
	session     identity.Session
	classifier  feed.Classifier
	config      AggregatorConfig
	now         func() time.Time

	mu      sync.Mutex
	filters feed.Filters
	visible []feed.Item
	page    int
	hasMore bool
	loading bool
	gen     uint64
}

// NewAggregator creates a feed aggregator. The acquirer may be nil when
// no location source exists; distance fields then stay unset.
func NewAggregator(
	moments feed.Source,
	events feed.Source,
	profiles profile.Store,
	momentParts feed.ParticipationStore,
	eventParts feed.ParticipationStore,
	acquirer geo.Acquirer,
	session identity.Session,
	classifier feed.Classifier,
	config AggregatorConfig,
) *Aggregator {
	return &Aggregator{
		moments:     moments,
		events:      events,
		profiles:    profiles,
		momentParts: momentParts,
		eventParts:  eventParts,
		acquirer:    acquirer,
		session:     session,
		classifier:  classifier,
		config:      config,
		now:         time.Now,
		hasMore:     true,
	}
}

// Items returns a copy of the currently visible feed
func (a *Aggregator) Items() []feed.Item {
	a.mu.Lock()
	defer a.mu.Unlock()

	items := make([]feed.Item, len(a.visible))
	copy(items, a.visible)
	return items
}

// HasMore reports whether another page is available
func (a *Aggregator) HasMore() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.hasMore
}

// ApplyFilters replaces the filter set and reloads from page zero
func (a *Aggregator) ApplyFilters(ctx context.Context, filters feed.Filters) error {
	return a.LoadFeed(ctx, filters, true)
}

// LoadMore requests the next page; a no-op while a load is running or
// when the previous load reported no more data
func (a *Aggregator) LoadMore(ctx context.Context) error {
	a.mu.Lock()
	if a.loading || !a.hasMore {
		a.mu.Unlock()
		return nil
	}
	filters := a.filters
	a.mu.Unlock()

	return a.LoadFeed(ctx, filters, false)
}

// LoadFeed fetches both sources in parallel, merges, ranks and
// paginates. In-flight loads are not cancelled when a new one starts;
// a load that finishes after a newer one began discards its result.
func (a *Aggregator) LoadFeed(ctx context.Context, filters feed.Filters, resetPage bool) error {
	a.mu.Lock()
	a.loading = true
	a.gen++
	myGen := a.gen
	offset := a.page
	if resetPage {
		offset = 0
	}
	a.filters = filters
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.gen == myGen {
			a.loading = false
		}
		a.mu.Unlock()
	}()

	// One shared now for both sources, so their cutoffs cannot skew
	now := a.now()

	merged, err := a.buildWorkingSet(ctx, filters, now)
	if err != nil {
		return err
	}

	// Paginate the fully merged, fully sorted set in memory. Per-source
	// pagination cannot produce a globally correct ordering across two
	// independent id spaces.
	start := offset * a.config.PageSize
	end := start + a.config.PageSize
	if start > len(merged) {
		start = len(merged)
	}
	if end > len(merged) {
		end = len(merged)
	}
	slice := merged[start:end]

	hasMore := len(slice) == a.config.PageSize && end < len(merged)

	a.mu.Lock()
	defer a.mu.Unlock()

	// A newer load already started; let its result win
	if a.gen != myGen {
		return nil
	}

	if resetPage {
		a.visible = append([]feed.Item(nil), slice...)
		a.page = 1
	} else {
		a.visible = append(a.visible, slice...)
		a.page = offset + 1
	}
	a.hasMore = hasMore

	return nil
}

// buildWorkingSet produces the full merged, ranked item set
func (a *Aggregator) buildWorkingSet(ctx context.Context, filters feed.Filters, now time.Time) ([]feed.Item, error) {
	momentItems, eventItems, err := a.fetchBoth(ctx, filters, now)
	if err != nil {
		return nil, err
	}

	working := make([]feed.Item, 0, len(momentItems)+len(eventItems))
	working = append(working, momentItems...)
	working = append(working, eventItems...)

	// Authoritative temporal re-check against the precise now; the
	// store-side predicate is only an optimization
	working = lo.FilterMap(working, func(it feed.Item, _ int) (feed.Item, bool) {
		cl := a.classifier.Classify(it.StartsAt, it.EndsAt, now)
		it.TemporalStatus = cl.Status
		return it, cl.Visible
	})

	a.attachHosts(ctx, working)
	working = a.attachDistances(working, filters)
	a.attachCounts(ctx, working)

	a.rank(working)

	return working, nil
}

// fetchBoth issues the two source fetches concurrently and waits for
// both; every page therefore represents both sources
func (a *Aggregator) fetchBoth(ctx context.Context, filters feed.Filters, now time.Time) ([]feed.Item, []feed.Item, error) {
	var (
		wg          sync.WaitGroup
		momentItems []feed.Item
		eventItems  []feed.Item
		momentErr   error
		eventErr    error
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		momentItems, momentErr = a.moments.FetchVisible(ctx, filters, now, a.config.LookBack)
	}()

	go func() {
		defer wg.Done()
		eventItems, eventErr = a.events.FetchVisible(ctx, filters, now, a.config.LookBack)
	}()

	wg.Wait()

	// The aggregator owns kind tagging so ranking and participation
	// routing never depend on the stores setting it
	for i := range momentItems {
		momentItems[i].ContentKind = a.moments.Kind()
	}
	for i := range eventItems {
		eventItems[i].ContentKind = a.events.Kind()
	}

	// A single failed source contributes zero items; only total failure
	// is surfaced to the caller
	if momentErr != nil && eventErr != nil {
		return nil, nil, fmt.Errorf("%w: moments: %v, events: %v", ErrAllSourcesFailed, momentErr, eventErr)
	}
	if momentErr != nil {
		log.WithError(momentErr).Warn("moment source failed, continuing without it")
		momentItems = nil
	}
	if eventErr != nil {
		log.WithError(eventErr).Warn("event source failed, continuing without it")
		eventItems = nil
	}

	return momentItems, eventItems, nil
}

// attachHosts batch-resolves the distinct host ids across both result
// sets in one lookup
func (a *Aggregator) attachHosts(ctx context.Context, items []feed.Item) {
	hostIDs := lo.Uniq(lo.FilterMap(items, func(it feed.Item, _ int) (string, bool) {
		return it.HostID, it.HostID != ""
	}))
	if len(hostIDs) == 0 {
		return
	}

	profiles, err := a.profiles.ResolveProfiles(ctx, hostIDs)
	if err != nil {
		// Unresolvable hosts degrade to a nil Host, never fail the item
		log.WithError(err).Warn("host resolution failed")
		return
	}

	for i := range items {
		if p, ok := profiles[items[i].HostID]; ok {
			host := p
			items[i].Host = &host
		}
	}
}

// attachDistances computes the viewer distance for items with a
// resolvable place and applies the max-distance filter. Items without
// a computed distance are never excluded by distance.
func (a *Aggregator) attachDistances(items []feed.Item, filters feed.Filters) []feed.Item {
	var viewer *geo.Coordinate
	if a.acquirer != nil {
		viewer = a.acquirer.CurrentLocation()
	}
	if viewer == nil {
		return items
	}

	for i := range items {
		if items[i].Place == nil || items[i].Place.Coordinate == nil {
			continue
		}
		d := geo.DistanceKm(*viewer, *items[i].Place.Coordinate)
		items[i].DistanceKm = &d
	}

	if filters.MaxDistanceKm <= 0 {
		return items
	}

	return lo.Filter(items, func(it feed.Item, _ int) bool {
		return it.DistanceKm == nil || *it.DistanceKm <= filters.MaxDistanceKm
	})
}

// attachCounts resolves participant tallies per kind in batched
// lookups; the participation collections are separate from the
// content collections
func (a *Aggregator) attachCounts(ctx context.Context, items []feed.Item) {
	byKind := map[feed.ContentKind][]string{}
	for _, it := range items {
		byKind[it.ContentKind] = append(byKind[it.ContentKind], it.ID)
	}

	counts := map[string]int{}
	for kind, ids := range byKind {
		store := a.participationFor(kind)
		if store == nil {
			continue
		}
		kindCounts, err := store.CountForItems(ctx, ids)
		if err != nil {
			log.WithError(err).WithField("kind", kind).Warn("participant count failed")
			continue
		}
		for id, n := range kindCounts {
			counts[id] = n
		}
	}

	for i := range items {
		items[i].Participants = feed.Tally{Count: counts[items[i].ID]}
	}
}

func (a *Aggregator) participationFor(kind feed.ContentKind) feed.ParticipationStore {
	switch kind {
	case feed.KindMoment:
		return a.momentParts
	case feed.KindEvent:
		return a.eventParts
	default:
		return nil
	}
}

// rank sorts the working set by composite key: distance ascending with
// an indifference band, then temporal status priority, then start time
func (a *Aggregator) rank(items []feed.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		di, dj := items[i].DistanceKm, items[j].DistanceKm

		switch {
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		case di != nil && dj != nil:
			// Two items within the band are tied on distance and fall
			// through to the next criterion
			gap := *di - *dj
			if gap < -a.config.IndifferenceKm {
				return true
			}
			if gap > a.config.IndifferenceKm {
				return false
			}
		}

		pi, pj := items[i].TemporalStatus.Priority(), items[j].TemporalStatus.Priority()
		if pi != pj {
			return pi < pj
		}

		si, sj := items[i].StartsAt, items[j].StartsAt
		if si == nil || sj == nil {
			return sj == nil && si != nil
		}
		return si.Before(*sj)
	})
}

// JoinItem performs the server-side atomic join and, only on a joined
// outcome, optimistically updates the local item. The local tally is
// marked stale until the next full reload reconciles it.
func (a *Aggregator) JoinItem(ctx context.Context, itemID string) (feed.JoinOutcome, error) {
	if !a.session.Authenticated() {
		return "", ErrNotAuthenticated
	}

	a.mu.Lock()
	idx := a.indexOf(itemID)
	if idx < 0 {
		a.mu.Unlock()
		return "", ErrItemNotVisible
	}
	if a.visible[idx].ContentKind != feed.KindMoment {
		a.mu.Unlock()
		return "", ErrNotJoinable
	}
	// A locally full item skips the round-trip; the store-side join
	// stays the arbiter for everything that reaches it
	if a.visible[idx].Full() {
		a.mu.Unlock()
		return feed.OutcomeFull, nil
	}
	a.mu.Unlock()

	outcome, err := a.momentParts.Join(ctx, itemID, a.session.UserID)
	if err != nil {
		return "", fmt.Errorf("error joining item: %w", err)
	}

	if outcome == feed.OutcomeJoined {
		a.mu.Lock()
		if idx := a.indexOf(itemID); idx >= 0 {
			it := &a.visible[idx]
			it.ParticipantIDs = append(it.ParticipantIDs, a.session.UserID)
			it.Participants.Count++
			it.Participants.Stale = true
		}
		a.mu.Unlock()
	}

	return outcome, nil
}

// LeaveItem deletes the participation record and optimistically
// decrements the local tally, clamped at zero
func (a *Aggregator) LeaveItem(ctx context.Context, itemID string) (bool, error) {
	if !a.session.Authenticated() {
		return false, ErrNotAuthenticated
	}

	a.mu.Lock()
	idx := a.indexOf(itemID)
	if idx < 0 {
		a.mu.Unlock()
		return false, ErrItemNotVisible
	}
	if a.visible[idx].ContentKind != feed.KindMoment {
		a.mu.Unlock()
		return false, ErrNotJoinable
	}
	a.mu.Unlock()

	if err := a.momentParts.Leave(ctx, itemID, a.session.UserID); err != nil {
		return false, fmt.Errorf("error leaving item: %w", err)
	}

	a.mu.Lock()
	if idx := a.indexOf(itemID); idx >= 0 {
		it := &a.visible[idx]
		it.ParticipantIDs = lo.Without(it.ParticipantIDs, a.session.UserID)
		if it.Participants.Count > 0 {
			it.Participants.Count--
		}
		it.Participants.Stale = true
	}
	a.mu.Unlock()

	return true, nil
}

// indexOf finds an item in the visible feed; callers hold the lock
func (a *Aggregator) indexOf(itemID string) int {
	for i := range a.visible {
		if a.visible[i].ID == itemID {
			return i
		}
	}
	return -1
}
