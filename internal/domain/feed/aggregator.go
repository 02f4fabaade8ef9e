// internal/domain/feed/aggregator.go

package feed

import (
	"context"
	"time"
)

// Source supplies one content collection shaped into feed items
type Source interface {
	// Kind returns the content kind this source produces
	Kind() ContentKind

	// FetchVisible returns every item passing the store-side discovery
	// predicates and the user filters, unpaginated. The shared now and
	// look-back window keep the two sources' temporal cutoffs aligned.
	FetchVisible(ctx context.Context, filters Filters, now time.Time, lookBack time.Duration) ([]Item, error)

	// FetchPage is the standalone paged variant with hosts resolved,
	// for callers that consume a single source directly
	FetchPage(ctx context.Context, filters Filters, pageOffset int) ([]Item, error)
}

// JoinOutcome is the result of the server-side atomic join procedure
type JoinOutcome string

const (
	OutcomeJoined        JoinOutcome = "joined"
	OutcomeAlreadyJoined JoinOutcome = "already_joined"
	OutcomeFull          JoinOutcome = "full"
	OutcomeNotFound      JoinOutcome = "not_found"
)

// ParticipationStore tracks membership for one content collection
type ParticipationStore interface {
	// Join atomically registers the user, checking capacity server-side
	Join(ctx context.Context, itemID, userID string) (JoinOutcome, error)

	// Leave removes the user's participation record
	Leave(ctx context.Context, itemID, userID string) error

	// CountForItems returns confirmed participant counts per item id in
	// one batched query; ids with no participants are absent
	CountForItems(ctx context.Context, itemIDs []string) (map[string]int, error)
}

// Aggregator merges the moment and event sources into one ranked,
// paginated feed
type Aggregator interface {
	// LoadFeed fetches both sources, merges, ranks and paginates; with
	// resetPage it replaces the visible feed, otherwise it appends
	LoadFeed(ctx context.Context, filters Filters, resetPage bool) error

	// ApplyFilters replaces the filter set and reloads from page zero
	ApplyFilters(ctx context.Context, filters Filters) error

	// LoadMore requests the next page; a no-op while loading or when
	// the previous load reported no more data
	LoadMore(ctx context.Context) error

	// Items returns the currently visible feed
	Items() []Item

	// HasMore reports whether another page is available
	HasMore() bool

	// JoinItem performs the remote join and, on success, optimistically
	// updates the local item; only moment-kind items are joinable
	JoinItem(ctx context.Context, itemID string) (JoinOutcome, error)

	// LeaveItem removes participation and optimistically decrements the
	// local count, clamped at zero
	LeaveItem(ctx context.Context, itemID string) (bool, error)
}
