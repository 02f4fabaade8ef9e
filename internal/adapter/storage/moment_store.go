// internal/adapter/storage/moment_store.go

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/samber/lo"

	"ritrovo/internal/domain/feed"
	"ritrovo/internal/domain/profile"
)

// MomentStore implements the feed.Source interface for the moments
// collection
type MomentStore struct {
	db         *pgxpool.Pool
	profiles   profile.Store
	classifier feed.Classifier
	pageSize   int
}

// NewMomentStore creates a new moment source
func NewMomentStore(db *pgxpool.Pool, profiles profile.Store, classifier feed.Classifier, pageSize int) *MomentStore {
	return &MomentStore{
		db:         db,
		profiles:   profiles,
		classifier: classifier,
		pageSize:   pageSize,
	}
}

// Kind returns the content kind this source produces
func (s *MomentStore) Kind() feed.ContentKind {
	return feed.KindMoment
}

// FetchVisible returns every discoverable moment passing the store-side
// temporal predicate and the user filters, unpaginated
func (s *MomentStore) FetchVisible(ctx context.Context, filters feed.Filters, now time.Time, lookBack time.Duration) ([]feed.Item, error) {
	query, args := s.buildQuery(filters, now, lookBack, -1, 0)
	return s.fetch(ctx, query, args, now)
}

// defaultLookBack bounds the no-end-time grace period applied by the
// standalone paged fetch
const defaultLookBack = 3 * time.Hour

// FetchPage is the standalone paged variant with hosts resolved
func (s *MomentStore) FetchPage(ctx context.Context, filters feed.Filters, pageOffset int) ([]feed.Item, error) {
	now := time.Now()
	query, args := s.buildQuery(filters, now, defaultLookBack, s.pageSize, pageOffset*s.pageSize)

	items, err := s.fetch(ctx, query, args, now)
	if err != nil {
		return nil, err
	}

	if err := attachHosts(ctx, s.profiles, items); err != nil {
		return nil, err
	}

	return items, nil
}

// buildQuery assembles the moments query: discovery predicates first,
// then the temporal OR condition, then the user filters
func (s *MomentStore) buildQuery(filters feed.Filters, now time.Time, lookBack time.Duration, limit, offset int) (string, []interface{}) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT
			id, title, description, starts_at, ends_at, host_id,
			participant_ids, max_participants, mood_tag, tags, photos,
			discoverable, age_range_min, age_range_max,
			registration_status, place, created_at, updated_at
		FROM moments
		WHERE discoverable = true
		AND deleted_at IS NULL
		AND starts_at IS NOT NULL
	`)

	args := []interface{}{}
	argIndex := 1

	// Live-or-future predicate: an end time still ahead of now, or no
	// end time and a start within the look-back window of the past
	queryBuilder.WriteString(fmt.Sprintf(
		" AND (ends_at >= $%d OR (ends_at IS NULL AND starts_at >= $%d))",
		argIndex, argIndex+1,
	))
	args = append(args, now, now.Add(-lookBack))
	argIndex += 2

	argIndex = appendFilterPredicates(&queryBuilder, &args, argIndex, filters, true)

	queryBuilder.WriteString(" ORDER BY starts_at ASC")

	if limit > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d", argIndex))
		args = append(args, limit)
		argIndex++
	}

	if offset > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" OFFSET $%d", argIndex))
		args = append(args, offset)
	}

	return queryBuilder.String(), args
}

// fetch runs the query and shapes raw rows into feed items, with the
// classifier re-applied client-side against the precise now
func (s *MomentStore) fetch(ctx context.Context, query string, args []interface{}, now time.Time) ([]feed.Item, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying moments: %w", err)
	}
	defer rows.Close()

	var items []feed.Item
	for rows.Next() {
		var (
			it        feed.Item
			place     []byte
			desc      *string
			moodTag   *string
			regStatus *string
		)

		if err := rows.Scan(
			&it.ID, &it.Title, &desc, &it.StartsAt, &it.EndsAt, &it.HostID,
			&it.ParticipantIDs, &it.MaxParticipants, &moodTag, &it.Tags, &it.Photos,
			&it.Discoverable, &it.AgeRangeMin, &it.AgeRangeMax,
			&regStatus, &place, &it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning moment: %w", err)
		}

		if desc != nil {
			it.Description = *desc
		}
		if moodTag != nil {
			it.MoodTag = *moodTag
		}
		if regStatus != nil {
			it.RegistrationStatus = *regStatus
		}
		it.ContentKind = feed.KindMoment
		it.Place = decodePlace(place)

		// The store predicate is an optimization; items that expired
		// between query construction and response are dropped here
		if cl := s.classifier.Classify(it.StartsAt, it.EndsAt, now); !cl.Visible {
			continue
		}

		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating moments: %w", err)
	}

	return items, nil
}

// appendFilterPredicates translates the user filters into store-side
// predicates shared by the moment and event queries
func appendFilterPredicates(b *strings.Builder, args *[]interface{}, argIndex int, filters feed.Filters, withMood bool) int {
	if filters.Query != "" {
		b.WriteString(fmt.Sprintf(
			" AND (title ILIKE $%d OR description ILIKE $%d)",
			argIndex, argIndex,
		))
		*args = append(*args, "%"+filters.Query+"%")
		argIndex++
	}

	if withMood && filters.Mood != "" {
		b.WriteString(fmt.Sprintf(" AND mood_tag = $%d", argIndex))
		*args = append(*args, filters.Mood)
		argIndex++
	}

	// Age ranges must overlap the requested bounds
	if filters.AgeMin > 0 {
		b.WriteString(fmt.Sprintf(" AND (age_range_max = 0 OR age_range_max >= $%d)", argIndex))
		*args = append(*args, filters.AgeMin)
		argIndex++
	}

	if filters.AgeMax > 0 {
		b.WriteString(fmt.Sprintf(" AND age_range_min <= $%d", argIndex))
		*args = append(*args, filters.AgeMax)
		argIndex++
	}

	if filters.DateFrom != nil {
		b.WriteString(fmt.Sprintf(" AND starts_at >= $%d", argIndex))
		*args = append(*args, *filters.DateFrom)
		argIndex++
	}

	if filters.DateTo != nil {
		b.WriteString(fmt.Sprintf(" AND starts_at <= $%d", argIndex))
		*args = append(*args, *filters.DateTo)
		argIndex++
	}

	if len(filters.Tags) > 0 {
		b.WriteString(fmt.Sprintf(" AND tags && $%d", argIndex))
		*args = append(*args, filters.Tags)
		argIndex++
	}

	if filters.Province != "" {
		b.WriteString(fmt.Sprintf(" AND place->>'address' ILIKE $%d", argIndex))
		*args = append(*args, "%"+filters.Province+"%")
		argIndex++
	}

	return argIndex
}

// attachHosts resolves the distinct host ids of a page in one batched
// lookup; unresolvable hosts degrade to a nil Host
func attachHosts(ctx context.Context, profiles profile.Store, items []feed.Item) error {
	hostIDs := lo.Uniq(lo.FilterMap(items, func(it feed.Item, _ int) (string, bool) {
		return it.HostID, it.HostID != ""
	}))
	if len(hostIDs) == 0 {
		return nil
	}

	resolved, err := profiles.ResolveProfiles(ctx, hostIDs)
	if err != nil {
		return fmt.Errorf("error resolving hosts: %w", err)
	}

	for i := range items {
		if p, ok := resolved[items[i].HostID]; ok {
			host := p
			items[i].Host = &host
		}
	}

	return nil
}
