// internal/adapter/storage/event_store.go

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"ritrovo/internal/domain/feed"
	"ritrovo/internal/domain/profile"
)

// EventStore implements the feed.Source interface for the events
// collection. Events are scheduled records with their own
// discoverability flag; they carry no mood tag and no inline
// participant list.
type EventStore struct {
	db         *pgxpool.Pool
	profiles   profile.Store
	classifier feed.Classifier
	pageSize   int
}

// NewEventStore creates a new event source
func NewEventStore(db *pgxpool.Pool, profiles profile.Store, classifier feed.Classifier, pageSize int) *EventStore {
	return &EventStore{
		db:         db,
		profiles:   profiles,
		classifier: classifier,
		pageSize:   pageSize,
	}
}

// Kind returns the content kind this source produces
func (s *EventStore) Kind() feed.ContentKind {
	return feed.KindEvent
}

// FetchVisible returns every publicly listed event passing the
// store-side temporal predicate and the user filters, unpaginated
func (s *EventStore) FetchVisible(ctx context.Context, filters feed.Filters, now time.Time, lookBack time.Duration) ([]feed.Item, error) {
	query, args := s.buildQuery(filters, now, lookBack, -1, 0)
	return s.fetch(ctx, query, args, now)
}

// FetchPage is the standalone paged variant with hosts resolved
func (s *EventStore) FetchPage(ctx context.Context, filters feed.Filters, pageOffset int) ([]feed.Item, error) {
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

func (s *EventStore) buildQuery(filters feed.Filters, now time.Time, lookBack time.Duration, limit, offset int) (string, []interface{}) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT
			id, title, description, starts_at, ends_at, host_id,
			max_participants, tags, photos, listed,
			age_range_min, age_range_max, registration_status,
			place, created_at, updated_at
		FROM events
		WHERE listed = true
		AND deleted_at IS NULL
		AND starts_at IS NOT NULL
	`)

	args := []interface{}{}
	argIndex := 1

	queryBuilder.WriteString(fmt.Sprintf(
		" AND (ends_at >= $%d OR (ends_at IS NULL AND starts_at >= $%d))",
		argIndex, argIndex+1,
	))
	args = append(args, now, now.Add(-lookBack))
	argIndex += 2

	// Events carry no mood tag, so that filter does not apply
	argIndex = appendFilterPredicates(&queryBuilder, &args, argIndex, filters, false)

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

func (s *EventStore) fetch(ctx context.Context, query string, args []interface{}, now time.Time) ([]feed.Item, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying events: %w", err)
	}
	defer rows.Close()

	var items []feed.Item
	for rows.Next() {
		var (
			it        feed.Item
			place     []byte
			desc      *string
			regStatus *string
		)

		if err := rows.Scan(
			&it.ID, &it.Title, &desc, &it.StartsAt, &it.EndsAt, &it.HostID,
			&it.MaxParticipants, &it.Tags, &it.Photos, &it.Discoverable,
			&it.AgeRangeMin, &it.AgeRangeMax, &regStatus,
			&place, &it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning event: %w", err)
		}

		if desc != nil {
			it.Description = *desc
		}
		if regStatus != nil {
			it.RegistrationStatus = *regStatus
		}
		it.ContentKind = feed.KindEvent
		it.Place = decodePlace(place)

		if cl := s.classifier.Classify(it.StartsAt, it.EndsAt, now); !cl.Visible {
			continue
		}

		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return items, nil
}
