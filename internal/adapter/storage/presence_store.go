// internal/adapter/storage/presence_store.go

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"ritrovo/internal/domain/geo"
	"ritrovo/internal/domain/presence"
)

// PresenceStore implements the presence.Store interface. One row per
// user, upserted on every heartbeat.
type PresenceStore struct {
	db *pgxpool.Pool
}

// NewPresenceStore creates a new presence store
func NewPresenceStore(db *pgxpool.Pool) *PresenceStore {
	return &PresenceStore{db: db}
}

// Upsert writes the user's presence record, replacing any previous one
func (s *PresenceStore) Upsert(ctx context.Context, r presence.Record) error {
	query := `
		INSERT INTO presences (
			user_id, lat, lng, accuracy, last_seen_at, is_online, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			accuracy = EXCLUDED.accuracy,
			last_seen_at = EXCLUDED.last_seen_at,
			is_online = EXCLUDED.is_online,
			status = EXCLUDED.status
	`

	var lat, lng, accuracy *float64
	if r.Location != nil {
		lat = &r.Location.Latitude
		lng = &r.Location.Longitude
		accuracy = &r.Location.Accuracy
	}

	_, err := s.db.Exec(ctx, query,
		r.UserID, lat, lng, accuracy, r.LastSeenAt, r.IsOnline, r.Status,
	)
	if err != nil {
		return fmt.Errorf("error upserting presence: %w", err)
	}

	return nil
}

// ListOnline returns records flagged online with a heartbeat newer than
// the staleness threshold, excluding the given user. The teardown
// signal is best-effort, so the heartbeat age is part of the predicate.
func (s *PresenceStore) ListOnline(ctx context.Context, excludeUserID string, staleness time.Duration) ([]presence.Record, error) {
	query := `
		SELECT user_id, lat, lng, accuracy, last_seen_at, is_online, status
		FROM presences
		WHERE is_online = true
		AND last_seen_at >= $1
		AND user_id <> $2
		ORDER BY last_seen_at DESC
	`

	rows, err := s.db.Query(ctx, query, time.Now().Add(-staleness), excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("error querying presence: %w", err)
	}
	defer rows.Close()

	var records []presence.Record
	for rows.Next() {
		var r presence.Record
		var lat, lng, accuracy *float64
		var status *string

		if err := rows.Scan(&r.UserID, &lat, &lng, &accuracy, &r.LastSeenAt, &r.IsOnline, &status); err != nil {
			return nil, fmt.Errorf("error scanning presence: %w", err)
		}

		if lat != nil && lng != nil {
			c := geo.Coordinate{Latitude: *lat, Longitude: *lng}
			if accuracy != nil {
				c.Accuracy = *accuracy
			}
			c.CapturedAt = r.LastSeenAt
			r.Location = &c
		}
		if status != nil {
			r.Status = *status
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating presence: %w", err)
	}

	return records, nil
}
