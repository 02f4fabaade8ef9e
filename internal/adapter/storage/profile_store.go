// internal/adapter/storage/profile_store.go

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ritrovo/internal/domain/geo"
	"ritrovo/internal/domain/profile"
)

// ProfileStore implements the profile.Store interface
type ProfileStore struct {
	db *pgxpool.Pool
}

// NewProfileStore creates a new profile store
func NewProfileStore(db *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{db: db}
}

// ResolveProfiles returns display profiles for the given user ids in
// one batched lookup
func (s *ProfileStore) ResolveProfiles(ctx context.Context, ids []string) (map[string]profile.Profile, error) {
	if len(ids) == 0 {
		return map[string]profile.Profile{}, nil
	}

	query := `
		SELECT id, display_name, avatar_url
		FROM profiles
		WHERE id = ANY($1)
	`

	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("error querying profiles: %w", err)
	}
	defer rows.Close()

	profiles := make(map[string]profile.Profile, len(ids))
	for rows.Next() {
		var p profile.Profile
		var avatar *string

		if err := rows.Scan(&p.ID, &p.Name, &avatar); err != nil {
			return nil, fmt.Errorf("error scanning profile: %w", err)
		}
		if avatar != nil {
			p.AvatarURL = *avatar
		}

		profiles[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, nil
}

// SavedCoordinate returns the coordinate last persisted to the user's
// profile, or nil when none was saved
func (s *ProfileStore) SavedCoordinate(ctx context.Context, userID string) (*geo.Coordinate, error) {
	query := `
		SELECT last_lat, last_lng, location_saved_at
		FROM profiles
		WHERE id = $1
	`

	var lat, lng *float64
	var savedAt *time.Time

	err := s.db.QueryRow(ctx, query, userID).Scan(&lat, &lng, &savedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying saved coordinate: %w", err)
	}

	if lat == nil || lng == nil {
		return nil, nil
	}

	c := geo.Coordinate{Latitude: *lat, Longitude: *lng}
	if savedAt != nil {
		c.CapturedAt = *savedAt
	}

	return &c, nil
}

// SaveCoordinate persists the user's latest coordinate
func (s *ProfileStore) SaveCoordinate(ctx context.Context, userID string, c geo.Coordinate) error {
	query := `
		UPDATE profiles
		SET last_lat = $2, last_lng = $3, location_saved_at = $4
		WHERE id = $1
	`

	_, err := s.db.Exec(ctx, query, userID, c.Latitude, c.Longitude, c.CapturedAt)
	if err != nil {
		return fmt.Errorf("error saving coordinate: %w", err)
	}

	return nil
}
