// internal/domain/profile/model.go

package profile

import (
	"context"

	"ritrovo/internal/domain/geo"
)

// Profile is the public display identity of a user
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Store defines profile lookups shared by the feed and presence layers
type Store interface {
	// ResolveProfiles returns display profiles for the given user ids in
	// one batched lookup; unknown ids are simply absent from the result
	ResolveProfiles(ctx context.Context, ids []string) (map[string]Profile, error)

	// SavedCoordinate returns the coordinate last persisted to the user's
	// profile, or nil when none was saved
	SavedCoordinate(ctx context.Context, userID string) (*geo.Coordinate, error)

	// SaveCoordinate persists the user's latest coordinate
	SaveCoordinate(ctx context.Context, userID string, c geo.Coordinate) error
}
