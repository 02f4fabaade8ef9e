// internal/domain/presence/model.go

package presence

import (
	"context"
	"time"

	"ritrovo/internal/domain/geo"
	"ritrovo/internal/domain/profile"
)

// Record is a per-user heartbeat row: online status plus last known
// location. One record per user, upserted only by that user.
type Record struct {
	UserID     string           `json:"user_id"`
	Location   *geo.Coordinate  `json:"location,omitempty"`
	LastSeenAt time.Time        `json:"last_seen_at"`
	IsOnline   bool             `json:"is_online"`
	Status     string           `json:"status,omitempty"`
	Profile    *profile.Profile `json:"profile,omitempty"` // resolved display identity, may be nil
}

// StaleAfter reports whether the record should be treated as offline
// regardless of its IsOnline flag. The explicit offline transition on
// teardown is best-effort, so staleness is the authoritative signal.
func (r Record) StaleAfter(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.LastSeenAt) > threshold
}

// Store persists and queries presence records
type Store interface {
	// Upsert writes the user's presence record, replacing any previous one
	Upsert(ctx context.Context, r Record) error

	// ListOnline returns records flagged online with a heartbeat newer
	// than the staleness threshold, excluding the given user
	ListOnline(ctx context.Context, excludeUserID string, staleness time.Duration) ([]Record, error)
}

// Tracker maintains the local user's own presence and a live view of
// who is online nearby
type Tracker interface {
	// Start publishes the initial record and begins the heartbeat loop
	// and change-feed subscription
	Start(ctx context.Context) error

	// PublishPresence re-publishes the user's record, fire-and-forget;
	// overlapping calls from the same tracker are skipped
	PublishPresence(ctx context.Context, status string)

	// SetOffline best-effort publishes an offline record
	SetOffline(ctx context.Context)

	// NearbyOnlineUsers returns the latest derived nearby-online set
	NearbyOnlineUsers() []Record

	// Stop tears the tracker down, publishing offline on the way out
	Stop(ctx context.Context) error
}
