// internal/domain/feed/model.go

package feed

import (
	"time"

	"ritrovo/internal/domain/geo"
	"ritrovo/internal/domain/profile"
)

// ContentKind identifies which source collection an item came from
type ContentKind string

const (
	KindMoment ContentKind = "moment"
	KindEvent  ContentKind = "event"
)

// TemporalStatus classifies an item relative to its schedule
type TemporalStatus string

const (
	StatusLive         TemporalStatus = "live"
	StatusStartingSoon TemporalStatus = "starting_soon"
	StatusUpcoming     TemporalStatus = "upcoming"
	StatusEnded        TemporalStatus = "ended"
)

// Priority orders temporal statuses for ranking; lower sorts first
func (s TemporalStatus) Priority() int {
	switch s {
	case StatusLive:
		return 0
	case StatusStartingSoon:
		return 1
	case StatusUpcoming:
		return 2
	case StatusEnded:
		return 3
	default:
		return 4
	}
}

// Place is where an item happens
type Place struct {
	Coordinate *geo.Coordinate `json:"coordinate,omitempty"`
	Name       string          `json:"name"`
	Address    string          `json:"address,omitempty"`
}

// Tally is a participant count that may lag behind server truth.
// Optimistic join/leave mutations mark it stale until the next full
// reload reconciles it.
type Tally struct {
	Count int  `json:"count"`
	Stale bool `json:"stale"`
}

// Item is the unified projection of a moment or event record. It is
// derived on every fetch and never persisted.
type Item struct {
	ID                 string           `json:"id"`
	ContentKind        ContentKind      `json:"content_kind"`
	Title              string           `json:"title"`
	Description        string           `json:"description,omitempty"`
	StartsAt           *time.Time       `json:"starts_at,omitempty"`
	EndsAt             *time.Time       `json:"ends_at,omitempty"`
	Place              *Place           `json:"place,omitempty"`
	HostID             string           `json:"host_id,omitempty"`
	Host               *profile.Profile `json:"host,omitempty"`
	ParticipantIDs     []string         `json:"participant_ids,omitempty"`
	MaxParticipants    int              `json:"max_participants,omitempty"` // 0 means unbounded
	MoodTag            string           `json:"mood_tag,omitempty"`
	Tags               []string         `json:"tags,omitempty"`
	Photos             []string         `json:"photos,omitempty"`
	Discoverable       bool             `json:"discoverable"`
	AgeRangeMin        int              `json:"age_range_min,omitempty"`
	AgeRangeMax        int              `json:"age_range_max,omitempty"`
	RegistrationStatus string           `json:"registration_status,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`

	// Derived fields, attached by the aggregator
	DistanceKm     *float64       `json:"distance_km,omitempty"` // nil when viewer or place location is unknown
	Participants   Tally          `json:"participants"`
	TemporalStatus TemporalStatus `json:"temporal_status"`
}

// Full reports whether the item has reached its participant cap. The
// cap is advisory only; the server-side join procedure is the arbiter.
func (i Item) Full() bool {
	return i.MaxParticipants > 0 && i.Participants.Count >= i.MaxParticipants
}

// Filters are the user-chosen feed restrictions. Replacing the filter
// set resets pagination to the first page.
type Filters struct {
	Query         string
	Mood          string
	AgeMin        int
	AgeMax        int
	MaxDistanceKm float64
	DateFrom      *time.Time
	DateTo        *time.Time
	Tags          []string
	Province      string
}

// Page is one slice of the merged, ranked feed, or of a single source
// consumed standalone
type Page struct {
	Items   []Item `json:"items"`
	HasMore bool   `json:"has_more"`
}
