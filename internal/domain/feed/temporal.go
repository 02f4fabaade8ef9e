// internal/domain/feed/temporal.go

package feed

import "time"

// ClassifierConfig contains the temporal policy windows. The boundary
// values are policy, not business invariants, so they are configurable.
type ClassifierConfig struct {
	// ToleranceWindow is how long after its start an item with no end
	// time is still considered currently relevant
	ToleranceWindow time.Duration

	// LookAhead is how close to its start an item counts as starting soon
	LookAhead time.Duration
}

// DefaultClassifierConfig returns the standard policy windows
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		ToleranceWindow: 24 * time.Hour,
		LookAhead:       2 * time.Hour,
	}
}

// Classification is the outcome of temporal validity analysis
type Classification struct {
	Status  TemporalStatus
	Visible bool
}

// Classifier decides whether an item is still relevant relative to a
// supplied now. Pure and total: no I/O, no clock of its own.
type Classifier struct {
	config ClassifierConfig
}

// NewClassifier creates a classifier with the given policy windows
func NewClassifier(config ClassifierConfig) Classifier {
	return Classifier{config: config}
}

// Classify determines an item's temporal status and visibility.
// An item with no start time is never visible in the feed.
func (c Classifier) Classify(startsAt, endsAt *time.Time, now time.Time) Classification {
	if startsAt == nil {
		return Classification{Status: StatusEnded, Visible: false}
	}

	start := *startsAt

	if endsAt != nil {
		end := *endsAt
		if now.After(end) {
			return Classification{Status: StatusEnded, Visible: false}
		}
		if !now.Before(start) {
			return Classification{Status: StatusLive, Visible: true}
		}
		return Classification{Status: c.futureStatus(start, now), Visible: true}
	}

	// No end time: keep the item visible through the tolerance window
	// after its start
	if now.After(start.Add(c.config.ToleranceWindow)) {
		return Classification{Status: StatusEnded, Visible: false}
	}
	if !now.Before(start) {
		return Classification{Status: StatusLive, Visible: true}
	}
	return Classification{Status: c.futureStatus(start, now), Visible: true}
}

// futureStatus classifies an item whose start is still ahead of now
func (c Classifier) futureStatus(start, now time.Time) TemporalStatus {
	if start.Sub(now) <= c.config.LookAhead {
		return StatusStartingSoon
	}
	return StatusUpcoming
}
