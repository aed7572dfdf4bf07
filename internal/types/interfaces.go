package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability. Suppression windows are always
// evaluated against an injected Clock, never a global wall-clock call
// inside business logic.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// UserDirectory resolves notification recipients. Backed by the relational
// store in production; the engine only depends on this interface.
type UserDirectory interface {
	// FindByID returns the user or a not_found_user AppError.
	FindByID(ctx context.Context, id string) (*User, error)
	// FindAllActive returns every user eligible for scheduled evaluation.
	FindAllActive(ctx context.Context) ([]User, error)
	// FindByInterest returns active users who declared the given interest.
	FindByInterest(ctx context.Context, cat InterestCategory) ([]User, error)
}

// SnapshotProvider exposes the public-data feeds consumed by strategies.
// Caching, retry, and upstream HTTP concerns live entirely behind this
// interface.
type SnapshotProvider interface {
	GetWeather(ctx context.Context) (*WeatherSnapshot, error)
	GetAirQuality(ctx context.Context) (*AirQualitySnapshot, error)
	GetCulturalEvents(ctx context.Context) ([]CulturalEvent, error)
	GetCityData(ctx context.Context) (*CityDataSnapshot, error)
}

// TriggerHistoryStore is the append-only record of past trigger firings.
// It is the only shared mutable state the engine depends on.
type TriggerHistoryStore interface {
	// Exists reports whether a record exists for (userID, kind, dedupKey)
	// with FiredAt >= since. A zero since means an unbounded lookback.
	// An empty dedupKey matches any record for (userID, kind).
	Exists(ctx context.Context, userID string, kind ConditionKind, dedupKey string, since time.Time) (bool, error)

	// Append persists a new firing record.
	Append(ctx context.Context, rec *TriggerHistoryRecord) error

	// AppendIfAbsent atomically re-checks suppression and appends the record
	// in one step, returning false when a concurrent evaluation already
	// recorded the same (user, kind, dedup key) since the given time.
	// This is the accept-and-record step required to keep duplicate
	// notifications from slipping through concurrent batch runs.
	AppendIfAbsent(ctx context.Context, rec *TriggerHistoryRecord, since time.Time) (bool, error)
}

// NotificationDispatcher hands a surviving outcome to the delivery pipeline.
// Delivery mechanics (channel selection, retries, formatting) are out of
// scope for the engine.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, userID string, outcome *TriggerOutcome) error
}
