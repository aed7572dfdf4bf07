package types

import (
	"time"
)

// User is a registered recipient of trigger notifications.
type User struct {
	ID            string           `json:"id"`
	Email         string           `json:"email"`
	Nickname      string           `json:"nickname"`
	Status        UserStatus       `json:"status"`
	Interests     InterestList     `json:"interests"`
	Lat           *float64         `json:"lat,omitempty"`
	Lon           *float64         `json:"lon,omitempty"`
	LocationLabel string           `json:"location_label,omitempty"`
	Thresholds    *AlertThresholds `json:"thresholds,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// InterestList is a set of interest categories stored as a JSONB column.
type InterestList []InterestCategory

// Has reports whether the list contains the given category.
func (l InterestList) Has(cat InterestCategory) bool {
	for _, c := range l {
		if c == cat {
			return true
		}
	}
	return false
}

// AlertThresholds holds optional per-user overrides for threshold strategies.
// Nil fields fall back to the platform defaults.
type AlertThresholds struct {
	TempHighC *float64 `json:"temp_high_c,omitempty"`
	TempLowC  *float64 `json:"temp_low_c,omitempty"`
	PM10      *float64 `json:"pm10,omitempty"`
	PM25      *float64 `json:"pm25,omitempty"`
}

// TriggerContext carries everything a strategy may inspect during one
// evaluation call. It is owned exclusively by that call and discarded after.
type TriggerContext struct {
	User          *User
	Interests     InterestList
	Lat           *float64
	Lon           *float64
	LocationLabel string
	Snapshot      *Snapshot
	Source        EvaluationSource
}

// HasLocation reports whether the context carries usable coordinates.
func (c *TriggerContext) HasLocation() bool {
	return c.Lat != nil && c.Lon != nil
}

// TriggerOutcome is the value returned by a strategy evaluation.
// It is immutable once constructed.
type TriggerOutcome struct {
	Triggered     bool              `json:"triggered"`
	Kind          ConditionKind     `json:"kind"`
	Title         string            `json:"title"`
	Message       string            `json:"message"`
	LocationLabel string            `json:"location_label,omitempty"`
	Lat           *float64          `json:"lat,omitempty"`
	Lon           *float64          `json:"lon,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NotTriggered is the canonical negative outcome for a condition kind.
func NotTriggered(kind ConditionKind) TriggerOutcome {
	return TriggerOutcome{Triggered: false, Kind: kind}
}

// EvaluationResult aggregates the surviving outcomes of one evaluation cycle
// for one user. Outcomes holds only triggered, non-suppressed outcomes in
// strategy priority order.
type EvaluationResult struct {
	UserID         string           `json:"user_id"`
	Outcomes       []TriggerOutcome `json:"outcomes"`
	TotalEvaluated int              `json:"total_evaluated"`
	TotalTriggered int              `json:"total_triggered"`
	Source         EvaluationSource `json:"source"`
	EvaluatedAt    time.Time        `json:"evaluated_at"`
}

// DedupPolicy is the static suppression configuration for a condition kind.
type DedupPolicy struct {
	Check CheckKind
	// Window is the suppression window for the windowed check kinds.
	// Ignored for CheckNone and CheckUniqueIdentifier (unbounded).
	Window time.Duration
	// UniqueIDKey names the outcome metadata key carrying the domain-unique
	// identifier. Only set for CheckUniqueIdentifier.
	UniqueIDKey string
}

// TriggerHistoryRecord is the append-only persisted record of a trigger
// firing. Records are never updated; retention is an external concern.
type TriggerHistoryRecord struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id"`
	Kind          ConditionKind        `json:"kind"`
	Title         string               `json:"title"`
	Message       string               `json:"message"`
	LocationLabel string               `json:"location_label,omitempty"`
	Lat           *float64             `json:"lat,omitempty"`
	Lon           *float64             `json:"lon,omitempty"`
	Priority      NotificationPriority `json:"priority"`
	Source        EvaluationSource     `json:"source"`
	// DedupKey is the suppression lookup key derived from the policy:
	// the unique identifier, the location label, or empty for
	// condition-based checks.
	DedupKey string    `json:"dedup_key,omitempty"`
	Metadata Metadata  `json:"metadata,omitempty"`
	FiredAt  time.Time `json:"fired_at"`
}
