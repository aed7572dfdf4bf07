package types

// ConditionKind identifies a trigger condition in the closed registry.
// The set is fixed at process start and never mutated at runtime.
type ConditionKind string

const (
	KindTemperatureHigh ConditionKind = "temperature_high"
	KindTemperatureLow  ConditionKind = "temperature_low"
	KindAirQualityBad   ConditionKind = "air_quality_bad"
	KindCongestionHigh  ConditionKind = "congestion_high"
	KindBikeShortage    ConditionKind = "bike_shortage"
	KindBikeFull        ConditionKind = "bike_full"
	KindCulturalEvent   ConditionKind = "cultural_event"
	KindEmergencyAlert  ConditionKind = "emergency_alert"
)

// InterestCategory is a user-declared interest used to filter which
// strategies apply to a user and which users a batch run targets.
type InterestCategory string

const (
	InterestWeather    InterestCategory = "WEATHER"
	InterestAirQuality InterestCategory = "AIR_QUALITY"
	InterestTransit    InterestCategory = "TRANSIT"
	InterestCongestion InterestCategory = "CONGESTION"
	InterestCulture    InterestCategory = "CULTURE"
	InterestEmergency  InterestCategory = "EMERGENCY"
)

// AllInterests defines the complete set of valid interest categories.
// Used by validators to check declared interests on user records.
var AllInterests = []InterestCategory{
	InterestWeather,
	InterestAirQuality,
	InterestTransit,
	InterestCongestion,
	InterestCulture,
	InterestEmergency,
}

// CheckKind selects the suppression granularity applied by a DedupPolicy.
type CheckKind string

const (
	// CheckNone disables suppression entirely. Reserved for life-safety
	// conditions where delivery must never be blocked.
	CheckNone CheckKind = "no_check"
	// CheckUniqueIdentifier suppresses forever per (user, domain-unique id).
	CheckUniqueIdentifier CheckKind = "unique_identifier"
	// CheckLocationBased suppresses per (user, condition, location key)
	// within the policy window.
	CheckLocationBased CheckKind = "location_based"
	// CheckConditionBased suppresses per (user, condition) within the
	// policy window.
	CheckConditionBased CheckKind = "condition_based"
)

// EvaluationSource records which driver initiated an evaluation.
type EvaluationSource string

const (
	SourceScheduled EvaluationSource = "scheduled"
	SourceRealtime  EvaluationSource = "realtime"
)

// UserStatus represents the account lifecycle state of a user.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
)

// NotificationPriority determines downstream delivery ordering.
type NotificationPriority string

const (
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)
