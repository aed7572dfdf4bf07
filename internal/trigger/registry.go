// Package trigger implements the trigger evaluation engine: the closed
// condition registry, the per-condition evaluation strategies, the
// orchestrator that runs them per user, and the deduplication policy
// resolver that suppresses repeat notifications against trigger history.
package trigger

import (
	"fmt"

	"citypulse/internal/types"
)

// ConditionSpec carries the display metadata and routing flags for one
// condition kind in the closed registry.
type ConditionSpec struct {
	Kind  types.ConditionKind
	Label string
	// Urgent conditions bypass suppression failures: they are delivered
	// even when the history store is unreachable.
	Urgent bool
	// RealtimeEligible conditions participate in location-update driven
	// evaluation in addition to the scheduled cycle.
	RealtimeEligible bool
}

// conditionTable is the closed enumeration of trigger conditions. It is
// created once at process start and never mutated at runtime.
var conditionTable = map[types.ConditionKind]ConditionSpec{
	types.KindTemperatureHigh: {
		Kind:             types.KindTemperatureHigh,
		Label:            "High temperature",
		RealtimeEligible: true,
	},
	types.KindTemperatureLow: {
		Kind:             types.KindTemperatureLow,
		Label:            "Low temperature",
		RealtimeEligible: true,
	},
	types.KindAirQualityBad: {
		Kind:             types.KindAirQualityBad,
		Label:            "Poor air quality",
		RealtimeEligible: true,
	},
	types.KindCongestionHigh: {
		Kind:             types.KindCongestionHigh,
		Label:            "Crowd congestion",
		RealtimeEligible: true,
	},
	types.KindBikeShortage: {
		Kind:             types.KindBikeShortage,
		Label:            "Bike station shortage",
		RealtimeEligible: true,
	},
	types.KindBikeFull: {
		Kind:             types.KindBikeFull,
		Label:            "Bike station full",
		RealtimeEligible: true,
	},
	types.KindCulturalEvent: {
		Kind:  types.KindCulturalEvent,
		Label: "Cultural event nearby",
	},
	types.KindEmergencyAlert: {
		Kind:             types.KindEmergencyAlert,
		Label:            "Emergency alert",
		Urgent:           true,
		RealtimeEligible: true,
	},
}

// LookupCondition resolves a condition name to its spec. Unknown names are
// a registry misconfiguration and fail with engine_unknown_condition.
func LookupCondition(name string) (ConditionSpec, error) {
	spec, ok := conditionTable[types.ConditionKind(name)]
	if !ok {
		return ConditionSpec{}, types.NewAppError(
			types.ErrCodeUnknownCondition,
			fmt.Sprintf("unknown trigger condition %q", name),
			nil,
		)
	}
	return spec, nil
}

// IsUrgent reports whether the condition kind carries the urgency flag.
// Unknown kinds are not urgent.
func IsUrgent(kind types.ConditionKind) bool {
	return conditionTable[kind].Urgent
}

// IsRealtimeEligible reports whether the condition kind participates in
// realtime evaluation. Unknown kinds are not eligible.
func IsRealtimeEligible(kind types.ConditionKind) bool {
	return conditionTable[kind].RealtimeEligible
}
