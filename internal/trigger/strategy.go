package trigger

import (
	"context"
	"sort"
	"time"

	"citypulse/internal/types"
)

// Strategy is the evaluation contract implemented once per condition family.
// Evaluate MUST be a pure function of the context and the snapshot it
// references: no hidden state, no network calls. A strategy that returns an
// error is treated as "not triggered" by the orchestrator, never fatal to
// the batch.
type Strategy interface {
	// SupportedType returns the condition kind this strategy evaluates.
	SupportedType() types.ConditionKind

	// Interest returns the user interest category that opts a user into
	// this strategy.
	Interest() types.InterestCategory

	// IsEnabled reports whether the strategy participates in evaluation.
	// Disabled strategies are skipped entirely and do not count toward
	// the evaluated total.
	IsEnabled() bool

	// Priority orders evaluation; lower values run first.
	Priority() int

	// Evaluate decides whether the condition currently holds for the user.
	Evaluate(ctx context.Context, tc *types.TriggerContext) (types.TriggerOutcome, error)
}

// StrategyConfig holds the platform-default thresholds and radii for the
// built-in strategies. Per-user threshold overrides on the user record take
// precedence where present.
type StrategyConfig struct {
	TempHighC          float64
	TempLowC           float64
	PM10Bad            float64
	PM25Bad            float64
	CongestionLevel    int
	CongestionRadiusM  float64
	BikeRadiusM        float64
	BikeShortageCount  int
	EventRadiusM       float64
	EventLookahead     time.Duration
	EmergencyRadiusM   float64
	Disabled           map[types.ConditionKind]bool
}

// DefaultStrategyConfig returns the production defaults.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		TempHighC:         33.0,
		TempLowC:          -10.0,
		PM10Bad:           80.0,
		PM25Bad:           35.0,
		CongestionLevel:   4,
		CongestionRadiusM: 1000,
		BikeRadiusM:       500,
		BikeShortageCount: 2,
		EventRadiusM:      3000,
		EventLookahead:    48 * time.Hour,
		EmergencyRadiusM:  10000,
	}
}

// enabled reports whether the given kind is not switched off in config.
func (c StrategyConfig) enabled(kind types.ConditionKind) bool {
	return !c.Disabled[kind]
}

// NewDefaultStrategies builds the full built-in strategy set, sorted by
// ascending priority. The set is constructed once at startup and iterated
// in order on every evaluation; dispatch is by iteration, not reflection.
func NewDefaultStrategies(cfg StrategyConfig) []Strategy {
	strategies := []Strategy{
		&EmergencyStrategy{cfg: cfg},
		&TemperatureHighStrategy{cfg: cfg},
		&TemperatureLowStrategy{cfg: cfg},
		&AirQualityStrategy{cfg: cfg},
		&CongestionStrategy{cfg: cfg},
		&BikeShortageStrategy{cfg: cfg},
		&BikeFullStrategy{cfg: cfg},
		&CulturalEventStrategy{cfg: cfg},
	}

	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Priority() < strategies[j].Priority()
	})

	return strategies
}
