package trigger

import (
	"context"
	"log/slog"
	"time"

	"citypulse/internal/types"
)

// DefaultDedupWindow is the suppression window applied by the fallback
// policy for condition kinds with no explicit mapping.
const DefaultDedupWindow = 30 * time.Minute

// defaultPolicy is the documented fallback: condition-based suppression
// over the default window. Resolution is an explicit table lookup with this
// single default; there is deliberately no name-prefix guessing.
var defaultPolicy = types.DedupPolicy{
	Check:  types.CheckConditionBased,
	Window: DefaultDedupWindow,
}

// policyTable maps each condition kind to its suppression policy.
//
// The three granularities trade recall against alert fatigue per domain:
// permanent identity suppression for one-shot events, windowed location
// suppression for resources tied to a place that recover (a bike station
// refills), windowed condition suppression for ambient conditions that
// persist, and no suppression at all for life-safety alerts.
var policyTable = map[types.ConditionKind]types.DedupPolicy{
	types.KindTemperatureHigh: {Check: types.CheckConditionBased, Window: 30 * time.Minute},
	types.KindTemperatureLow:  {Check: types.CheckConditionBased, Window: 30 * time.Minute},
	types.KindAirQualityBad:   {Check: types.CheckConditionBased, Window: 30 * time.Minute},
	types.KindCongestionHigh:  {Check: types.CheckConditionBased, Window: 30 * time.Minute},
	types.KindBikeShortage:    {Check: types.CheckLocationBased, Window: time.Hour},
	types.KindBikeFull:        {Check: types.CheckLocationBased, Window: time.Hour},
	types.KindCulturalEvent:   {Check: types.CheckUniqueIdentifier, UniqueIDKey: MetaKeyCulturalEventID},
	types.KindEmergencyAlert:  {Check: types.CheckNone},
}

// PolicyResolver maps condition kinds to suppression policies and decides,
// against trigger history, whether an outcome is a duplicate.
type PolicyResolver struct {
	history types.TriggerHistoryStore
	clock   types.Clock
	logger  *slog.Logger
}

// NewPolicyResolver creates a resolver backed by the given history store.
// The clock abstraction allows deterministic testing of window logic.
func NewPolicyResolver(history types.TriggerHistoryStore, clock types.Clock, logger *slog.Logger) *PolicyResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyResolver{
		history: history,
		clock:   clock,
		logger:  logger,
	}
}

// Resolve returns the suppression policy for the condition kind. It never
// fails: unmapped kinds get the condition-based default.
func (r *PolicyResolver) Resolve(kind types.ConditionKind) types.DedupPolicy {
	if p, ok := policyTable[kind]; ok {
		return p
	}
	return defaultPolicy
}

// DedupKey derives the suppression lookup key for an outcome under a policy:
// the domain-unique identifier for identity checks, the location label for
// location checks, and empty (any record of the kind) otherwise.
func DedupKey(outcome types.TriggerOutcome, policy types.DedupPolicy) string {
	switch policy.Check {
	case types.CheckUniqueIdentifier:
		return outcome.Metadata[policy.UniqueIDKey]
	case types.CheckLocationBased:
		return outcome.LocationLabel
	default:
		return ""
	}
}

// WindowStart returns the earliest firing timestamp that still suppresses
// under the policy. The zero time means an unbounded lookback (identity
// checks suppress forever).
func (r *PolicyResolver) WindowStart(policy types.DedupPolicy) time.Time {
	switch policy.Check {
	case types.CheckUniqueIdentifier:
		return time.Time{}
	case types.CheckLocationBased, types.CheckConditionBased:
		return r.clock.Now().Add(-policy.Window)
	default:
		return time.Time{}
	}
}

// ShouldSuppress reports whether the outcome is a duplicate under the
// policy. History store failures surface as engine_history_store_unavailable
// so the caller can fail the evaluation instead of risking duplicate
// delivery; NO_CHECK outcomes never consult history and so are immune.
func (r *PolicyResolver) ShouldSuppress(ctx context.Context, userID string, outcome types.TriggerOutcome, policy types.DedupPolicy) (bool, error) {
	if policy.Check == types.CheckNone {
		return false, nil
	}

	key := DedupKey(outcome, policy)
	if policy.Check == types.CheckUniqueIdentifier && key == "" {
		// Without the identifier there is nothing to suppress on. Deliver,
		// but leave a trace: a missing id usually means an upstream feed
		// regression.
		r.logger.WarnContext(ctx, "outcome missing unique identifier, skipping dedup",
			"user_id", userID,
			"kind", string(outcome.Kind),
			"metadata_key", policy.UniqueIDKey,
		)
		return false, nil
	}

	exists, err := r.history.Exists(ctx, userID, outcome.Kind, key, r.WindowStart(policy))
	if err != nil {
		return false, types.NewAppError(
			types.ErrCodeHistoryUnavailable,
			"trigger history lookup failed",
			err,
		)
	}

	return exists, nil
}
