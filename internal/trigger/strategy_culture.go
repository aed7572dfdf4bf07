package trigger

import (
	"context"
	"fmt"

	"citypulse/internal/geo"
	"citypulse/internal/types"
)

var _ Strategy = (*CulturalEventStrategy)(nil)

// MetaKeyCulturalEventID is the outcome metadata key carrying the upstream
// event identifier. The unique-identifier dedup policy keys on it, so an
// event is announced to a user at most once, ever.
const MetaKeyCulturalEventID = "cultural_event_id"

// CulturalEventStrategy triggers when an upcoming cultural event lies within
// the event radius of the user's location. Eventness is judged against the
// snapshot fetch time, keeping the strategy a pure function of its inputs.
type CulturalEventStrategy struct {
	cfg StrategyConfig
}

func (s *CulturalEventStrategy) SupportedType() types.ConditionKind { return types.KindCulturalEvent }
func (s *CulturalEventStrategy) Interest() types.InterestCategory   { return types.InterestCulture }
func (s *CulturalEventStrategy) IsEnabled() bool                    { return s.cfg.enabled(types.KindCulturalEvent) }
func (s *CulturalEventStrategy) Priority() int                      { return 50 }

func (s *CulturalEventStrategy) Evaluate(_ context.Context, tc *types.TriggerContext) (types.TriggerOutcome, error) {
	if tc.Snapshot == nil || len(tc.Snapshot.Events) == 0 || !tc.HasLocation() {
		return types.NotTriggered(types.KindCulturalEvent), nil
	}

	now := tc.Snapshot.FetchedAt
	horizon := now.Add(s.cfg.EventLookahead)

	for _, ev := range tc.Snapshot.Events {
		if ev.EndsAt.Before(now) || ev.StartsAt.After(horizon) {
			continue
		}
		if !geo.IsWithinRadius(*tc.Lat, *tc.Lon, ev.Lat, ev.Lon, s.cfg.EventRadiusM) {
			continue
		}
		return types.TriggerOutcome{
			Triggered:     true,
			Kind:          types.KindCulturalEvent,
			Title:         "Cultural event nearby",
			Message:       fmt.Sprintf("%q is happening at %s near you.", ev.Name, ev.Place),
			LocationLabel: ev.Place,
			Lat:           &ev.Lat,
			Lon:           &ev.Lon,
			Metadata: map[string]string{
				MetaKeyCulturalEventID: ev.ID,
				"event_name":           ev.Name,
				"starts_at":            ev.StartsAt.Format("2006-01-02 15:04"),
			},
		}, nil
	}

	return types.NotTriggered(types.KindCulturalEvent), nil
}
