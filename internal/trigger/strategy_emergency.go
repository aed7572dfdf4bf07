package trigger

import (
	"context"
	"fmt"

	"citypulse/internal/geo"
	"citypulse/internal/types"
)

var _ Strategy = (*EmergencyStrategy)(nil)

// EmergencyStrategy triggers when an active emergency alert covers the
// user's location. It runs first (priority 0) and its condition kind is
// urgent: suppression is never applied and delivery proceeds even when the
// history store is unreachable.
type EmergencyStrategy struct {
	cfg StrategyConfig
}

func (s *EmergencyStrategy) SupportedType() types.ConditionKind { return types.KindEmergencyAlert }
func (s *EmergencyStrategy) Interest() types.InterestCategory   { return types.InterestEmergency }
func (s *EmergencyStrategy) IsEnabled() bool                    { return s.cfg.enabled(types.KindEmergencyAlert) }
func (s *EmergencyStrategy) Priority() int                      { return 0 }

func (s *EmergencyStrategy) Evaluate(_ context.Context, tc *types.TriggerContext) (types.TriggerOutcome, error) {
	if tc.Snapshot == nil || tc.Snapshot.City == nil {
		return types.NotTriggered(types.KindEmergencyAlert), nil
	}

	for _, alert := range tc.Snapshot.City.Emergencies {
		if !s.covers(alert, tc) {
			continue
		}
		return types.TriggerOutcome{
			Triggered:     true,
			Kind:          types.KindEmergencyAlert,
			Title:         fmt.Sprintf("Emergency: %s", alert.Category),
			Message:       alert.Message,
			LocationLabel: tc.LocationLabel,
			Lat:           tc.Lat,
			Lon:           tc.Lon,
			Metadata: map[string]string{
				"alert_id": alert.ID,
				"category": alert.Category,
			},
		}, nil
	}

	return types.NotTriggered(types.KindEmergencyAlert), nil
}

// covers reports whether the alert applies to the user. Alerts without an
// origin point are city-wide and apply to everyone. Located alerts apply to
// users inside the affected radius, falling back to the configured default
// radius when the feed omits one. Users without a known location receive
// city-wide alerts only.
func (s *EmergencyStrategy) covers(alert types.EmergencyAlert, tc *types.TriggerContext) bool {
	if alert.Lat == 0 && alert.Lon == 0 {
		return true
	}
	if !tc.HasLocation() {
		return false
	}
	radius := alert.RadiusMeters
	if radius <= 0 {
		radius = s.cfg.EmergencyRadiusM
	}
	return geo.IsWithinRadius(*tc.Lat, *tc.Lon, alert.Lat, alert.Lon, radius)
}
