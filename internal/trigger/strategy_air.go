package trigger

import (
	"context"
	"fmt"

	"citypulse/internal/types"
)

var _ Strategy = (*AirQualityStrategy)(nil)

// AirQualityStrategy triggers when either particulate reading crosses its
// unhealthy threshold. PM10 and PM2.5 thresholds can be overridden per user.
type AirQualityStrategy struct {
	cfg StrategyConfig
}

func (s *AirQualityStrategy) SupportedType() types.ConditionKind { return types.KindAirQualityBad }
func (s *AirQualityStrategy) Interest() types.InterestCategory   { return types.InterestAirQuality }
func (s *AirQualityStrategy) IsEnabled() bool                    { return s.cfg.enabled(types.KindAirQualityBad) }
func (s *AirQualityStrategy) Priority() int                      { return 20 }

func (s *AirQualityStrategy) Evaluate(_ context.Context, tc *types.TriggerContext) (types.TriggerOutcome, error) {
	if tc.Snapshot == nil || tc.Snapshot.Air == nil {
		return types.NotTriggered(types.KindAirQualityBad), nil
	}

	pm10Limit := s.cfg.PM10Bad
	pm25Limit := s.cfg.PM25Bad
	if tc.User != nil && tc.User.Thresholds != nil {
		if tc.User.Thresholds.PM10 != nil {
			pm10Limit = *tc.User.Thresholds.PM10
		}
		if tc.User.Thresholds.PM25 != nil {
			pm25Limit = *tc.User.Thresholds.PM25
		}
	}

	air := tc.Snapshot.Air
	if air.PM10 < pm10Limit && air.PM25 < pm25Limit {
		return types.NotTriggered(types.KindAirQualityBad), nil
	}

	return types.TriggerOutcome{
		Triggered:     true,
		Kind:          types.KindAirQualityBad,
		Title:         "Poor air quality alert",
		Message:       fmt.Sprintf("Air quality is unhealthy (PM10 %.0f, PM2.5 %.0f). Consider wearing a mask outdoors.", air.PM10, air.PM25),
		LocationLabel: tc.LocationLabel,
		Lat:           tc.Lat,
		Lon:           tc.Lon,
		Metadata: map[string]string{
			"pm10":  fmt.Sprintf("%.0f", air.PM10),
			"pm25":  fmt.Sprintf("%.0f", air.PM25),
			"grade": air.Grade,
		},
	}, nil
}
