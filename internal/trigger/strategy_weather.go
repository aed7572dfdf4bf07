package trigger

import (
	"context"
	"fmt"

	"citypulse/internal/types"
)

// Compile-time assertions that all built-in strategies satisfy Strategy.
var (
	_ Strategy = (*TemperatureHighStrategy)(nil)
	_ Strategy = (*TemperatureLowStrategy)(nil)
)

// TemperatureHighStrategy triggers when the current temperature reaches or
// exceeds the high threshold. The platform default can be overridden per
// user via AlertThresholds.TempHighC.
type TemperatureHighStrategy struct {
	cfg StrategyConfig
}

func (s *TemperatureHighStrategy) SupportedType() types.ConditionKind { return types.KindTemperatureHigh }
func (s *TemperatureHighStrategy) Interest() types.InterestCategory   { return types.InterestWeather }
func (s *TemperatureHighStrategy) IsEnabled() bool                    { return s.cfg.enabled(types.KindTemperatureHigh) }
func (s *TemperatureHighStrategy) Priority() int                      { return 10 }

func (s *TemperatureHighStrategy) Evaluate(_ context.Context, tc *types.TriggerContext) (types.TriggerOutcome, error) {
	if tc.Snapshot == nil || tc.Snapshot.Weather == nil {
		return types.NotTriggered(types.KindTemperatureHigh), nil
	}

	threshold := s.cfg.TempHighC
	if tc.User != nil && tc.User.Thresholds != nil && tc.User.Thresholds.TempHighC != nil {
		threshold = *tc.User.Thresholds.TempHighC
	}

	reading := tc.Snapshot.Weather.TemperatureC
	if reading < threshold {
		return types.NotTriggered(types.KindTemperatureHigh), nil
	}

	return types.TriggerOutcome{
		Triggered:     true,
		Kind:          types.KindTemperatureHigh,
		Title:         "High temperature alert",
		Message:       fmt.Sprintf("Current temperature is %.1f°C (threshold %.1f°C). Stay hydrated and avoid prolonged sun exposure.", reading, threshold),
		LocationLabel: tc.LocationLabel,
		Lat:           tc.Lat,
		Lon:           tc.Lon,
		Metadata: map[string]string{
			"temperature_c": fmt.Sprintf("%.1f", reading),
			"threshold_c":   fmt.Sprintf("%.1f", threshold),
		},
	}, nil
}

// TemperatureLowStrategy triggers when the current temperature falls to or
// below the low threshold.
type TemperatureLowStrategy struct {
	cfg StrategyConfig
}

func (s *TemperatureLowStrategy) SupportedType() types.ConditionKind { return types.KindTemperatureLow }
func (s *TemperatureLowStrategy) Interest() types.InterestCategory   { return types.InterestWeather }
func (s *TemperatureLowStrategy) IsEnabled() bool                    { return s.cfg.enabled(types.KindTemperatureLow) }
func (s *TemperatureLowStrategy) Priority() int                      { return 11 }

func (s *TemperatureLowStrategy) Evaluate(_ context.Context, tc *types.TriggerContext) (types.TriggerOutcome, error) {
	if tc.Snapshot == nil || tc.Snapshot.Weather == nil {
		return types.NotTriggered(types.KindTemperatureLow), nil
	}

	threshold := s.cfg.TempLowC
	if tc.User != nil && tc.User.Thresholds != nil && tc.User.Thresholds.TempLowC != nil {
		threshold = *tc.User.Thresholds.TempLowC
	}

	reading := tc.Snapshot.Weather.TemperatureC
	if reading > threshold {
		return types.NotTriggered(types.KindTemperatureLow), nil
	}

	return types.TriggerOutcome{
		Triggered:     true,
		Kind:          types.KindTemperatureLow,
		Title:         "Low temperature alert",
		Message:       fmt.Sprintf("Current temperature is %.1f°C (threshold %.1f°C). Dress warmly and watch for icy roads.", reading, threshold),
		LocationLabel: tc.LocationLabel,
		Lat:           tc.Lat,
		Lon:           tc.Lon,
		Metadata: map[string]string{
			"temperature_c": fmt.Sprintf("%.1f", reading),
			"threshold_c":   fmt.Sprintf("%.1f", threshold),
		},
	}, nil
}
