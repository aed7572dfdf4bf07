package trigger

import (
	"context"
	"fmt"

	"citypulse/internal/geo"
	"citypulse/internal/types"
)

var (
	_ Strategy = (*CongestionStrategy)(nil)
	_ Strategy = (*BikeShortageStrategy)(nil)
	_ Strategy = (*BikeFullStrategy)(nil)
)

// CongestionStrategy triggers when a monitored area near the user reports a
// crowd congestion level at or above the configured threshold.
type CongestionStrategy struct {
	cfg StrategyConfig
}

func (s *CongestionStrategy) SupportedType() types.ConditionKind { return types.KindCongestionHigh }
func (s *CongestionStrategy) Interest() types.InterestCategory   { return types.InterestCongestion }
func (s *CongestionStrategy) IsEnabled() bool                    { return s.cfg.enabled(types.KindCongestionHigh) }
func (s *CongestionStrategy) Priority() int                      { return 30 }

func (s *CongestionStrategy) Evaluate(_ context.Context, tc *types.TriggerContext) (types.TriggerOutcome, error) {
	if tc.Snapshot == nil || tc.Snapshot.City == nil || !tc.HasLocation() {
		return types.NotTriggered(types.KindCongestionHigh), nil
	}

	for _, p := range tc.Snapshot.City.Congestion {
		if p.Level < s.cfg.CongestionLevel {
			continue
		}
		if !geo.IsWithinRadius(*tc.Lat, *tc.Lon, p.Lat, p.Lon, s.cfg.CongestionRadiusM) {
			continue
		}
		return types.TriggerOutcome{
			Triggered:     true,
			Kind:          types.KindCongestionHigh,
			Title:         "Crowd congestion alert",
			Message:       fmt.Sprintf("%s is heavily crowded right now (level %d). Consider an alternative route.", p.Area, p.Level),
			LocationLabel: p.Area,
			Lat:           &p.Lat,
			Lon:           &p.Lon,
			Metadata: map[string]string{
				"area":  p.Area,
				"level": fmt.Sprintf("%d", p.Level),
			},
		}, nil
	}

	return types.NotTriggered(types.KindCongestionHigh), nil
}

// BikeShortageStrategy triggers when the nearest qualifying bike-share
// station within the search radius has run down to the shortage count.
// The station id is used as the dedup location key: stations refill, so a
// fresh alert is allowed once the location window expires.
type BikeShortageStrategy struct {
	cfg StrategyConfig
}

func (s *BikeShortageStrategy) SupportedType() types.ConditionKind { return types.KindBikeShortage }
func (s *BikeShortageStrategy) Interest() types.InterestCategory   { return types.InterestTransit }
func (s *BikeShortageStrategy) IsEnabled() bool                    { return s.cfg.enabled(types.KindBikeShortage) }
func (s *BikeShortageStrategy) Priority() int                      { return 40 }

func (s *BikeShortageStrategy) Evaluate(_ context.Context, tc *types.TriggerContext) (types.TriggerOutcome, error) {
	station := nearestStation(tc, s.cfg.BikeRadiusM, func(st types.BikeStation) bool {
		return st.Available <= s.cfg.BikeShortageCount
	})
	if station == nil {
		return types.NotTriggered(types.KindBikeShortage), nil
	}

	return types.TriggerOutcome{
		Triggered: true,
		Kind:      types.KindBikeShortage,
		Title:     "Bike station running low",
		Message:   fmt.Sprintf("%s has only %d bikes left. Check a nearby station before heading out.", station.Name, station.Available),
		// The station id, not raw coordinates, keys location-based dedup;
		// GPS jitter must not produce distinct suppression keys.
		LocationLabel: station.ID,
		Lat:           &station.Lat,
		Lon:           &station.Lon,
		Metadata: map[string]string{
			"station_id":   station.ID,
			"station_name": station.Name,
			"available":    fmt.Sprintf("%d", station.Available),
		},
	}, nil
}

// BikeFullStrategy triggers when the nearest qualifying station has no free
// racks, so a rider cannot return a bike there.
type BikeFullStrategy struct {
	cfg StrategyConfig
}

func (s *BikeFullStrategy) SupportedType() types.ConditionKind { return types.KindBikeFull }
func (s *BikeFullStrategy) Interest() types.InterestCategory   { return types.InterestTransit }
func (s *BikeFullStrategy) IsEnabled() bool                    { return s.cfg.enabled(types.KindBikeFull) }
func (s *BikeFullStrategy) Priority() int                      { return 41 }

func (s *BikeFullStrategy) Evaluate(_ context.Context, tc *types.TriggerContext) (types.TriggerOutcome, error) {
	station := nearestStation(tc, s.cfg.BikeRadiusM, func(st types.BikeStation) bool {
		return st.RackCount > 0 && st.Available >= st.RackCount
	})
	if station == nil {
		return types.NotTriggered(types.KindBikeFull), nil
	}

	return types.TriggerOutcome{
		Triggered:     true,
		Kind:          types.KindBikeFull,
		Title:         "Bike station full",
		Message:       fmt.Sprintf("%s has no free racks. Plan to return your bike at another station.", station.Name),
		LocationLabel: station.ID,
		Lat:           &station.Lat,
		Lon:           &station.Lon,
		Metadata: map[string]string{
			"station_id":   station.ID,
			"station_name": station.Name,
			"rack_count":   fmt.Sprintf("%d", station.RackCount),
		},
	}, nil
}

// nearestStation returns the closest station within radiusM of the context
// location that satisfies the qualifier, or nil when none does.
func nearestStation(tc *types.TriggerContext, radiusM float64, qualifies func(types.BikeStation) bool) *types.BikeStation {
	if tc.Snapshot == nil || tc.Snapshot.City == nil || !tc.HasLocation() {
		return nil
	}

	var best *types.BikeStation
	bestDist := radiusM + 1

	for i := range tc.Snapshot.City.BikeStations {
		st := &tc.Snapshot.City.BikeStations[i]
		if !qualifies(*st) {
			continue
		}
		d := geo.DistanceMeters(*tc.Lat, *tc.Lon, st.Lat, st.Lon)
		if d <= radiusM && d < bestDist {
			best = st
			bestDist = d
		}
	}

	return best
}
