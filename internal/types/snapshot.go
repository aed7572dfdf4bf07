package types

import "time"

// Snapshot is a point-in-time read of the external public data feeds,
// assembled once per evaluation cycle and shared read-only by every
// strategy in that cycle. Fetching, caching, and retry live in the
// citydata provider; the engine only consumes the deserialized values.
type Snapshot struct {
	Weather   *WeatherSnapshot    `json:"weather,omitempty"`
	Air       *AirQualitySnapshot `json:"air,omitempty"`
	Events    []CulturalEvent     `json:"events,omitempty"`
	City      *CityDataSnapshot   `json:"city,omitempty"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// WeatherSnapshot holds the current weather readings for the service area.
type WeatherSnapshot struct {
	TemperatureC    float64 `json:"temperature_c"`
	FeelsLikeC      float64 `json:"feels_like_c"`
	HumidityPct     float64 `json:"humidity_pct"`
	PrecipitationMM float64 `json:"precipitation_mm"`
	Description     string  `json:"description"`
}

// AirQualitySnapshot holds the current particulate readings.
type AirQualitySnapshot struct {
	PM10  float64 `json:"pm10"`
	PM25  float64 `json:"pm25"`
	Grade string  `json:"grade"` // upstream grade label, e.g. "bad"
}

// CulturalEvent is a scheduled public event with a venue location.
type CulturalEvent struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Place    string    `json:"place"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// CityDataSnapshot aggregates the realtime city infrastructure feeds.
type CityDataSnapshot struct {
	BikeStations []BikeStation     `json:"bike_stations,omitempty"`
	Congestion   []CongestionPoint `json:"congestion,omitempty"`
	Emergencies  []EmergencyAlert  `json:"emergencies,omitempty"`
}

// BikeStation is a bike-share station with live availability counts.
type BikeStation struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Available int     `json:"available"`
	RackCount int     `json:"rack_count"`
}

// CongestionPoint is a monitored area with a crowd congestion reading.
// Level ranges from 1 (relaxed) to 4 (crowded).
type CongestionPoint struct {
	Area  string  `json:"area"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Level int     `json:"level"`
}

// EmergencyAlert is an active civil emergency or disaster advisory.
// RadiusMeters bounds the affected area around the alert origin. Alerts
// without an origin point are city-wide.
type EmergencyAlert struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Message      string    `json:"message"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	RadiusMeters float64   `json:"radius_meters"`
	IssuedAt     time.Time `json:"issued_at"`
}
