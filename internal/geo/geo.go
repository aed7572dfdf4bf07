// Package geo provides pure geodesic helpers used by proximity strategies
// and by location-based deduplication key construction. All functions are
// deterministic and side-effect free.
package geo

import "math"

// EarthRadiusMeters is the mean earth radius used by the spherical
// haversine approximation. Fixed for every strategy; proximity radii are
// coarse enough that per-strategy precision tuning is not warranted.
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two points
// using the haversine formula on a spherical earth. The result is
// symmetric in its arguments and zero for identical points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// IsWithinRadius reports whether the second point lies within radiusMeters
// of the first. The boundary is inclusive.
func IsWithinRadius(lat1, lon1, lat2, lon2, radiusMeters float64) bool {
	return DistanceMeters(lat1, lon1, lat2, lon2) <= radiusMeters
}

// BoundingBox is an axis-aligned latitude/longitude rectangle.
// MinLat/MinLon is the south-west corner, MaxLat/MaxLon the north-east.
type BoundingBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Contains reports whether the point lies inside the box, inclusive of
// the edges. Boxes never span the antimeridian; the service area does not
// cross it.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat &&
		lon >= b.MinLon && lon <= b.MaxLon
}
