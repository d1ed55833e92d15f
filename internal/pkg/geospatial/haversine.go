package geospatial

import (
	"math"

	"github.com/samirrijal/towermap/internal/core/domain"
)

const earthRadiusKm = 6371.0

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = 111320.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// RadiusBounds returns a box enclosing the circle of radiusMeters around a
// point. Near the antimeridian the box wraps (MinLon > MaxLon); near the
// poles it widens to all longitudes.
func RadiusBounds(lat, lon, radiusMeters float64) domain.BoundingBox {
	latDelta := radiusMeters / metersPerDegree
	box := domain.BoundingBox{
		MinLat: math.Max(lat-latDelta, -90),
		MaxLat: math.Min(lat+latDelta, 90),
	}

	cos := math.Cos(toRad(lat))
	if box.MinLat == -90 || box.MaxLat == 90 || cos <= 0 {
		box.MinLon, box.MaxLon = -180, 180
		return box
	}

	lonDelta := radiusMeters / (metersPerDegree * cos)
	if lonDelta >= 180 {
		box.MinLon, box.MaxLon = -180, 180
		return box
	}

	box.MinLon = lon - lonDelta
	box.MaxLon = lon + lonDelta
	if box.MinLon < -180 {
		box.MinLon += 360
	}
	if box.MaxLon > 180 {
		box.MaxLon -= 360
	}
	return box
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
