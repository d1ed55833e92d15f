package geospatial

import (
	"math"

	"github.com/samirrijal/towermap/internal/core/domain"
)

// Projection converts screen pixels into geographic coordinates. ok is false
// while the map view has not been laid out.
type Projection interface {
	FromScreenLocation(x, y float64) (p domain.GeoPoint, ok bool)
}

// ResolveBounds projects the four screen corners of a widthPx × heightPx
// viewport and resolves them into a bounding box. It returns false when the
// projection is unavailable; callers keep their previous box in that case.
func ResolveBounds(p Projection, widthPx, heightPx, buffer float64) (domain.BoundingBox, bool) {
	if p == nil || widthPx <= 0 || heightPx <= 0 {
		return domain.BoundingBox{}, false
	}

	screen := [4][2]float64{
		{0, 0},              // top-left
		{widthPx, 0},        // top-right
		{0, heightPx},       // bottom-left
		{widthPx, heightPx}, // bottom-right
	}

	var corners [4]domain.GeoPoint
	for i, s := range screen {
		pt, ok := p.FromScreenLocation(s[0], s[1])
		if !ok {
			return domain.BoundingBox{}, false
		}
		corners[i] = pt
	}
	return ResolveCorners(corners, buffer), true
}

// ResolveCorners turns four viewport corners into a bounding box padded by
// buffer (a fraction of each span). A longitude range wider than 180° is
// read as a viewport straddling the antimeridian: the result then has
// MinLon (western edge, positive) > MaxLon (eastern edge, negative).
func ResolveCorners(corners [4]domain.GeoPoint, buffer float64) domain.BoundingBox {
	if buffer < 0 || math.IsNaN(buffer) {
		buffer = 0
	}

	minLat, maxLat := corners[0].Lat, corners[0].Lat
	minLon, maxLon := corners[0].Lon, corners[0].Lon
	for _, c := range corners[1:] {
		minLat = math.Min(minLat, c.Lat)
		maxLat = math.Max(maxLat, c.Lat)
		minLon = math.Min(minLon, c.Lon)
		maxLon = math.Max(maxLon, c.Lon)
	}

	latBuffer := (maxLat - minLat) * buffer
	box := domain.BoundingBox{
		MinLat: math.Max(minLat-latBuffer, -90),
		MaxLat: math.Min(maxLat+latBuffer, 90),
	}

	if naive := maxLon - minLon; naive <= 180 {
		lonBuffer := naive * buffer
		box.MinLon = math.Max(minLon-lonBuffer, -180)
		box.MaxLon = math.Min(maxLon+lonBuffer, 180)
		return box
	}

	westEdge, eastEdge := 180.0, -180.0
	for _, c := range corners {
		if c.Lon > 0 && c.Lon < westEdge {
			westEdge = c.Lon
		}
		if c.Lon < 0 && c.Lon > eastEdge {
			eastEdge = c.Lon
		}
	}

	span := (180 - westEdge) + (eastEdge + 180)
	lonBuffer := span * buffer
	if span+2*lonBuffer >= 360 {
		box.MinLon, box.MaxLon = -180, 180
		return box
	}

	box.MinLon = westEdge - lonBuffer
	box.MaxLon = eastEdge + lonBuffer
	return box
}
