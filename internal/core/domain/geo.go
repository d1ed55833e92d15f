package domain

import (
	"fmt"
	"math"
)

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox is a lat/lon rectangle. MinLat <= MaxLat always holds.
// When the box crosses the antimeridian MinLon > MaxLon: MinLon is the
// western edge and MaxLon the eastern edge.
//
// OpenMaxLat and OpenMaxLon make the respective max edge exclusive. They are
// only set on interior grid cells.
type BoundingBox struct {
	MinLat     float64 `json:"min_lat"`
	MaxLat     float64 `json:"max_lat"`
	MinLon     float64 `json:"min_lon"`
	MaxLon     float64 `json:"max_lon"`
	OpenMaxLat bool    `json:"open_max_lat,omitempty"`
	OpenMaxLon bool    `json:"open_max_lon,omitempty"`
}

// WorldBounds covers every valid coordinate.
var WorldBounds = BoundingBox{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}

// CrossesAntimeridian reports whether the box wraps through ±180°.
func (b BoundingBox) CrossesAntimeridian() bool {
	return b.MinLon > b.MaxLon
}

// LonSpan returns the eastward longitude extent in degrees.
func (b BoundingBox) LonSpan() float64 {
	if b.CrossesAntimeridian() {
		return b.MaxLon + 360 - b.MinLon
	}
	return b.MaxLon - b.MinLon
}

// LatSpan returns the latitude extent in degrees.
func (b BoundingBox) LatSpan() float64 {
	return b.MaxLat - b.MinLat
}

// Contains reports whether p lies inside the box.
func (b BoundingBox) Contains(p GeoPoint) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.OpenMaxLat && p.Lat == b.MaxLat {
		return false
	}

	if b.CrossesAntimeridian() {
		if p.Lon >= b.MinLon {
			return true
		}
		if b.OpenMaxLon {
			return p.Lon < b.MaxLon
		}
		return p.Lon <= b.MaxLon
	}

	if p.Lon < b.MinLon || p.Lon > b.MaxLon {
		return false
	}
	return !(b.OpenMaxLon && p.Lon == b.MaxLon)
}

// Closed returns a copy of the box with both max edges inclusive.
func (b BoundingBox) Closed() BoundingBox {
	b.OpenMaxLat = false
	b.OpenMaxLon = false
	return b
}

// Validate checks that the box holds real, in-range coordinates.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.MinLat, b.MaxLat, b.MinLon, b.MaxLon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBounds)
		}
	}
	if b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("%w: latitude must be within [-90, 90]", ErrInvalidBounds)
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("%w: longitude must be within [-180, 180]", ErrInvalidBounds)
	}
	if b.MinLat > b.MaxLat {
		return fmt.Errorf("%w: min_lat %.6f > max_lat %.6f", ErrInvalidBounds, b.MinLat, b.MaxLat)
	}
	return nil
}

// String renders the box compactly; used for cache keys and logs.
func (b BoundingBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLat, b.MaxLat, b.MinLon, b.MaxLon)
}

// ViewportState is the visible box plus the map zoom that produced it.
type ViewportState struct {
	Bounds BoundingBox `json:"bounds"`
	Zoom   float64     `json:"zoom"`
}
