package postgres

import (
	"fmt"

	"github.com/samirrijal/towermap/internal/core/domain"
)

// boundsPredicate renders box as a WHERE fragment over the lat/lon columns,
// with the same semantics as domain.BoundingBox.Contains. Placeholders start
// at $first; the returned args fill them in order.
func boundsPredicate(box domain.BoundingBox, first int) (string, []any) {
	latMax := "<="
	if box.OpenMaxLat {
		latMax = "<"
	}
	lonMax := "<="
	if box.OpenMaxLon {
		lonMax = "<"
	}

	lon := fmt.Sprintf("lon >= $%d AND lon %s $%d", first+2, lonMax, first+3)
	if box.CrossesAntimeridian() {
		lon = fmt.Sprintf("(lon >= $%d OR lon %s $%d)", first+2, lonMax, first+3)
	}

	where := fmt.Sprintf("lat >= $%d AND lat %s $%d AND %s", first, latMax, first+1, lon)
	return where, []any{box.MinLat, box.MaxLat, box.MinLon, box.MaxLon}
}

// shiftedLon is a lon expression that is continuous across the box: west of
// MinLon on a crossing box it adds 360. minLonArg is the placeholder of
// box.MinLon.
func shiftedLon(box domain.BoundingBox, minLonArg int) string {
	if !box.CrossesAntimeridian() {
		return "lon"
	}
	return fmt.Sprintf("(CASE WHEN lon < $%d THEN lon + 360 ELSE lon END)", minLonArg)
}

// normalizeLon maps a shifted longitude back into [-180, 180].
func normalizeLon(lon float64) float64 {
	if lon > 180 {
		return lon - 360
	}
	return lon
}
