package http

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/towermap/internal/core/domain"
)

// bbox renders a box in GeoJSON order. A crossing box keeps west > east,
// which RFC 7946 §5.2 defines as spanning the antimeridian.
func bbox(b domain.BoundingBox) geojson.BBox {
	return geojson.BBox{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
}

// resultToGeoJSON renders towers or clusters as Point features. Cluster
// features sit on the centroid and carry the drill-down cell as their bbox.
func resultToGeoJSON(res domain.AggregationResult) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.BBox = bbox(res.Bounds)
	fc.ExtraMembers = geojson.Properties{
		"mode":  string(res.Mode),
		"total": res.Total,
	}

	for _, t := range res.Towers {
		f := geojson.NewFeature(orb.Point{t.Location.Lon, t.Location.Lat})
		f.ID = t.ID
		f.Properties["kind"] = "tower"
		f.Properties["mcc"] = t.MCC
		f.Properties["mnc"] = t.MNC
		f.Properties["lac"] = t.LAC
		f.Properties["cell_id"] = t.CellID
		f.Properties["rat"] = t.RAT
		if t.PSC != 0 {
			f.Properties["psc"] = t.PSC
		}
		fc.Append(f)
	}

	for _, c := range res.Clusters {
		f := geojson.NewFeature(orb.Point{c.Centroid.Lon, c.Centroid.Lat})
		f.BBox = bbox(c.Bounds)
		f.Properties["kind"] = "cluster"
		f.Properties["count"] = c.Count
		f.Properties["row"] = c.Row
		f.Properties["col"] = c.Col
		f.Properties["representative_id"] = c.RepresentativeID
		fc.Append(f)
	}
	return fc
}
