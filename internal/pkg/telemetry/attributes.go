package telemetry

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/towermap/internal/core/domain"
)

// Span attribute keys used for instrumentation.
const (
	AttrBounds     = attribute.Key("towermap.bounds")
	AttrCrossing   = attribute.Key("towermap.bounds.crosses_antimeridian")
	AttrMode       = attribute.Key("towermap.aggregation.mode")
	AttrTotal      = attribute.Key("towermap.aggregation.total")
	AttrGrid       = attribute.Key("towermap.aggregation.grid")
	AttrClusters   = attribute.Key("towermap.aggregation.clusters")
	AttrCacheHit   = attribute.Key("towermap.cache.hit")
	AttrSessionID  = attribute.Key("towermap.session.id")
	AttrGeneration = attribute.Key("towermap.session.generation")
)

// BoundsAttributes describes a bounding box on a span.
func BoundsAttributes(box domain.BoundingBox) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBounds.String(box.String()),
		AttrCrossing.Bool(box.CrossesAntimeridian()),
	}
}
