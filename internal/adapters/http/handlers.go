package http

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/towermap/internal/core/domain"
	"github.com/samirrijal/towermap/internal/pkg/geospatial"
)

// queryFloat parses a required float query parameter.
func queryFloat(c *fiber.Ctx, name string) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}

// parseBounds reads min_lat, max_lat, min_lon and max_lon. A box with
// min_lon > max_lon crosses the antimeridian.
func parseBounds(c *fiber.Ctx) (domain.BoundingBox, error) {
	var (
		box domain.BoundingBox
		err error
	)
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"min_lat", &box.MinLat},
		{"max_lat", &box.MaxLat},
		{"min_lon", &box.MinLon},
		{"max_lon", &box.MaxLon},
	} {
		if *p.dst, err = queryFloat(c, p.name); err != nil {
			return box, err
		}
	}
	if err := box.Validate(); err != nil {
		return box, err
	}
	return box, nil
}

// CountTowersHandler returns the number of towers in a box.
func CountTowersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		box, err := parseBounds(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		n, err := deps.Aggregation.Count(c.UserContext(), box)
		if err != nil {
			return errService(c, err)
		}
		return c.JSON(fiber.Map{"bounds": box, "count": n})
	}
}

// AggregateTowersHandler runs one aggregation pass for a box. With
// format=geojson the result is a FeatureCollection.
func AggregateTowersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		box, err := parseBounds(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		format := c.Query("format", "json")
		if format != "json" && format != "geojson" {
			return errBadRequest(c, "format must be json or geojson")
		}

		result, err := deps.Aggregation.Aggregate(c.UserContext(), box)
		if err != nil {
			return errService(c, err)
		}

		if format == "geojson" {
			data, err := resultToGeoJSON(result).MarshalJSON()
			if err != nil {
				return errInternal(c, err.Error())
			}
			c.Set(fiber.HeaderContentType, "application/geo+json")
			return c.Send(data)
		}
		return c.JSON(result)
	}
}

// TowerListResponse is a page of towers inside a box.
type TowerListResponse struct {
	Data          []domain.Tower `json:"data"`
	Pagination    Pagination     `json:"pagination"`
	TooManyPoints bool           `json:"too_many_points"`
}

// ListTowersHandler lists the towers inside a box. When the box holds more
// towers than the aggregation threshold nothing is listed and
// too_many_points is set.
func ListTowersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		box, err := parseBounds(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 100)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 1000 {
			limit = 100
		}

		dd, err := deps.Aggregation.LoadPointsInBounds(c.UserContext(), box)
		if err != nil {
			return errService(c, err)
		}

		towers := dd.Towers
		if offset >= len(towers) {
			towers = nil
		} else {
			end := offset + limit
			if end > len(towers) {
				end = len(towers)
			}
			towers = towers[offset:end]
		}
		if towers == nil {
			towers = []domain.Tower{}
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: dd.Count}
		if !dd.TooManyPoints {
			SetLinkHeaders(c, pg)
		}
		return c.JSON(TowerListResponse{Data: towers, Pagination: pg, TooManyPoints: dd.TooManyPoints})
	}
}

// ClusterTowersHandler loads the towers behind a cluster from an earlier
// aggregation result. Only the cluster's bounds are used.
func ClusterTowersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var cluster domain.Cluster
		if err := c.BodyParser(&cluster); err != nil {
			return errBadRequest(c, "invalid cluster body")
		}
		if err := cluster.Bounds.Validate(); err != nil {
			return errBadRequest(c, err.Error())
		}

		dd, err := deps.Aggregation.LoadPointsInCluster(c.UserContext(), cluster)
		if err != nil {
			return errService(c, err)
		}
		if dd.Towers == nil {
			dd.Towers = []domain.Tower{}
		}
		return c.JSON(dd)
	}
}

// NearbyTowersHandler returns towers within a radius of a point.
func NearbyTowersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lat, err := queryFloat(c, "lat")
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		lon, err := queryFloat(c, "lon")
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		radius := c.QueryFloat("radius", 1000)
		if radius <= 0 || radius > 50000 {
			return errBadRequest(c, "radius must be between 1 and 50000 meters")
		}
		limit := c.QueryInt("limit", 50)

		towers, err := deps.Aggregation.FindNearby(c.UserContext(), lat, lon, radius, limit)
		if err != nil {
			return errService(c, err)
		}
		if towers == nil {
			towers = []domain.Tower{}
		}
		return c.JSON(towers)
	}
}

// GetTowerHandler returns a single tower by id.
func GetTowerHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil || id <= 0 {
			return errBadRequest(c, "tower id must be a positive integer")
		}

		tower, err := deps.Aggregation.GetTower(c.UserContext(), id)
		if err != nil {
			return errService(c, err)
		}
		return c.JSON(tower)
	}
}

// DatasetStatsHandler summarises the loaded dataset.
func DatasetStatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, err := deps.Aggregation.Stats(c.UserContext())
		if err != nil {
			return errService(c, err)
		}
		return c.JSON(stats)
	}
}

// viewportRequest carries the four screen-corner coordinates of a map view,
// in the order top-left, top-right, bottom-left, bottom-right.
type viewportRequest struct {
	Corners []domain.GeoPoint `json:"corners"`
	Buffer  *float64          `json:"buffer"`
}

// ViewportBoundsHandler resolves screen corners into a bounding box.
func ViewportBoundsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req viewportRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid viewport body")
		}
		box, err := resolveCorners(req.Corners, req.Buffer, deps.BufferFraction)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		return c.JSON(fiber.Map{
			"bounds":               box,
			"crosses_antimeridian": box.CrossesAntimeridian(),
		})
	}
}

func resolveCorners(corners []domain.GeoPoint, buffer *float64, defaultBuffer float64) (domain.BoundingBox, error) {
	if len(corners) != 4 {
		return domain.BoundingBox{}, fmt.Errorf("exactly 4 corners are required, got %d", len(corners))
	}
	b := defaultBuffer
	if buffer != nil {
		b = *buffer
	}
	box := geospatial.ResolveCorners([4]domain.GeoPoint(corners), b)
	if err := box.Validate(); err != nil {
		return domain.BoundingBox{}, err
	}
	return box, nil
}
