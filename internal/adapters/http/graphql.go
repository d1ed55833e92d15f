package http

import (
	"fmt"
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/towermap/internal/core/domain"
)

// boundsArg converts a BoundsInput argument into a validated box.
func boundsArg(args map[string]interface{}) (domain.BoundingBox, error) {
	in, ok := args["bounds"].(map[string]interface{})
	if !ok {
		return domain.BoundingBox{}, fmt.Errorf("bounds is required")
	}
	box := domain.BoundingBox{
		MinLat: in["min_lat"].(float64),
		MaxLat: in["max_lat"].(float64),
		MinLon: in["min_lon"].(float64),
		MaxLon: in["max_lon"].(float64),
	}
	return box, box.Validate()
}

// buildSchema creates the GraphQL schema wired to the aggregation service.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "BoundingBox",
		Fields: graphql.Fields{
			"min_lat":      &graphql.Field{Type: graphql.Float},
			"max_lat":      &graphql.Field{Type: graphql.Float},
			"min_lon":      &graphql.Field{Type: graphql.Float},
			"max_lon":      &graphql.Field{Type: graphql.Float},
			"open_max_lat": &graphql.Field{Type: graphql.Boolean},
			"open_max_lon": &graphql.Field{Type: graphql.Boolean},
			"crosses_antimeridian": &graphql.Field{
				Type: graphql.Boolean,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					b, _ := p.Source.(domain.BoundingBox)
					return b.CrossesAntimeridian(), nil
				},
			},
		},
	})

	boundsInput := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "BoundsInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"min_lat": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
			"max_lat": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
			"min_lon": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
			"max_lon": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Float)},
		},
	})

	towerType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Tower",
		Fields: graphql.Fields{
			"id":       &graphql.Field{Type: graphql.Int},
			"location": &graphql.Field{Type: geoPointType},
			"mcc":      &graphql.Field{Type: graphql.Int},
			"mnc":      &graphql.Field{Type: graphql.Int},
			"lac":      &graphql.Field{Type: graphql.Int},
			"cell_id":  &graphql.Field{Type: graphql.Int},
			"psc":      &graphql.Field{Type: graphql.Int},
			"rat":      &graphql.Field{Type: graphql.String},
		},
	})

	clusterType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Cluster",
		Fields: graphql.Fields{
			"row":               &graphql.Field{Type: graphql.Int},
			"col":               &graphql.Field{Type: graphql.Int},
			"count":             &graphql.Field{Type: graphql.Int},
			"centroid":          &graphql.Field{Type: geoPointType},
			"representative_id": &graphql.Field{Type: graphql.Int},
			"bounds":            &graphql.Field{Type: boundsType},
			"extent":            &graphql.Field{Type: boundsType},
		},
	})

	resultType := graphql.NewObject(graphql.ObjectConfig{
		Name: "AggregationResult",
		Fields: graphql.Fields{
			"mode": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					r, _ := p.Source.(domain.AggregationResult)
					return string(r.Mode), nil
				},
			},
			"bounds":   &graphql.Field{Type: boundsType},
			"total":    &graphql.Field{Type: graphql.Int},
			"towers":   &graphql.Field{Type: graphql.NewList(towerType)},
			"clusters": &graphql.Field{Type: graphql.NewList(clusterType)},
		},
	})

	drillDownType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DrillDown",
		Fields: graphql.Fields{
			"count":           &graphql.Field{Type: graphql.Int},
			"too_many_points": &graphql.Field{Type: graphql.Boolean},
			"towers":          &graphql.Field{Type: graphql.NewList(towerType)},
		},
	})

	ratCountType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RATCount",
		Fields: graphql.Fields{
			"rat":   &graphql.Field{Type: graphql.String},
			"count": &graphql.Field{Type: graphql.Int},
		},
	})

	statsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DatasetStats",
		Fields: graphql.Fields{
			"towers": &graphql.Field{Type: graphql.Int},
			"bounds": &graphql.Field{
				Type: boundsType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					s, _ := p.Source.(*domain.DatasetStats)
					if s == nil || s.Bounds == nil {
						return nil, nil
					}
					return *s.Bounds, nil
				},
			},
			"by_rat": &graphql.Field{
				Type: graphql.NewList(ratCountType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					s, _ := p.Source.(*domain.DatasetStats)
					if s == nil {
						return nil, nil
					}
					out := make([]map[string]interface{}, 0, len(s.ByRAT))
					for rat, n := range s.ByRAT {
						out = append(out, map[string]interface{}{"rat": rat, "count": n})
					}
					sort.Slice(out, func(i, j int) bool { return out[i]["rat"].(string) < out[j]["rat"].(string) })
					return out, nil
				},
			},
		},
	})

	boundsArgs := graphql.FieldConfigArgument{
		"bounds": &graphql.ArgumentConfig{Type: graphql.NewNonNull(boundsInput)},
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"towerCount": &graphql.Field{
				Type:        graphql.Int,
				Description: "Number of towers inside a box",
				Args:        boundsArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					box, err := boundsArg(p.Args)
					if err != nil {
						return nil, err
					}
					return deps.Aggregation.Count(p.Context, box)
				},
			},
			"aggregate": &graphql.Field{
				Type:        resultType,
				Description: "Towers or clusters for a box, depending on density",
				Args:        boundsArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					box, err := boundsArg(p.Args)
					if err != nil {
						return nil, err
					}
					return deps.Aggregation.Aggregate(p.Context, box)
				},
			},
			"clusterTowers": &graphql.Field{
				Type:        drillDownType,
				Description: "Towers behind a cluster, identified by its bounds",
				Args:        boundsArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					box, err := boundsArg(p.Args)
					if err != nil {
						return nil, err
					}
					return deps.Aggregation.LoadPointsInCluster(p.Context, domain.Cluster{Bounds: box})
				},
			},
			"tower": &graphql.Field{
				Type:        towerType,
				Description: "Get a tower by id",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Aggregation.GetTower(p.Context, int64(p.Args["id"].(int)))
				},
			},
			"towersNearby": &graphql.Field{
				Type:        graphql.NewList(towerType),
				Description: "Towers near a location, nearest first",
				Args: graphql.FieldConfigArgument{
					"lat":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radius": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 1000.0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 50},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					lat := p.Args["lat"].(float64)
					lon := p.Args["lon"].(float64)
					radius := p.Args["radius"].(float64)
					limit := p.Args["limit"].(int)
					return deps.Aggregation.FindNearby(p.Context, lat, lon, radius, limit)
				},
			},
			"datasetStats": &graphql.Field{
				Type:        statsType,
				Description: "Summary of the loaded dataset",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Aggregation.Stats(p.Context)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
