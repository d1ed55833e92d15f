package domain

// Tower is a single cellular-tower record.
type Tower struct {
	ID       int64    `json:"id"`
	Location GeoPoint `json:"location"`
	MCC      int      `json:"mcc"`
	MNC      int      `json:"mnc"`
	LAC      int      `json:"lac"`
	CellID   int      `json:"cell_id"`
	PSC      int      `json:"psc,omitempty"`
	RAT      string   `json:"rat"` // radio access technology: GSM, UMTS, LTE, NR
}

// Cluster summarises the towers of one grid cell.
type Cluster struct {
	Row              int         `json:"row"`
	Col              int         `json:"col"`
	Count            int         `json:"count"`
	Centroid         GeoPoint    `json:"centroid"`
	RepresentativeID int64       `json:"representative_id"`
	Bounds           BoundingBox `json:"bounds"` // drill-down box, always the grid cell
	Extent           BoundingBox `json:"extent"` // observed min/max of member towers
}

// Empty reports whether the cluster has no towers.
func (c Cluster) Empty() bool {
	return c.Count == 0
}

// AggregationMode tells the client how to read an AggregationResult.
type AggregationMode string

const (
	ModeIdle     AggregationMode = "idle"
	ModePoints   AggregationMode = "points"
	ModeClusters AggregationMode = "clusters"
)

// GridSize is the number of cells along each axis.
type GridSize struct {
	Lat int `json:"lat"`
	Lon int `json:"lon"`
}

// AggregationResult is the outcome of one aggregation pass.
type AggregationResult struct {
	Mode     AggregationMode `json:"mode"`
	Bounds   BoundingBox     `json:"bounds"`
	Total    int             `json:"total"`
	Grid     GridSize        `json:"grid,omitempty"`
	Towers   []Tower         `json:"towers,omitempty"`
	Clusters []Cluster       `json:"clusters,omitempty"`
}

// DrillDown is the outcome of loading the towers behind a cluster.
type DrillDown struct {
	Count         int     `json:"count"`
	TooManyPoints bool    `json:"too_many_points"`
	Towers        []Tower `json:"towers"`
}

// DatasetStats describes the loaded tower dataset.
type DatasetStats struct {
	Towers int            `json:"towers"`
	ByRAT  map[string]int `json:"by_rat"`
	Bounds *BoundingBox   `json:"bounds,omitempty"`
}

// DatasetEvent announces that the tower dataset changed.
type DatasetEvent struct {
	Source string `json:"source"`
	Towers int    `json:"towers"`
	At     int64  `json:"at"` // unix seconds
}
