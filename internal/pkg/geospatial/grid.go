package geospatial

import "github.com/samirrijal/towermap/internal/core/domain"

// GridCell is one cell of a partitioned bounding box.
type GridCell struct {
	Row    int
	Col    int
	Bounds domain.BoundingBox
}

// Index returns the row-major position of the cell in a grid gridLon wide.
func (c GridCell) Index(gridLon int) int {
	return c.Row*gridLon + c.Col
}

// Partition splits box into gridLat × gridLon cells in row-major order
// (row 0 at MinLat, column 0 at the western edge).
//
// Interior cells are half-open on their max edges so that every point of the
// box falls in exactly one cell; the last row and column keep the edges of
// box itself. Longitudes follow the eastward span, so a cell that straddles
// ±180° comes back as a crossing box. A cell ending exactly on +180 stays
// closed because its neighbour starts at -180.
func Partition(box domain.BoundingBox, gridLat, gridLon int) []GridCell {
	if gridLat < 1 {
		gridLat = 1
	}
	if gridLon < 1 {
		gridLon = 1
	}

	latSpan := box.LatSpan()
	lonSpan := box.LonSpan()

	cells := make([]GridCell, 0, gridLat*gridLon)
	for i := 0; i < gridLat; i++ {
		minLat := box.MinLat + latSpan*float64(i)/float64(gridLat)
		maxLat := box.MaxLat
		openLat := box.OpenMaxLat
		if i < gridLat-1 {
			maxLat = box.MinLat + latSpan*float64(i+1)/float64(gridLat)
			openLat = true
		}

		for j := 0; j < gridLon; j++ {
			lo := box.MinLon + lonSpan*float64(j)/float64(gridLon)
			hi := box.MinLon + lonSpan*float64(j+1)/float64(gridLon)

			switch {
			case lo >= 180:
				lo -= 360
				hi -= 360
			case hi > 180:
				hi -= 360
			}

			openLon := hi != 180
			if j == gridLon-1 {
				hi = box.MaxLon
				openLon = box.OpenMaxLon
			}
			if j == 0 {
				lo = box.MinLon
			}

			cells = append(cells, GridCell{
				Row: i,
				Col: j,
				Bounds: domain.BoundingBox{
					MinLat:     minLat,
					MaxLat:     maxLat,
					MinLon:     lo,
					MaxLon:     hi,
					OpenMaxLat: openLat,
					OpenMaxLon: openLon,
				},
			})
		}
	}
	return cells
}
