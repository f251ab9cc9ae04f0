package world

import (
	"fmt"
	"math"
)

// Cell is one land cell of the grid.
type Cell struct {
	Coord   Coord   `json:"coord"`
	Country string  `json:"country"` // ISO country code, "" when unassigned
	Area    float64 `json:"area"`    // m²
}

// Grid holds the land cells in LPJmL cell order.
type Grid struct {
	Resolution float64 `json:"resolution"` // degrees
	Cells      []Cell  `json:"cells"`
}

// NewGrid creates an empty grid with the given resolution in degrees.
func NewGrid(res float64) *Grid {
	return &Grid{Resolution: res}
}

// Add appends a cell and returns its index. A zero area is filled from the
// latitude.
func (g *Grid) Add(c Cell) int {
	if c.Area == 0 {
		c.Area = CellArea(c.Coord.Lat, g.Resolution)
	}
	g.Cells = append(g.Cells, c)
	return len(g.Cells) - 1
}

// Len returns the number of cells.
func (g *Grid) Len() int {
	return len(g.Cells)
}

// Countries returns the country code of every cell, in cell order.
func (g *Grid) Countries() []string {
	out := make([]string, len(g.Cells))
	for i, c := range g.Cells {
		out[i] = c.Country
	}
	return out
}

// Areas returns the area of every cell, in cell order.
func (g *Grid) Areas() []float64 {
	out := make([]float64, len(g.Cells))
	for i, c := range g.Cells {
		out[i] = c.Area
	}
	return out
}

// NeighbourMatrix returns, for every cell, the indices of its eight raster
// neighbours in NeighbourDirections order; -1 marks a missing neighbour
// (ocean or map border). Longitudes do not wrap around.
func (g *Grid) NeighbourMatrix() ([][]int, error) {
	if g.Resolution <= 0 {
		return nil, fmt.Errorf("grid resolution %v must be positive", g.Resolution)
	}
	index := make(map[rasterKey]int, len(g.Cells))
	for i, c := range g.Cells {
		k := c.Coord.raster(g.Resolution)
		if prev, dup := index[k]; dup {
			return nil, fmt.Errorf("cells %d and %d share raster position %v", prev, i, k)
		}
		index[k] = i
	}

	out := make([][]int, len(g.Cells))
	for i, c := range g.Cells {
		k := c.Coord.raster(g.Resolution)
		row := make([]int, len(NeighbourDirections))
		for d, dir := range NeighbourDirections {
			row[d] = -1
			if j, ok := index[rasterKey{X: k.X + dir.X, Y: k.Y + dir.Y}]; ok {
				row[d] = j
			}
		}
		out[i] = row
	}
	return out, nil
}

// Bounds returns the lon/lat extent of the cell centres.
func (g *Grid) Bounds() (min, max Coord) {
	if len(g.Cells) == 0 {
		return Coord{}, Coord{}
	}
	min = Coord{Lon: math.Inf(1), Lat: math.Inf(1)}
	max = Coord{Lon: math.Inf(-1), Lat: math.Inf(-1)}
	for _, c := range g.Cells {
		min.Lon = math.Min(min.Lon, c.Coord.Lon)
		min.Lat = math.Min(min.Lat, c.Coord.Lat)
		max.Lon = math.Max(max.Lon, c.Coord.Lon)
		max.Lat = math.Max(max.Lat, c.Coord.Lat)
	}
	return min, max
}

// String returns a summary of the grid.
func (g *Grid) String() string {
	return fmt.Sprintf("Grid(res=%g, cells=%d)", g.Resolution, g.Len())
}
