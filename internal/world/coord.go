// Package world provides the LPJmL land grid: cell coordinates, country
// codes, cell areas and the raster neighbourhood of every cell.
// Cells sit on a regular lon/lat raster with a fixed resolution in degrees.
package world

import "math"

// EarthRadius is the mean Earth radius in metres used for cell areas.
const EarthRadius = 6371000.8

// Coord is the centre of a grid cell in degrees.
type Coord struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// rasterKey identifies a cell by its integer raster position.
type rasterKey struct {
	X int
	Y int
}

// NeighbourDirections are the eight raster offsets in LPJmL neighbour order:
// N, NE, E, SE, S, SW, W, NW.
var NeighbourDirections = [8]rasterKey{
	{X: 0, Y: 1},
	{X: 1, Y: 1},
	{X: 1, Y: 0},
	{X: 1, Y: -1},
	{X: 0, Y: -1},
	{X: -1, Y: -1},
	{X: -1, Y: 0},
	{X: -1, Y: 1},
}

func (c Coord) raster(res float64) rasterKey {
	return rasterKey{
		X: int(math.Floor(c.Lon / res)),
		Y: int(math.Floor(c.Lat / res)),
	}
}

// CellArea returns the area in m² of a res×res degree cell centred at lat.
func CellArea(lat, res float64) float64 {
	rad := math.Pi / 180
	dLon := res * rad
	north := math.Min(90, lat+res/2) * rad
	south := math.Max(-90, lat-res/2) * rad
	return EarthRadius * EarthRadius * dLon * (math.Sin(north) - math.Sin(south))
}

// Distance returns the great-circle distance in metres between two coords.
func Distance(a, b Coord) float64 {
	rad := math.Pi / 180
	lat1, lat2 := a.Lat*rad, b.Lat*rad
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}
