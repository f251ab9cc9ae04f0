// Package neighbourhood builds adjacency between units of the same level:
// grid cells from the coupler's neighbour-index matrix, and countries derived
// from the cell graph.
package neighbourhood

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/talgya/copan-lpjml/internal/hierarchy"
)

// Graph is an undirected adjacency graph over the units of one level.
// Node IDs are positions in the units slice passed to the builder.
type Graph struct {
	Level hierarchy.Level

	g     *simple.UndirectedGraph
	units []*hierarchy.Unit
	ids   map[*hierarchy.Unit]int64
}

func newGraph(level hierarchy.Level, units []*hierarchy.Unit) (*Graph, error) {
	gr := &Graph{
		Level: level,
		g:     simple.NewUndirectedGraph(),
		units: units,
		ids:   make(map[*hierarchy.Unit]int64, len(units)),
	}
	for i, u := range units {
		if u.Level() != level {
			return nil, fmt.Errorf("neighbourhood: unit %s is not a %s", u, level)
		}
		if _, dup := gr.ids[u]; dup {
			return nil, fmt.Errorf("neighbourhood: unit %s listed twice", u)
		}
		gr.ids[u] = int64(i)
		gr.g.AddNode(simple.Node(int64(i)))
	}
	return gr, nil
}

// addEdge links two distinct nodes. Self-loops are ignored.
func (gr *Graph) addEdge(a, b int64) {
	if a == b || gr.g.HasEdgeBetween(a, b) {
		return
	}
	gr.g.SetEdge(gr.g.NewEdge(simple.Node(a), simple.Node(b)))
}

// BuildCells creates the cell-level graph. Row i of matrix lists the grid
// indices adjacent to cells[i]; negative entries mark missing neighbours
// (ocean, map border) and are skipped.
func BuildCells(cells []*hierarchy.Unit, matrix [][]int) (*Graph, error) {
	if len(matrix) != len(cells) {
		return nil, fmt.Errorf("neighbourhood: matrix has %d rows for %d cells", len(matrix), len(cells))
	}
	gr, err := newGraph(hierarchy.LevelCell, cells)
	if err != nil {
		return nil, err
	}
	for i, row := range matrix {
		for _, j := range row {
			if j < 0 {
				continue
			}
			if j >= len(cells) {
				return nil, fmt.Errorf("neighbourhood: cell %d lists neighbour %d beyond %d cells", i, j, len(cells))
			}
			gr.addEdge(int64(i), int64(j))
		}
	}
	return gr, nil
}

// DeriveCountries creates the country-level graph: two countries are
// adjacent iff any of their member cells are adjacent in the cell graph.
// Cells outside every listed country are ignored.
func DeriveCountries(cellGraph *Graph, countries []*hierarchy.Unit) (*Graph, error) {
	if cellGraph.Level != hierarchy.LevelCell {
		return nil, fmt.Errorf("neighbourhood: derive countries from a %s graph", cellGraph.Level)
	}
	gr, err := newGraph(hierarchy.LevelCountry, countries)
	if err != nil {
		return nil, err
	}

	nodeOf := make(map[int]int64, len(cellGraph.units)) // grid cell → cell node
	for i, u := range cellGraph.units {
		for _, c := range u.Cells() {
			nodeOf[c] = int64(i)
		}
	}
	countryOf := make(map[int64]int64) // cell node → country node
	for ci, c := range countries {
		for _, cell := range c.Cells() {
			if id, ok := nodeOf[cell]; ok {
				countryOf[id] = int64(ci)
			}
		}
	}

	edges := cellGraph.g.Edges()
	for edges.Next() {
		e := edges.Edge()
		a, okA := countryOf[e.From().ID()]
		b, okB := countryOf[e.To().ID()]
		if okA && okB {
			gr.addEdge(a, b)
		}
	}
	return gr, nil
}

// NeighboursOf returns the units adjacent to u, ordered by id.
func (gr *Graph) NeighboursOf(u *hierarchy.Unit) []*hierarchy.Unit {
	id, ok := gr.ids[u]
	if !ok {
		return nil
	}
	var out []*hierarchy.Unit
	nodes := gr.g.From(id)
	for nodes.Next() {
		out = append(out, gr.units[nodes.Node().ID()])
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i], out[j]) })
	return out
}

// Adjacent reports whether a and b share an edge.
func (gr *Graph) Adjacent(a, b *hierarchy.Unit) bool {
	ia, okA := gr.ids[a]
	ib, okB := gr.ids[b]
	return okA && okB && gr.g.HasEdgeBetween(ia, ib)
}

// Nodes returns the number of units in the graph.
func (gr *Graph) Nodes() int {
	return len(gr.units)
}

// Edges returns the number of undirected edges.
func (gr *Graph) Edges() int {
	return gr.g.Edges().Len()
}

// Attach stores each unit's neighbour set on the unit itself.
func (gr *Graph) Attach() error {
	for _, u := range gr.units {
		if err := u.SetNeighbours(gr.NeighboursOf(u)); err != nil {
			return err
		}
	}
	return nil
}

// lessID orders cell ids numerically when both parse as cell indices.
func lessID(a, b *hierarchy.Unit) bool {
	if a.Level() == hierarchy.LevelCell && b.Level() == hierarchy.LevelCell {
		return a.Cells()[0] < b.Cells()[0]
	}
	return a.ID() < b.ID()
}
