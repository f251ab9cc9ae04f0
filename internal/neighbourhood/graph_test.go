package neighbourhood

import (
	"testing"

	"github.com/talgya/copan-lpjml/internal/hierarchy"
)

// scenarioTree builds 4 cells grouped into countries A={0,1} and B={2,3}.
func scenarioTree(t *testing.T) *hierarchy.Tree {
	t.Helper()
	tree, err := hierarchy.Build([]string{"A", "A", "B", "B"}, nil, hierarchy.BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tree
}

func ids(units []*hierarchy.Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.ID()
	}
	return out
}

func TestScenarioCellAndCountryNeighbours(t *testing.T) {
	tree := scenarioTree(t)
	matrix := [][]int{
		{1, -1},
		{0, 2},
		{1, -1},
		{-1, -1},
	}

	cells, err := BuildCells(tree.Units(hierarchy.LevelCell), matrix)
	if err != nil {
		t.Fatalf("BuildCells: %v", err)
	}
	countries, err := DeriveCountries(cells, tree.Units(hierarchy.LevelCountry))
	if err != nil {
		t.Fatalf("DeriveCountries: %v", err)
	}
	if err := cells.Attach(); err != nil {
		t.Fatalf("Attach cells: %v", err)
	}
	if err := countries.Attach(); err != nil {
		t.Fatalf("Attach countries: %v", err)
	}

	a, _ := tree.Unit(hierarchy.LevelCountry, "A")
	b, _ := tree.Unit(hierarchy.LevelCountry, "B")
	if got := ids(a.Neighbours()); len(got) != 1 || got[0] != "B" {
		t.Errorf("A.Neighbours = %v, want [B]", got)
	}
	if got := ids(b.Neighbours()); len(got) != 1 || got[0] != "A" {
		t.Errorf("B.Neighbours = %v, want [A]", got)
	}
	if got := ids(tree.CellUnit(0).Neighbours()); len(got) != 1 || got[0] != "1" {
		t.Errorf("cell 0 neighbours = %v, want [1]", got)
	}
	if got := ids(tree.CellUnit(1).Neighbours()); len(got) != 2 || got[0] != "0" || got[1] != "2" {
		t.Errorf("cell 1 neighbours = %v, want [0 2]", got)
	}
	if got := tree.CellUnit(3).Neighbours(); len(got) != 0 {
		t.Errorf("cell 3 neighbours = %v, want none", ids(got))
	}
}

func TestSentinelsAndSymmetry(t *testing.T) {
	tree := scenarioTree(t)
	// Only one direction is listed; the edge must still be symmetric.
	matrix := [][]int{
		{-1, -1, 3},
		{-1},
		{},
		{-5},
	}
	g, err := BuildCells(tree.Units(hierarchy.LevelCell), matrix)
	if err != nil {
		t.Fatalf("BuildCells: %v", err)
	}
	c0, c3 := tree.CellUnit(0), tree.CellUnit(3)
	if !g.Adjacent(c0, c3) || !g.Adjacent(c3, c0) {
		t.Errorf("edge 0-3 not symmetric")
	}
	if n := g.Edges(); n != 1 {
		t.Errorf("Edges = %d, want 1", n)
	}
	if got := ids(g.NeighboursOf(c3)); len(got) != 1 || got[0] != "0" {
		t.Errorf("NeighboursOf(3) = %v, want [0]", got)
	}
}

func TestSelfReferenceIsNotAnEdge(t *testing.T) {
	tree := scenarioTree(t)
	matrix := [][]int{{0}, {1}, {2}, {3}}
	g, err := BuildCells(tree.Units(hierarchy.LevelCell), matrix)
	if err != nil {
		t.Fatalf("BuildCells: %v", err)
	}
	if n := g.Edges(); n != 0 {
		t.Errorf("Edges = %d, want 0", n)
	}
}

func TestCountryNeverNeighboursItself(t *testing.T) {
	tree := scenarioTree(t)
	// Only intra-country edges.
	matrix := [][]int{{1}, {0}, {3}, {2}}
	cells, err := BuildCells(tree.Units(hierarchy.LevelCell), matrix)
	if err != nil {
		t.Fatalf("BuildCells: %v", err)
	}
	countries, err := DeriveCountries(cells, tree.Units(hierarchy.LevelCountry))
	if err != nil {
		t.Fatalf("DeriveCountries: %v", err)
	}
	if n := countries.Edges(); n != 0 {
		t.Errorf("country Edges = %d, want 0", n)
	}
	a, _ := tree.Unit(hierarchy.LevelCountry, "A")
	if got := countries.NeighboursOf(a); len(got) != 0 {
		t.Errorf("A neighbours = %v, want none", ids(got))
	}
}

func TestBuildCellsRejectsBadMatrix(t *testing.T) {
	tree := scenarioTree(t)
	cells := tree.Units(hierarchy.LevelCell)
	if _, err := BuildCells(cells, [][]int{{1}}); err == nil {
		t.Errorf("short matrix accepted")
	}
	if _, err := BuildCells(cells, [][]int{{9}, {}, {}, {}}); err == nil {
		t.Errorf("out of range neighbour accepted")
	}
}

func TestDeriveCountriesNeedsCellGraph(t *testing.T) {
	tree := scenarioTree(t)
	cells, _ := BuildCells(tree.Units(hierarchy.LevelCell), [][]int{{1}, {2}, {3}, {}})
	countries, err := DeriveCountries(cells, tree.Units(hierarchy.LevelCountry))
	if err != nil {
		t.Fatalf("DeriveCountries: %v", err)
	}
	if _, err := DeriveCountries(countries, tree.Units(hierarchy.LevelCountry)); err == nil {
		t.Errorf("DeriveCountries accepted a country graph as input")
	}
}
