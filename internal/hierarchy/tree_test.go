package hierarchy

import (
	"errors"
	"slices"
	"testing"
)

func testLookup() *StaticLookup {
	return NewStaticLookup(
		map[string]string{"DEU": "Germany", "FRA": "France", "BRA": "Brazil"},
		map[string][]string{"EU": {"DEU", "FRA"}},
	)
}

func TestBuildHierarchy(t *testing.T) {
	countries := []string{"DEU", "DEU", "FRA", "BRA", "BRA", ""}
	tree, err := Build(countries, testLookup(), BuildOptions{CountryNames: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := len(tree.Units(LevelCell)); got != 6 {
		t.Errorf("cells = %d, want 6", got)
	}
	if got := len(tree.Units(LevelCountry)); got != 3 {
		t.Errorf("countries = %d, want 3", got)
	}

	eu, ok := tree.Unit(LevelWorldRegion, "EU")
	if !ok {
		t.Fatal("EU region missing")
	}
	if !slices.Equal(eu.Cells(), []int{0, 1, 2}) {
		t.Errorf("EU cells = %v, want [0 1 2]", eu.Cells())
	}

	deu, _ := tree.Unit(LevelCountry, "DEU")
	if deu.Parent() != eu {
		t.Errorf("DEU parent = %v, want EU", deu.Parent())
	}
	if deu.Name() != "Germany" {
		t.Errorf("DEU name = %q, want Germany", deu.Name())
	}
	bra, _ := tree.Unit(LevelCountry, "BRA")
	if bra.Parent() != tree.World {
		t.Errorf("BRA parent = %v, want world", bra.Parent())
	}
	if orphan := tree.CellUnit(5); orphan.Parent() != tree.World {
		t.Errorf("cell without country should hang under world")
	}
	if tree.CellUnit(1).Parent() != deu {
		t.Errorf("cell 1 parent = %v, want DEU", tree.CellUnit(1).Parent())
	}
}

func TestBuildKeepsCodesWithoutNames(t *testing.T) {
	tree, err := Build([]string{"DEU"}, testLookup(), BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	deu, _ := tree.Unit(LevelCountry, "DEU")
	if deu.Name() != "DEU" {
		t.Errorf("Name = %q, want code when names are disabled", deu.Name())
	}
}

func TestBuildRejectsCountryInTwoRegions(t *testing.T) {
	lookup := NewStaticLookup(nil, map[string][]string{
		"EU": {"DEU"},
		"G7": {"DEU"},
	})
	_, err := Build([]string{"DEU"}, lookup, BuildOptions{})
	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("Build error = %v, want InvariantError", err)
	}
}

// Disjointness and superset hold for every unit of a built tree.
func TestBuiltTreeInvariants(t *testing.T) {
	countries := []string{"DEU", "FRA", "FRA", "BRA", "DEU", "BRA", "BRA"}
	tree, err := Build(countries, testLookup(), BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for u := range tree.World.Subtree() {
		if len(u.Children()) == 0 {
			continue
		}
		seen := make(map[int]bool)
		for _, c := range u.Children() {
			for _, cell := range c.Cells() {
				if seen[cell] {
					t.Errorf("%v: cell %d shared between children", u, cell)
				}
				seen[cell] = true
			}
		}
		if len(seen) != len(u.Cells()) {
			t.Errorf("%v: children cover %d cells, want %d", u, len(seen), len(u.Cells()))
		}
	}
}

func TestValidateDetectsGap(t *testing.T) {
	world := mustNew(t, LevelWorld, WorldID, []int{0, 1, 2}, nil)
	mustNew(t, LevelCountry, "A", []int{0, 1}, world)
	_, err := NewTree(world)
	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("NewTree error = %v, want InvariantError for uncovered cell", err)
	}
}

func TestResolveAndRelated(t *testing.T) {
	tree, err := Build([]string{"DEU", "FRA", "BRA"}, testLookup(), BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	cell := tree.CellUnit(0)

	country, err := tree.Resolve(cell, "country")
	if err != nil || country.ID() != "DEU" {
		t.Errorf("Resolve(country) = %v, %v", country, err)
	}
	region, err := tree.Resolve(cell, "region")
	if err != nil || region.ID() != "EU" {
		t.Errorf("Resolve(region) = %v, %v", region, err)
	}
	noRegion, err := tree.Resolve(tree.CellUnit(2), "worldregion")
	if err != nil || noRegion != nil {
		t.Errorf("Resolve(region) for BRA cell = %v, %v; want nil", noRegion, err)
	}
	if _, err := tree.Resolve(cell, "planet"); err == nil {
		t.Errorf("Resolve(planet) succeeded")
	}

	members, err := tree.Related(region, "countries")
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("EU countries = %v, want 2", members)
	}
	up, err := tree.Related(cell, "world")
	if err != nil || len(up) != 1 || up[0] != tree.World {
		t.Errorf("Related(world) = %v, %v", up, err)
	}
}
