// Package model ties the coupling layer together: the World owns the grid,
// the backing stores and the spatial hierarchy; the Component drives the
// yearly exchange with the external vegetation model.
package model

import (
	"fmt"
	"log/slog"

	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/datasync"
	"github.com/talgya/copan-lpjml/internal/hierarchy"
	"github.com/talgya/copan-lpjml/internal/neighbourhood"
	"github.com/talgya/copan-lpjml/internal/world"
)

// World is the root of the coupled system.
type World struct {
	Grid      *world.Grid
	Tree      *hierarchy.Tree
	Sync      *datasync.Engine
	Cells     *neighbourhood.Graph // cell adjacency from the neighbour matrix
	Countries *neighbourhood.Graph // derived country adjacency

	stores map[dataset.Kind]*dataset.Dataset
}

// WorldOptions controls how a World is built.
type WorldOptions struct {
	Lookup       hierarchy.Lookup
	CountryNames bool
}

// NewWorld builds the hierarchy from the grid's country codes, binds an
// input and output view for every unit and derives the neighbourhood graphs.
// The stores are owned by the world from here on.
func NewWorld(grid *world.Grid, input, output *dataset.Dataset, matrix [][]int, opts WorldOptions) (*World, error) {
	n := grid.Len()
	if input.Cells() != n || output.Cells() != n {
		return nil, fmt.Errorf("world: stores have %d/%d cells, grid has %d", input.Cells(), output.Cells(), n)
	}
	input.Kind, output.Kind = dataset.Input, dataset.Output

	tree, err := hierarchy.Build(grid.Countries(), opts.Lookup, hierarchy.BuildOptions{CountryNames: opts.CountryNames})
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	stores := map[dataset.Kind]*dataset.Dataset{
		dataset.Input:  input,
		dataset.Output: output,
	}
	eng, err := datasync.NewEngine(datasync.NewRegistry(tree.World), stores)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	for u := range tree.World.Subtree() {
		for _, kind := range dataset.Kinds {
			if _, err := eng.Bind(u, kind); err != nil {
				return nil, fmt.Errorf("world: %w", err)
			}
		}
	}

	cells := make([]*hierarchy.Unit, n)
	for i := range cells {
		cells[i] = tree.CellUnit(i)
	}
	cellGraph, err := neighbourhood.BuildCells(cells, matrix)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	countryGraph, err := neighbourhood.DeriveCountries(cellGraph, tree.Units(hierarchy.LevelCountry))
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	if err := cellGraph.Attach(); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	if err := countryGraph.Attach(); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}

	w := &World{
		Grid:      grid,
		Tree:      tree,
		Sync:      eng,
		Cells:     cellGraph,
		Countries: countryGraph,
		stores:    stores,
	}
	slog.Info("world built",
		"cells", n,
		"countries", len(tree.Units(hierarchy.LevelCountry)),
		"world_regions", len(tree.Units(hierarchy.LevelWorldRegion)),
		"cell_edges", cellGraph.Edges(),
		"country_edges", countryGraph.Edges(),
	)
	return w, nil
}

// Input returns the input view of u.
func (w *World) Input(u *hierarchy.Unit) (*datasync.View, error) {
	return w.Sync.View(u, dataset.Input)
}

// Output returns the output view of u.
func (w *World) Output(u *hierarchy.Unit) (*datasync.View, error) {
	return w.Sync.View(u, dataset.Output)
}

// Store returns the backing store of kind. Callers outside the sync engine
// must run a barrier before reading it.
func (w *World) Store(kind dataset.Kind) *dataset.Dataset {
	return w.stores[kind]
}

// Unit looks up a unit by level and id.
func (w *World) Unit(level hierarchy.Level, id string) (*hierarchy.Unit, bool) {
	return w.Tree.Unit(level, id)
}

// Close discards the view registry; later view access fails with
// datasync.ErrDiscarded.
func (w *World) Close() {
	w.Sync.Registry().Discard()
}
