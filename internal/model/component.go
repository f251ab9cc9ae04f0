package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/copan-lpjml/internal/coupler"
	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/hierarchy"
)

// Archiver stores a copy of the world's data, e.g. the initial state.
type Archiver interface {
	Archive(ctx context.Context, w *World, label string) error
}

// ComponentOptions configures a Component.
type ComponentOptions struct {
	Lookup       hierarchy.Lookup
	CountryNames bool     // use country names instead of codes as unit names
	Archiver     Archiver // optional; receives the initial world data
}

// Component couples the world with the external model through a coupler.
type Component struct {
	client *coupler.Client
	opts   ComponentOptions
	world  *World
	closed bool
}

// NewComponent creates a component exchanging through client.
func NewComponent(client *coupler.Client, opts ComponentOptions) *Component {
	return &Component{client: client, opts: opts}
}

// World returns the world built by Init, nil before.
func (c *Component) World() *World { return c.world }

// FirstYear returns the first coupled year.
func (c *Component) FirstYear() int { return c.client.FirstYear() }

// LastYear returns the last coupled year.
func (c *Component) LastYear() int { return c.client.LastYear() }

// Init reads the initial input, the historic output and the grid from the
// coupler and builds the world around them.
func (c *Component) Init(ctx context.Context) error {
	if c.world != nil {
		return errors.New("component already initialised")
	}
	input, err := c.client.ReadInput(ctx)
	if err != nil {
		return err
	}
	output, err := c.client.ReadHistoricOutput(ctx)
	if err != nil {
		return err
	}
	matrix, err := c.client.NeighbourMatrix()
	if err != nil {
		return &coupler.ExternalSyncError{Op: "neighbour_matrix", Err: err}
	}

	w, err := NewWorld(c.client.Grid(), input, output, matrix, WorldOptions{
		Lookup:       c.opts.Lookup,
		CountryNames: c.opts.CountryNames,
	})
	if err != nil {
		return err
	}
	c.world = w

	if c.opts.Archiver != nil {
		if err := c.opts.Archiver.Archive(ctx, w, "initial"); err != nil {
			return fmt.Errorf("archive initial world: %w", err)
		}
	}
	slog.Info("component initialised",
		"first_year", c.FirstYear(),
		"last_year", c.LastYear(),
		"input_fields", input.FieldNames(),
		"output_fields", output.FieldNames(),
	)
	return nil
}

// Update exchanges one year with the external model. All pending writes are
// reconciled before the input is sent; the received output is written
// through the world's view and reconciled down to every unit. The coupler is
// closed after the last year.
func (c *Component) Update(ctx context.Context, year int) error {
	if c.world == nil {
		return errors.New("component not initialised")
	}
	if c.closed {
		return fmt.Errorf("update year %d: %w", year, coupler.ErrClosed)
	}
	w := c.world
	if err := w.Sync.Barrier(); err != nil {
		return fmt.Errorf("update year %d: %w", year, err)
	}

	input := w.Store(dataset.Input)
	input.Year = year
	if err := c.client.SendInput(ctx, input, year); err != nil {
		return err
	}
	out, err := c.client.ReadOutput(ctx, year)
	if err != nil {
		return err
	}
	if err := c.writeOutput(out, year); err != nil {
		return fmt.Errorf("update year %d: %w", year, err)
	}

	if year == c.client.LastYear() {
		c.closed = true
		if err := c.client.Close(); err != nil {
			return err
		}
		slog.Info("coupler closed", "year", year)
	}
	return nil
}

func (c *Component) writeOutput(out *dataset.Dataset, year int) error {
	w := c.world
	store := w.Store(dataset.Output)
	if out.Cells() != store.Cells() {
		return fmt.Errorf("output has %d cells, world has %d", out.Cells(), store.Cells())
	}
	view, err := w.Output(w.Tree.World)
	if err != nil {
		return err
	}
	cells := w.Tree.World.Cells()
	for _, name := range out.FieldNames() {
		if !store.Has(name) {
			// New fields enter the store directly; the write below marks
			// the world dirty either way.
			if err := store.AddField(name, make([]float64, store.Cells())); err != nil {
				return err
			}
		}
		vals, err := out.Gather(name, cells)
		if err != nil {
			return err
		}
		if err := view.Write(name, vals); err != nil {
			return err
		}
	}
	store.Year = year
	return w.Sync.ReconcileAll(dataset.Output)
}

// Close releases the world. The coupler is closed too if the run stopped
// before the last year.
func (c *Component) Close() error {
	var err error
	if !c.closed {
		c.closed = true
		err = c.client.Close()
	}
	if c.world != nil {
		c.world.Close()
	}
	return err
}
