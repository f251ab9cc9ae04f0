// Package datasync keeps the data views of a spatial hierarchy consistent.
// Units write into their own buffers and are marked dirty; the Engine
// reconciles pending writes into the world's backing store on demand, the
// deeper (more specific) unit winning where an ancestor and a descendant
// both wrote the same cells.
package datasync

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/hierarchy"
	"github.com/talgya/copan-lpjml/internal/metrics"
)

// Stats counts reconciliation work since the engine was created.
type Stats struct {
	Reconciles   uint64 `json:"reconciles"`
	UnitsFlushed uint64 `json:"units_flushed"`
	CellsWritten uint64 `json:"cells_written"`
}

// Engine reconciles pending writes across the hierarchy.
type Engine struct {
	registry *Registry
	tracker  *Tracker
	stores   map[dataset.Kind]*dataset.Dataset

	stats Stats
}

// NewEngine creates an engine over the registry's hierarchy and the
// world-owned backing stores, one per data kind.
func NewEngine(registry *Registry, stores map[dataset.Kind]*dataset.Dataset) (*Engine, error) {
	cells := registry.Root().Cells()
	for kind, ds := range stores {
		if ds == nil {
			return nil, fmt.Errorf("datasync: nil %s store", kind)
		}
		if n := len(cells); n > 0 && cells[n-1] >= ds.Cells() {
			return nil, fmt.Errorf("datasync: %s store has %d cells, hierarchy needs %d",
				kind, ds.Cells(), cells[n-1]+1)
		}
	}
	return &Engine{
		registry: registry,
		tracker:  NewTracker(),
		stores:   stores,
	}, nil
}

// Tracker exposes the dirty state.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// Registry returns the view registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Store returns the backing store for kind.
func (e *Engine) Store(kind dataset.Kind) *dataset.Dataset { return e.stores[kind] }

// Stats returns the reconciliation counters.
func (e *Engine) Stats() Stats { return e.stats }

// Bind creates and registers the view of u for kind.
func (e *Engine) Bind(u *hierarchy.Unit, kind dataset.Kind) (*View, error) {
	if _, ok := e.stores[kind]; !ok {
		return nil, fmt.Errorf("datasync: no %s store", kind)
	}
	v := &View{
		unit:    u,
		kind:    kind,
		engine:  e,
		buffers: make(map[string][]float64),
		pending: make(map[string]bool),
	}
	if err := e.registry.register(v); err != nil {
		return nil, err
	}
	return v, nil
}

// View returns the bound view of u for kind.
func (e *Engine) View(u *hierarchy.Unit, kind dataset.Kind) (*View, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	v, ok := e.registry.View(u, kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnregistered, kind, u)
	}
	return v, nil
}

// MarkDirty records that u holds a pending write for kind.
func (e *Engine) MarkDirty(u *hierarchy.Unit, kind dataset.Kind) {
	e.tracker.Set(u, kind)
	metrics.DirtyUnits.WithLabelValues(kind.String()).Set(float64(e.tracker.Count(kind)))
}

// NeedsReconcile reports whether a strict ancestor of u holds a pending
// write for kind that u has not yet observed.
func (e *Engine) NeedsReconcile(u *hierarchy.Unit, kind dataset.Kind) bool {
	if e.tracker.Count(kind) == 0 {
		return false
	}
	for a := range u.Ancestors() {
		if e.tracker.IsDirty(a, kind) {
			return true
		}
	}
	return false
}

// Reconcile applies every pending write that can affect u: the scope is the
// subtree of u's top-most dirty ancestor, or of u itself. It is a no-op when
// nothing in scope is dirty.
func (e *Engine) Reconcile(u *hierarchy.Unit, kind dataset.Kind) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.tracker.Count(kind) == 0 {
		return nil
	}
	scope := u
	for a := range u.Ancestors() {
		if e.tracker.IsDirty(a, kind) {
			scope = a
		}
	}
	var dirty []*hierarchy.Unit
	for _, d := range e.tracker.Units(kind) {
		if d == scope || scope.IsAncestorOf(d) {
			dirty = append(dirty, d)
		}
	}
	if len(dirty) == 0 {
		return nil
	}
	return e.flush(kind, scope, dirty)
}

// ReconcileAll applies every pending write of kind. Afterwards no unit is
// dirty for kind.
func (e *Engine) ReconcileAll(kind dataset.Kind) error {
	return e.Reconcile(e.registry.Root(), kind)
}

// Barrier fully reconciles every data kind. It runs before data leaves the
// hierarchy and before control returns to model code.
func (e *Engine) Barrier() error {
	for _, kind := range dataset.Kinds {
		if _, ok := e.stores[kind]; !ok {
			continue
		}
		if err := e.ReconcileAll(kind); err != nil {
			return err
		}
	}
	return nil
}

type write struct {
	unit   *hierarchy.Unit
	field  string
	cells  []int
	values []float64
}

func (e *Engine) flush(kind dataset.Kind, scope *hierarchy.Unit, dirty []*hierarchy.Unit) error {
	writes, err := e.plan(kind, dirty)
	if err != nil {
		metrics.ConsistencyErrorsTotal.Inc()
		return err
	}

	store := e.stores[kind]
	cells := 0
	for _, w := range writes {
		if err := store.Scatter(w.field, w.cells, w.values); err != nil {
			return fmt.Errorf("reconcile %s %s: %w", kind, w.unit, err)
		}
		cells += len(w.cells)
	}
	for _, u := range dirty {
		if v, ok := e.registry.View(u, kind); ok {
			v.clearPending()
		}
		e.tracker.Clear(u, kind)
	}

	e.stats.Reconciles++
	e.stats.UnitsFlushed += uint64(len(dirty))
	e.stats.CellsWritten += uint64(cells)

	label := kind.String()
	metrics.ReconcileTotal.WithLabelValues(label).Inc()
	metrics.UnitsFlushedTotal.WithLabelValues(label).Add(float64(len(dirty)))
	metrics.CellsWrittenTotal.WithLabelValues(label).Add(float64(cells))
	metrics.DirtyUnits.WithLabelValues(label).Set(float64(e.tracker.Count(kind)))

	slog.Debug("reconciled",
		"kind", label,
		"scope", scope.String(),
		"units", len(dirty),
		"cells", cells,
	)
	return nil
}

// plan orders the pending writes shallow-to-deep and checks that every
// overlap is between an ancestor and its descendant. Nothing is written
// until the whole plan is known to be consistent.
func (e *Engine) plan(kind dataset.Kind, dirty []*hierarchy.Unit) ([]write, error) {
	sort.SliceStable(dirty, func(i, j int) bool {
		if dirty[i].Depth() != dirty[j].Depth() {
			return dirty[i].Depth() < dirty[j].Depth()
		}
		if dirty[i].Level() != dirty[j].Level() {
			return dirty[i].Level() > dirty[j].Level()
		}
		return dirty[i].ID() < dirty[j].ID()
	})

	store := e.stores[kind]
	owners := make(map[string][]*hierarchy.Unit) // field → cell → last writer
	var writes []write

	for _, u := range dirty {
		v, ok := e.registry.View(u, kind)
		if !ok {
			return nil, fmt.Errorf("%w: dirty %s %s", ErrUnregistered, kind, u)
		}
		cells := u.Cells()
		for _, field := range v.pendingFields() {
			vals := v.buffers[field]
			if len(vals) != len(cells) {
				return nil, &ConsistencyError{Kind: kind, Field: field, Second: u.String(),
					Reason: fmt.Sprintf("pending write holds %d values for %d cells", len(vals), len(cells))}
			}
			if !store.Has(field) {
				return nil, fmt.Errorf("reconcile %s %s: %w %q", kind, u, dataset.ErrUnknownField, field)
			}
			owner, ok := owners[field]
			if !ok {
				owner = make([]*hierarchy.Unit, store.Cells())
				owners[field] = owner
			}
			for _, c := range cells {
				if c >= len(owner) {
					return nil, fmt.Errorf("reconcile %s %s: %w: %d", kind, u, dataset.ErrCellIndex, c)
				}
				if prev := owner[c]; prev != nil && prev != u && !prev.IsAncestorOf(u) {
					return nil, &ConsistencyError{Kind: kind, Field: field, Cell: c,
						First: prev.String(), Second: u.String()}
				}
				owner[c] = u
			}
			writes = append(writes, write{unit: u, field: field, cells: cells, values: vals})
		}
	}
	return writes, nil
}

func (e *Engine) check() error {
	if e.registry.Discarded() {
		return ErrDiscarded
	}
	return nil
}
