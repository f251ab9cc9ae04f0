package datasync

import (
	"fmt"
	"sort"

	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/hierarchy"
)

// View is a unit's window onto the world's backing store for one data kind.
// Reads project the store onto the unit's cells; writes are held in the
// unit's own buffer until the engine reconciles them into the store.
type View struct {
	unit   *hierarchy.Unit
	kind   dataset.Kind
	engine *Engine

	buffers map[string][]float64 // field → values aligned to unit.Cells()
	pending map[string]bool      // fields written since the last flush
}

// Unit returns the unit the view is bound to.
func (v *View) Unit() *hierarchy.Unit { return v.unit }

// Kind returns the data kind.
func (v *View) Kind() dataset.Kind { return v.kind }

// Fields returns the field names available in the backing store.
func (v *View) Fields() []string {
	return v.engine.stores[v.kind].FieldNames()
}

// Pending returns the number of fields holding unreconciled writes.
func (v *View) Pending() int { return len(v.pending) }

// Read returns the field values over the unit's cells, in cell order.
// Unreconciled writes of an ancestor are pulled down first; the unit's own
// unreconciled write is returned as written.
func (v *View) Read(field string) ([]float64, error) {
	if err := v.engine.check(); err != nil {
		return nil, err
	}
	if v.engine.NeedsReconcile(v.unit, v.kind) {
		if err := v.engine.Reconcile(v.unit, v.kind); err != nil {
			return nil, err
		}
	}
	out, err := v.engine.stores[v.kind].Gather(field, v.unit.Cells())
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", v.kind, v.unit, err)
	}
	if v.pending[field] {
		copy(out, v.buffers[field])
	}
	return out, nil
}

// Write replaces the field values over the unit's cells. values[i] belongs
// to Cells()[i]. The values go to the unit's own buffer; the shared store
// changes only at reconciliation.
func (v *View) Write(field string, values []float64) error {
	if err := v.engine.check(); err != nil {
		return err
	}
	cells := v.unit.Cells()
	if len(values) != len(cells) {
		return &ShapeError{
			Unit:  v.unit.ID(),
			Level: v.unit.Level(),
			Field: field,
			Got:   len(values),
			Want:  len(cells),
		}
	}
	if !v.engine.stores[v.kind].Has(field) {
		return fmt.Errorf("write %s %s: %w %q", v.kind, v.unit, dataset.ErrUnknownField, field)
	}

	buf := v.buffers[field]
	if cap(buf) < len(cells) {
		buf = make([]float64, len(cells))
	}
	buf = buf[:len(cells)]
	copy(buf, values)
	v.buffers[field] = buf
	v.pending[field] = true

	v.engine.MarkDirty(v.unit, v.kind)
	return nil
}

// Apply reads a field, maps every value through fn and writes the result.
func (v *View) Apply(field string, fn func(cell int, value float64) float64) error {
	vals, err := v.Read(field)
	if err != nil {
		return err
	}
	for i, c := range v.unit.Cells() {
		vals[i] = fn(c, vals[i])
	}
	return v.Write(field, vals)
}

// Mean returns the mean of a field over the unit's cells.
func (v *View) Mean(field string) (float64, error) {
	vals, err := v.Read(field)
	if err != nil {
		return 0, err
	}
	return dataset.Mean(vals), nil
}

func (v *View) pendingFields() []string {
	out := make([]string, 0, len(v.pending))
	for f := range v.pending {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (v *View) clearPending() {
	for f := range v.pending {
		delete(v.pending, f)
	}
}
