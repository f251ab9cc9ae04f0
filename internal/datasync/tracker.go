package datasync

import (
	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/hierarchy"
)

// Tracker records which units hold writes not yet reconciled, per data kind.
type Tracker struct {
	dirty map[dataset.Kind]map[*hierarchy.Unit]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{dirty: make(map[dataset.Kind]map[*hierarchy.Unit]struct{})}
}

// Set marks u dirty for kind.
func (t *Tracker) Set(u *hierarchy.Unit, kind dataset.Kind) {
	m, ok := t.dirty[kind]
	if !ok {
		m = make(map[*hierarchy.Unit]struct{})
		t.dirty[kind] = m
	}
	m[u] = struct{}{}
}

// Clear marks u clean for kind.
func (t *Tracker) Clear(u *hierarchy.Unit, kind dataset.Kind) {
	delete(t.dirty[kind], u)
}

// IsDirty reports whether u holds unreconciled writes for kind.
func (t *Tracker) IsDirty(u *hierarchy.Unit, kind dataset.Kind) bool {
	_, ok := t.dirty[kind][u]
	return ok
}

// Count returns the number of dirty units for kind.
func (t *Tracker) Count(kind dataset.Kind) int {
	return len(t.dirty[kind])
}

// Units returns the dirty units for kind in no particular order.
func (t *Tracker) Units(kind dataset.Kind) []*hierarchy.Unit {
	out := make([]*hierarchy.Unit, 0, len(t.dirty[kind]))
	for u := range t.dirty[kind] {
		out = append(out, u)
	}
	return out
}
