package datasync

import (
	"fmt"

	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/hierarchy"
)

type viewKey struct {
	unit *hierarchy.Unit
	kind dataset.Kind
}

// Registry holds the views of one world. It is created with the world and
// discarded when the run ends.
type Registry struct {
	root      *hierarchy.Unit
	views     map[viewKey]*View
	discarded bool
}

// NewRegistry creates an empty registry for the hierarchy rooted at root.
func NewRegistry(root *hierarchy.Unit) *Registry {
	return &Registry{
		root:  root,
		views: make(map[viewKey]*View),
	}
}

// Root returns the world unit the registry belongs to.
func (r *Registry) Root() *hierarchy.Unit { return r.root }

func (r *Registry) register(v *View) error {
	if r.discarded {
		return ErrDiscarded
	}
	if v.unit != r.root && !r.root.IsAncestorOf(v.unit) {
		return fmt.Errorf("datasync: %s is not part of this world", v.unit)
	}
	k := viewKey{v.unit, v.kind}
	if _, dup := r.views[k]; dup {
		return fmt.Errorf("datasync: %s view already bound for %s", v.kind, v.unit)
	}
	r.views[k] = v
	return nil
}

// View returns the bound view of u for kind.
func (r *Registry) View(u *hierarchy.Unit, kind dataset.Kind) (*View, bool) {
	v, ok := r.views[viewKey{u, kind}]
	return v, ok
}

// Len returns the number of bound views.
func (r *Registry) Len() int { return len(r.views) }

// Discard drops every view. Later reads and writes fail with ErrDiscarded.
func (r *Registry) Discard() {
	r.discarded = true
	r.views = make(map[viewKey]*View)
}

// Discarded reports whether Discard was called.
func (r *Registry) Discarded() bool { return r.discarded }
