// Package hierarchy provides the spatial unit tree: world, world regions,
// countries and grid cells. Each unit owns the set of grid-cell indices it
// covers; a parent covers exactly the disjoint union of its children.
package hierarchy

import (
	"fmt"
	"iter"
	"sort"
)

// Level is the rank of a unit in the spatial hierarchy.
type Level uint8

const (
	LevelCell        Level = iota // Single grid cell
	LevelCountry                  // Country (LPJmL country code)
	LevelWorldRegion              // Grouping of countries (EU, G7, ...)
	LevelWorld                    // The single root
)

func (l Level) String() string {
	switch l {
	case LevelCell:
		return "cell"
	case LevelCountry:
		return "country"
	case LevelWorldRegion:
		return "world_region"
	case LevelWorld:
		return "world"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// Unit is a node of the spatial hierarchy.
type Unit struct {
	id    string
	name  string
	level Level
	cells []int // ascending, unique

	parent   *Unit
	children []*Unit
	depth    int

	claimed map[int]*Unit    // cell → child covering it
	childID map[string]*Unit // level/id → child

	neighbours    []*Unit
	neighboursSet bool
}

// New creates a unit and attaches it to parent. The world unit is the only
// unit without a parent.
func New(level Level, id, name string, cells []int, parent *Unit) (*Unit, error) {
	sorted, err := normalizeCells(cells)
	if err != nil {
		return nil, &InvariantError{Unit: id, Level: level, Reason: err.Error()}
	}

	u := &Unit{
		id:    id,
		name:  name,
		level: level,
		cells: sorted,
	}

	if level == LevelWorld {
		if parent != nil {
			return nil, &InvariantError{Unit: id, Level: level, Reason: "world unit cannot have a parent"}
		}
		return u, nil
	}
	if parent == nil {
		return nil, &InvariantError{Unit: id, Level: level, Reason: "non-world unit requires a parent"}
	}
	if parent.level <= level {
		return nil, &InvariantError{Unit: id, Level: level,
			Reason: fmt.Sprintf("parent %s %q is not above %s", parent.level, parent.id, level)}
	}
	if missing, ok := subset(sorted, parent.cells); !ok {
		return nil, &InvariantError{Unit: id, Level: level,
			Reason: fmt.Sprintf("cell %d not covered by parent %s %q", missing, parent.level, parent.id)}
	}
	if parent.claimed == nil {
		parent.claimed = make(map[int]*Unit)
		parent.childID = make(map[string]*Unit)
	}
	key := level.String() + "/" + id
	if _, dup := parent.childID[key]; dup {
		return nil, &InvariantError{Unit: id, Level: level, Reason: "duplicate sibling id"}
	}
	for _, c := range sorted {
		if sib, taken := parent.claimed[c]; taken {
			return nil, &InvariantError{Unit: id, Level: level,
				Reason: fmt.Sprintf("cell %d already belongs to sibling %s %q", c, sib.level, sib.id)}
		}
	}

	u.parent = parent
	u.depth = parent.depth + 1
	parent.children = append(parent.children, u)
	parent.childID[key] = u
	for _, c := range sorted {
		parent.claimed[c] = u
	}
	return u, nil
}

// ID returns the identifier, unique within the unit's level.
func (u *Unit) ID() string { return u.id }

// Name returns the display name (country name, region name).
func (u *Unit) Name() string { return u.name }

// Level returns the hierarchy level.
func (u *Unit) Level() Level { return u.level }

// Cells returns the grid-cell indices covered by the unit, ascending.
// The slice must not be modified.
func (u *Unit) Cells() []int { return u.cells }

// Parent returns the next higher unit, or nil for the world.
func (u *Unit) Parent() *Unit { return u.parent }

// Children returns the next lower units.
func (u *Unit) Children() []*Unit { return u.children }

// Depth is the distance to the world root (world = 0).
func (u *Unit) Depth() int { return u.depth }

// Neighbours returns the adjacent units of the same level.
func (u *Unit) Neighbours() []*Unit { return u.neighbours }

// SetNeighbours fixes the neighbour set. It may be called once per run.
func (u *Unit) SetNeighbours(ns []*Unit) error {
	if u.neighboursSet {
		return &InvariantError{Unit: u.id, Level: u.level, Reason: "neighbourhood already assigned"}
	}
	for _, n := range ns {
		if n == u {
			return &InvariantError{Unit: u.id, Level: u.level, Reason: "unit cannot neighbour itself"}
		}
		if n.level != u.level {
			return &InvariantError{Unit: u.id, Level: u.level,
				Reason: fmt.Sprintf("neighbour %q is a %s", n.id, n.level)}
		}
	}
	u.neighbours = ns
	u.neighboursSet = true
	return nil
}

// Contains reports whether the unit covers the given cell.
func (u *Unit) Contains(cell int) bool {
	i := sort.SearchInts(u.cells, cell)
	return i < len(u.cells) && u.cells[i] == cell
}

// IsAncestorOf reports whether u is a strict ancestor of v.
func (u *Unit) IsAncestorOf(v *Unit) bool {
	if v == nil {
		return false
	}
	for p := v.parent; p != nil; p = p.parent {
		if p == u {
			return true
		}
	}
	return false
}

// Ancestors yields the parent chain from the next higher unit up to the world.
func (u *Unit) Ancestors() iter.Seq[*Unit] {
	return func(yield func(*Unit) bool) {
		for p := u.parent; p != nil; p = p.parent {
			if !yield(p) {
				return
			}
		}
	}
}

// DescendantsAt yields every unit at level in u's subtree in pre-order,
// including u itself when it is at that level. Each call restarts the walk.
func (u *Unit) DescendantsAt(level Level) iter.Seq[*Unit] {
	return func(yield func(*Unit) bool) {
		u.walk(level, yield)
	}
}

func (u *Unit) walk(level Level, yield func(*Unit) bool) bool {
	if u.level == level {
		return yield(u)
	}
	if u.level < level {
		return true
	}
	for _, c := range u.children {
		if !c.walk(level, yield) {
			return false
		}
	}
	return true
}

// Subtree yields u and all of its descendants in pre-order.
func (u *Unit) Subtree() iter.Seq[*Unit] {
	return func(yield func(*Unit) bool) {
		u.preorder(yield)
	}
}

func (u *Unit) preorder(yield func(*Unit) bool) bool {
	if !yield(u) {
		return false
	}
	for _, c := range u.children {
		if !c.preorder(yield) {
			return false
		}
	}
	return true
}

func (u *Unit) String() string {
	return fmt.Sprintf("%s(%s, cells=%d)", u.level, u.id, len(u.cells))
}

func normalizeCells(cells []int) ([]int, error) {
	out := make([]int, len(cells))
	copy(out, cells)
	sort.Ints(out)
	for i, c := range out {
		if c < 0 {
			return nil, fmt.Errorf("negative cell index %d", c)
		}
		if i > 0 && out[i-1] == c {
			return nil, fmt.Errorf("duplicate cell index %d", c)
		}
	}
	return out, nil
}

// subset reports whether every element of a is in b (b ascending).
// On failure it returns the first missing element.
func subset(a, b []int) (int, bool) {
	for _, x := range a {
		i := sort.SearchInts(b, x)
		if i == len(b) || b[i] != x {
			return x, false
		}
	}
	return 0, true
}
