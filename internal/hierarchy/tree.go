package hierarchy

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
)

// WorldID is the identifier of the root unit.
const WorldID = "world"

// Tree is a fully built hierarchy with per-level indexes.
type Tree struct {
	World *Unit

	byLevel   map[Level][]*Unit
	index     map[Level]map[string]*Unit
	cellUnits []*Unit // grid cell index → cell unit
}

// BuildOptions controls how units are named during Build.
type BuildOptions struct {
	// CountryNames uses Lookup.Name as the country display name instead of
	// the code.
	CountryNames bool
}

// Build creates the world → world region → country → cell tree from the
// country code of every grid cell. Countries listed in no region attach
// directly to the world; cells without a country code do too.
func Build(countries []string, lookup Lookup, opts BuildOptions) (*Tree, error) {
	all := make([]int, len(countries))
	for i := range all {
		all[i] = i
	}
	root, err := New(LevelWorld, WorldID, "World", all, nil)
	if err != nil {
		return nil, err
	}
	t := &Tree{
		World:     root,
		byLevel:   make(map[Level][]*Unit),
		index:     make(map[Level]map[string]*Unit),
		cellUnits: make([]*Unit, len(countries)),
	}
	t.add(root)

	// Group cells by country code, keeping first-seen order stable by sorting.
	countryCells := make(map[string][]int)
	var codes []string
	for i, code := range countries {
		if code == "" {
			continue
		}
		if _, seen := countryCells[code]; !seen {
			codes = append(codes, code)
		}
		countryCells[code] = append(countryCells[code], i)
	}
	sort.Strings(codes)

	// Resolve each country's world region; at most one.
	regionOf := make(map[string]string)
	regionMembers := make(map[string][]string)
	var regionNames []string
	for _, code := range codes {
		var groups []string
		if lookup != nil {
			groups = lookup.Groups(code)
		}
		switch len(groups) {
		case 0:
			continue
		case 1:
		default:
			return nil, &InvariantError{Unit: code, Level: LevelCountry,
				Reason: fmt.Sprintf("listed in several world regions %v", groups)}
		}
		r := groups[0]
		if _, seen := regionMembers[r]; !seen {
			regionNames = append(regionNames, r)
		}
		regionOf[code] = r
		regionMembers[r] = append(regionMembers[r], code)
	}
	sort.Strings(regionNames)

	regions := make(map[string]*Unit, len(regionNames))
	for _, r := range regionNames {
		var cells []int
		for _, code := range regionMembers[r] {
			cells = append(cells, countryCells[code]...)
		}
		u, err := New(LevelWorldRegion, r, r, cells, root)
		if err != nil {
			return nil, err
		}
		regions[r] = u
		t.add(u)
	}

	cellParent := make([]*Unit, len(countries))
	for _, code := range codes {
		parent := root
		if r, ok := regionOf[code]; ok {
			parent = regions[r]
		}
		name := code
		if opts.CountryNames && lookup != nil {
			if n := lookup.Name(code); n != "" {
				name = n
			}
		}
		u, err := New(LevelCountry, code, name, countryCells[code], parent)
		if err != nil {
			return nil, err
		}
		t.add(u)
		for _, c := range countryCells[code] {
			cellParent[c] = u
		}
	}

	for i := range countries {
		parent := cellParent[i]
		if parent == nil {
			parent = root
		}
		id := strconv.Itoa(i)
		u, err := New(LevelCell, id, id, []int{i}, parent)
		if err != nil {
			return nil, err
		}
		t.add(u)
		t.cellUnits[i] = u
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("hierarchy built",
		"cells", len(t.byLevel[LevelCell]),
		"countries", len(t.byLevel[LevelCountry]),
		"world_regions", len(t.byLevel[LevelWorldRegion]),
	)
	return t, nil
}

// NewTree indexes an existing hierarchy rooted at the given world unit.
func NewTree(root *Unit) (*Tree, error) {
	if root == nil || root.level != LevelWorld {
		return nil, &InvariantError{Unit: WorldID, Level: LevelWorld, Reason: "tree root must be the world unit"}
	}
	n := 0
	if len(root.cells) > 0 {
		n = root.cells[len(root.cells)-1] + 1
	}
	t := &Tree{
		World:     root,
		byLevel:   make(map[Level][]*Unit),
		index:     make(map[Level]map[string]*Unit),
		cellUnits: make([]*Unit, n),
	}
	for u := range root.Subtree() {
		t.add(u)
		if u.level == LevelCell && len(u.cells) == 1 {
			t.cellUnits[u.cells[0]] = u
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) add(u *Unit) {
	t.byLevel[u.level] = append(t.byLevel[u.level], u)
	m, ok := t.index[u.level]
	if !ok {
		m = make(map[string]*Unit)
		t.index[u.level] = m
	}
	m[u.id] = u
}

// Units returns all units at a level in build order.
func (t *Tree) Units(level Level) []*Unit {
	return t.byLevel[level]
}

// Unit looks up a unit by level and id.
func (t *Tree) Unit(level Level, id string) (*Unit, bool) {
	u, ok := t.index[level][id]
	return u, ok
}

// CellUnit returns the cell unit for a grid cell index, or nil.
func (t *Tree) CellUnit(cell int) *Unit {
	if cell < 0 || cell >= len(t.cellUnits) {
		return nil
	}
	return t.cellUnits[cell]
}

// Validate checks the superset and disjointness invariants over the tree.
func (t *Tree) Validate() error {
	for u := range t.World.Subtree() {
		if len(u.children) == 0 {
			continue
		}
		var union []int
		for _, c := range u.children {
			union = append(union, c.cells...)
		}
		sort.Ints(union)
		for i := 1; i < len(union); i++ {
			if union[i] == union[i-1] {
				return &InvariantError{Unit: u.id, Level: u.level,
					Reason: fmt.Sprintf("cell %d is shared by two children", union[i])}
			}
		}
		if len(union) != len(u.cells) {
			return &InvariantError{Unit: u.id, Level: u.level,
				Reason: fmt.Sprintf("children cover %d cells, unit covers %d", len(union), len(u.cells))}
		}
		for i := range union {
			if union[i] != u.cells[i] {
				return &InvariantError{Unit: u.id, Level: u.level,
					Reason: fmt.Sprintf("cell %d is not covered by any child", u.cells[i])}
			}
		}
	}
	return nil
}
