package hierarchy

import (
	"fmt"
	"slices"
	"strings"
)

// roles maps the logical role names used by model code to levels.
var roles = map[string]Level{
	"cell":          LevelCell,
	"cells":         LevelCell,
	"country":       LevelCountry,
	"countries":     LevelCountry,
	"region":        LevelWorldRegion,
	"regions":       LevelWorldRegion,
	"world_region":  LevelWorldRegion,
	"world_regions": LevelWorldRegion,
	"worldregion":   LevelWorldRegion,
	"world":         LevelWorld,
}

// ParseRole resolves a role name to a level.
func ParseRole(role string) (Level, error) {
	l, ok := roles[strings.ToLower(strings.TrimSpace(role))]
	if !ok {
		return 0, fmt.Errorf("unknown role %q", role)
	}
	return l, nil
}

// Resolve returns the ancestor-or-self of u playing the given role, e.g. the
// country of a cell. It returns nil when u has no such ancestor, as for a
// country hanging directly under the world asked for its region.
func (t *Tree) Resolve(u *Unit, role string) (*Unit, error) {
	level, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	if level < u.level {
		return nil, fmt.Errorf("role %q is below %s %q; use Related", role, u.level, u.id)
	}
	for p := u; p != nil; p = p.parent {
		if p.level == level {
			return p, nil
		}
	}
	return nil, nil
}

// Related returns the units at the role's level below u, e.g. the countries
// of a world region.
func (t *Tree) Related(u *Unit, role string) ([]*Unit, error) {
	level, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	if level > u.level {
		p, err := t.Resolve(u, role)
		if err != nil || p == nil {
			return nil, err
		}
		return []*Unit{p}, nil
	}
	return slices.Collect(u.DescendantsAt(level)), nil
}
