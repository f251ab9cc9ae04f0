package hierarchy

import "sort"

// Lookup supplies country names and country groupings at build time.
type Lookup interface {
	// Name returns the display name for a country code, or "" if unknown.
	Name(code string) string
	// Groups returns the world regions the country is listed in.
	Groups(code string) []string
}

// StaticLookup is a Lookup backed by fixed tables (usually from config).
type StaticLookup struct {
	names  map[string]string
	groups map[string][]string // country code → region names
}

// NewStaticLookup builds a lookup from a code→name table and a
// region→member-codes table.
func NewStaticLookup(names map[string]string, regions map[string][]string) *StaticLookup {
	l := &StaticLookup{
		names:  make(map[string]string, len(names)),
		groups: make(map[string][]string),
	}
	for code, name := range names {
		l.names[code] = name
	}
	regionNames := make([]string, 0, len(regions))
	for r := range regions {
		regionNames = append(regionNames, r)
	}
	sort.Strings(regionNames)
	for _, r := range regionNames {
		for _, code := range regions[r] {
			l.groups[code] = append(l.groups[code], r)
		}
	}
	return l
}

func (l *StaticLookup) Name(code string) string {
	if l == nil {
		return ""
	}
	return l.names[code]
}

func (l *StaticLookup) Groups(code string) []string {
	if l == nil {
		return nil
	}
	return l.groups[code]
}
