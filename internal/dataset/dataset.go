// Package dataset provides cell-indexed gridded data exchanged with LPJmL.
// A Dataset holds one float64 value per grid cell for each named field.
package dataset

import (
	"errors"
	"fmt"
	"sort"
)

// Kind distinguishes the two data categories exchanged with the simulation.
type Kind uint8

const (
	Input  Kind = iota // Data sent to LPJmL (land use, fertilizer, ...)
	Output             // Data received from LPJmL (harvest, carbon, ...)
)

// Kinds lists every data kind in exchange order.
var Kinds = [2]Kind{Input, Output}

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind resolves "input" or "output".
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown data kind %q", s)
}

var (
	ErrUnknownField = errors.New("unknown field")
	ErrShape        = errors.New("shape mismatch")
	ErrCellIndex    = errors.New("cell index out of range")
)

// Dataset is a set of named fields over a fixed number of grid cells.
type Dataset struct {
	Kind Kind `json:"kind"`
	Year int  `json:"year"` // Time stamp of the data (simulation year)

	cells  int
	fields map[string][]float64
}

// New creates an empty dataset over the given number of cells.
func New(kind Kind, cells int) *Dataset {
	return &Dataset{
		Kind:   kind,
		cells:  cells,
		fields: make(map[string][]float64),
	}
}

// Cells returns the size of the cell dimension.
func (d *Dataset) Cells() int {
	return d.cells
}

// AddField adds or replaces a field. The values are copied.
func (d *Dataset) AddField(name string, values []float64) error {
	if len(values) != d.cells {
		return fmt.Errorf("field %q: %w: got %d values, want %d", name, ErrShape, len(values), d.cells)
	}
	buf := make([]float64, d.cells)
	copy(buf, values)
	d.fields[name] = buf
	return nil
}

// Field returns the backing slice of a field. Writes to it mutate the dataset.
func (d *Dataset) Field(name string) ([]float64, bool) {
	v, ok := d.fields[name]
	return v, ok
}

// Has reports whether the dataset contains the field.
func (d *Dataset) Has(name string) bool {
	_, ok := d.fields[name]
	return ok
}

// FieldNames returns the field names in sorted order.
func (d *Dataset) FieldNames() []string {
	names := make([]string, 0, len(d.fields))
	for name := range d.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Gather returns a new slice holding the field values at the given cells.
func (d *Dataset) Gather(name string, cells []int) ([]float64, error) {
	src, ok := d.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownField, name)
	}
	out := make([]float64, len(cells))
	for i, c := range cells {
		if c < 0 || c >= d.cells {
			return nil, fmt.Errorf("gather %q: %w: %d", name, ErrCellIndex, c)
		}
		out[i] = src[c]
	}
	return out, nil
}

// Scatter writes values[i] into cell cells[i] of the field.
func (d *Dataset) Scatter(name string, cells []int, values []float64) error {
	dst, ok := d.fields[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownField, name)
	}
	if len(cells) != len(values) {
		return fmt.Errorf("scatter %q: %w: %d cells, %d values", name, ErrShape, len(cells), len(values))
	}
	for _, c := range cells {
		if c < 0 || c >= d.cells {
			return fmt.Errorf("scatter %q: %w: %d", name, ErrCellIndex, c)
		}
	}
	for i, c := range cells {
		dst[c] = values[i]
	}
	return nil
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	out := New(d.Kind, d.cells)
	out.Year = d.Year
	for name, v := range d.fields {
		buf := make([]float64, len(v))
		copy(buf, v)
		out.fields[name] = buf
	}
	return out
}

// Mean returns the arithmetic mean of a field over the given cells.
// An empty cell list yields 0.
func (d *Dataset) Mean(name string, cells []int) (float64, error) {
	vals, err := d.Gather(name, cells)
	if err != nil {
		return 0, err
	}
	return Mean(vals), nil
}

// Mean returns the arithmetic mean of values, or 0 when empty.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}
