package datasync

import (
	"errors"
	"fmt"

	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/hierarchy"
)

var (
	ErrDiscarded    = errors.New("datasync: registry discarded")
	ErrUnregistered = errors.New("datasync: no view bound")
)

// ShapeError reports a write whose value count differs from the unit's cell count.
type ShapeError struct {
	Unit  string
	Level hierarchy.Level
	Field string
	Got   int
	Want  int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("write %s %q field %q: got %d values, want %d",
		e.Level, e.Unit, e.Field, e.Got, e.Want)
}

// ConsistencyError reports pending writes that cannot be ordered by the
// ancestor/descendant precedence rule. It signals a hierarchy construction
// bug and is never resolved automatically.
type ConsistencyError struct {
	Kind   dataset.Kind
	Field  string
	Cell   int
	First  string // unit that claimed the cell first
	Second string // conflicting unit
	Reason string
}

func (e *ConsistencyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("reconcile %s field %q: %s: %s", e.Kind, e.Field, e.Second, e.Reason)
	}
	return fmt.Sprintf("reconcile %s field %q: cell %d written by unrelated units %s and %s",
		e.Kind, e.Field, e.Cell, e.First, e.Second)
}
