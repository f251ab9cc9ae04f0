package hierarchy

import "fmt"

// InvariantError reports a hierarchy membership violation detected while
// building or validating the tree.
type InvariantError struct {
	Unit   string
	Level  Level
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("hierarchy invariant: %s %q: %s", e.Level, e.Unit, e.Reason)
}
