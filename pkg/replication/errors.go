package replication

import (
	"errors"
	"fmt"
)

// ErrPolicyUnsatisfiable is returned when the placement policy cannot produce
// a single target node for a mis-replicated container. The cluster cannot be
// made compliant right now; the invocation does no work.
var ErrPolicyUnsatisfiable = errors.New("placement policy could not find suitable nodes")

// InsufficientTargetsError reports that fewer target nodes were found than
// replicas needed to move. Commands were still sent for the fixes that had a
// target, so the error is returned alongside a possibly non-zero count.
type InsufficientTargetsError struct {
	ContainerID uint64
	Required    int
	Found       int
}

func (e *InsufficientTargetsError) Error() string {
	return fmt.Sprintf("insufficient target nodes for container %d: required %d, found %d",
		e.ContainerID, e.Required, e.Found)
}

// Partial reports whether some, but not all, fixes had a target
func (e *InsufficientTargetsError) Partial() bool {
	return e.Found > 0
}

// IsInsufficientTargets reports whether err carries an InsufficientTargetsError
func IsInsufficientTargets(err error) bool {
	var target *InsufficientTargetsError
	return errors.As(err, &target)
}
