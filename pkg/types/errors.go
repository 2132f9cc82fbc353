package types

import "errors"

// Errors shared between the cluster collaborators and the replication core.
// Callers match them with errors.Is; producers wrap them with context.
var (
	// ErrNodeNotFound is returned when a node has been removed from the
	// cluster between replica enumeration and its use.
	ErrNodeNotFound = errors.New("node not found")

	// ErrContainerNotFound is returned by metadata lookups
	ErrContainerNotFound = errors.New("container not found")

	// ErrContainerExists is returned when a container ID is already taken
	ErrContainerExists = errors.New("container already exists")

	// ErrCommandTargetOverloaded is returned by the command dispatcher when
	// the source node already has too much outstanding replication work.
	ErrCommandTargetOverloaded = errors.New("command target overloaded")

	// ErrNotLeader is returned when a command is sent from a manager that
	// does not currently lead the cluster.
	ErrNotLeader = errors.New("not the leader")
)
