package replication

import (
	"github.com/cuemby/strata/pkg/types"
)

// PlacementStatus is the result of validating a set of nodes against the
// placement policy
type PlacementStatus interface {
	IsPolicySatisfied() bool
	// MisReplicationCount is the number of replicas that would have to move
	// for the placement to be satisfied
	MisReplicationCount() int
	ExpectedPlacementCount() int
	ActualPlacementCount() int
}

// PlacementPolicy validates replica placement and selects new target nodes
type PlacementPolicy interface {
	// ValidateContainerPlacement checks whether replicas on the given nodes
	// satisfy the policy for a container needing the given replica count
	ValidateContainerPlacement(nodes []*types.Node, replicas int) PlacementStatus

	// ChooseDatanodes returns exactly count nodes that can host new replicas,
	// or an error. Used nodes already hold replicas of the container and
	// shape topology decisions; excluded nodes must not be returned.
	ChooseDatanodes(used, excluded, favored []*types.Node, count int, metadataSize, dataSize uint64) ([]*types.Node, error)

	// ReplicasToCopyToFixMisreplication selects which replicas must be
	// copied elsewhere. The map value reports whether the replica may be
	// used as a copy source; only those may be returned.
	ReplicasToCopyToFixMisreplication(replicas map[*types.Replica]bool) []*types.Replica
}

// NodeStatusProvider answers node lookups. Both methods return an error
// wrapping types.ErrNodeNotFound for unknown nodes.
type NodeStatusProvider interface {
	NodeStatus(id string) (types.NodeStatus, error)
	GetNode(id string) (*types.Node, error)
}

// CommandDispatcher delivers throttled replication commands. It returns an
// error wrapping types.ErrCommandTargetOverloaded when the source node has
// too much outstanding replication work.
type CommandDispatcher interface {
	SendThrottledReplicationCommand(container *types.Container, source, target *types.Node, replicaIndex int) error
}

// Metrics receives fire-and-forget counters from the handlers
type Metrics interface {
	IncrPartialReplicationForMisReplicationTotal()
	IncrEcPartialReplicationForMisReplicationTotal()
}
