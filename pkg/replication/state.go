package replication

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/cuemby/strata/pkg/types"
)

// replicaView is a replica resolved against node state and pending ops
type replicaView struct {
	replica       *types.Replica
	node          *types.Node
	status        types.NodeStatus
	pendingDelete bool
	// pendingAdd marks a replica that does not exist yet but has an
	// in-flight ADD scheduled for it
	pendingAdd bool
}

func (v *replicaView) available() bool {
	if v.pendingAdd {
		return true
	}
	if v.pendingDelete || v.replica.State == types.ReplicaUnhealthy {
		return false
	}
	return !v.status.IsDead() && !v.status.IsDecommission()
}

// effectiveState is the replica set of one container after applying the
// pending-operation ledger. It is rebuilt on every invocation.
type effectiveState struct {
	views         []*replicaView
	deleteTargets []*types.Node
}

// availableViews returns real and pending-add replicas that count toward
// sufficiency and placement
func (s *effectiveState) availableViews() []*replicaView {
	var out []*replicaView
	for _, v := range s.views {
		if v.available() {
			out = append(out, v)
		}
	}
	return out
}

func (s *effectiveState) placementNodes() []*types.Node {
	available := s.availableViews()
	nodes := make([]*types.Node, 0, len(available))
	for _, v := range available {
		nodes = append(nodes, v.node)
	}
	return nodes
}

// copyable maps every available real replica to whether it may be a source
func (s *effectiveState) copyable(sc scheme) (map[*types.Replica]bool, map[*types.Replica]*replicaView) {
	flags := make(map[*types.Replica]bool)
	byReplica := make(map[*types.Replica]*replicaView)
	for _, v := range s.views {
		if v.pendingAdd || !v.available() {
			continue
		}
		flags[v.replica] = sc.isEligibleSource(v)
		byReplica[v.replica] = v
	}
	return flags, byReplica
}

func (s *effectiveState) sources(sc scheme) []*replicaView {
	var out []*replicaView
	for _, v := range s.views {
		if sc.isEligibleSource(v) {
			out = append(out, v)
		}
	}
	return out
}

// usedAndExcluded splits the nodes touching this container into the ones
// that keep a replica (used) and the ones a new replica must avoid
// (excluded). A node may be in both, for instance an EC node that keeps one
// index while another index on it moves or is being deleted. It still adds
// to its rack's load.
func (s *effectiveState) usedAndExcluded(moving []*replicaView) (used, excluded []*types.Node) {
	isMoving := make(map[*replicaView]bool, len(moving))
	for _, v := range moving {
		isMoving[v] = true
	}

	seenExcluded := make(map[string]bool)
	exclude := func(n *types.Node) {
		if !seenExcluded[n.ID] {
			seenExcluded[n.ID] = true
			excluded = append(excluded, n)
		}
	}
	for _, v := range s.views {
		if isMoving[v] || !v.available() {
			exclude(v.node)
		}
	}
	for _, n := range s.deleteTargets {
		exclude(n)
	}

	seenUsed := make(map[string]bool)
	for _, v := range s.views {
		if !isMoving[v] && v.available() && !seenUsed[v.node.ID] {
			seenUsed[v.node.ID] = true
			used = append(used, v.node)
		}
	}
	return used, excluded
}

func opKey(nodeID string, index int) string {
	return fmt.Sprintf("%s/%d", nodeID, index)
}

// buildState resolves replicas and pending ops into an effectiveState.
// An unknown replica node fails the build; unknown pending-op targets are
// skipped since the ledger expires them on its own.
func buildState(nodes NodeStatusProvider, replicas []*types.Replica, pendingOps []*types.PendingOp) (*effectiveState, error) {
	deletes := make(map[string]bool)
	var adds []*types.PendingOp
	for _, op := range pendingOps {
		if op == nil {
			continue
		}
		switch op.Type {
		case types.PendingDelete:
			deletes[opKey(op.Target, op.ReplicaIndex)] = true
		case types.PendingAdd:
			adds = append(adds, op)
		}
	}

	sorted := slices.Clone(replicas)
	slices.SortStableFunc(sorted, func(a, b *types.Replica) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.NodeID, b.NodeID)
	})

	state := &effectiveState{}
	present := make(map[string]bool)
	for _, r := range sorted {
		if r == nil {
			continue
		}
		key := opKey(r.NodeID, r.Index)
		if present[key] {
			continue
		}
		present[key] = true

		status, err := nodes.NodeStatus(r.NodeID)
		if err != nil {
			return nil, fmt.Errorf("failed to get status of node %s: %w", r.NodeID, err)
		}
		node, err := nodes.GetNode(r.NodeID)
		if err != nil {
			return nil, fmt.Errorf("failed to get node %s: %w", r.NodeID, err)
		}
		state.views = append(state.views, &replicaView{
			replica:       r,
			node:          node,
			status:        status,
			pendingDelete: deletes[key],
		})
	}

	for _, op := range adds {
		key := opKey(op.Target, op.ReplicaIndex)
		if present[key] {
			continue
		}
		node, err := nodes.GetNode(op.Target)
		if errors.Is(err, types.ErrNodeNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get node %s: %w", op.Target, err)
		}
		present[key] = true
		state.views = append(state.views, &replicaView{
			replica: &types.Replica{
				ContainerID: op.ContainerID,
				NodeID:      op.Target,
				Index:       op.ReplicaIndex,
				State:       types.ReplicaClosed,
			},
			node:       node,
			status:     node.Status,
			pendingAdd: true,
		})
	}

	// Delete targets with a known replica are already unavailable above.
	// The rest still must not receive a new copy.
	for _, op := range pendingOps {
		if op == nil || op.Type != types.PendingDelete || present[opKey(op.Target, op.ReplicaIndex)] {
			continue
		}
		node, err := nodes.GetNode(op.Target)
		if errors.Is(err, types.ErrNodeNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get node %s: %w", op.Target, err)
		}
		state.deleteTargets = append(state.deleteTargets, node)
	}

	return state, nil
}
