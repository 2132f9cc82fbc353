package replication

import (
	"github.com/cuemby/strata/pkg/types"
)

// containerHealth is the sufficiency of an effective replica set
type containerHealth int

const (
	sufficientlyReplicated containerHealth = iota
	underReplicated
	overReplicated
)

func (h containerHealth) String() string {
	switch h {
	case underReplicated:
		return "under-replicated"
	case overReplicated:
		return "over-replicated"
	default:
		return "sufficiently-replicated"
	}
}

// scheme captures what differs between ratis and erasure coded containers.
// Everything else in the handler is shared.
type scheme interface {
	name() string
	requiredNodes(c *types.Container) int
	// replicaIndex is the index a replacement of r must carry
	replicaIndex(r *types.Replica) int
	isEligibleSource(v *replicaView) bool
	// sourcesFor orders the nodes that may serve a copy of moving
	sourcesFor(moving *replicaView, sources []*replicaView) []*replicaView
	health(available []*replicaView, required int) containerHealth
	recordPartial(m Metrics)
}

// eligibleSource is the source rule shared by both schemes
func eligibleSource(v *replicaView) bool {
	if v.pendingAdd || !v.available() {
		return false
	}
	if !v.status.IsInService() || !v.status.IsHealthy() {
		return false
	}
	return v.replica.State == types.ReplicaClosed || v.replica.State == types.ReplicaQuasiClosed
}

type ratisScheme struct{}

func (ratisScheme) name() string { return "ratis" }

func (ratisScheme) requiredNodes(c *types.Container) int {
	return c.ReplicationConfig.RequiredNodes()
}

func (ratisScheme) replicaIndex(*types.Replica) int { return 0 }

func (ratisScheme) isEligibleSource(v *replicaView) bool { return eligibleSource(v) }

// Ratis replicas are identical once closed, so any eligible replica can
// serve the copy. The replica being moved is tried first.
func (ratisScheme) sourcesFor(moving *replicaView, sources []*replicaView) []*replicaView {
	ordered := []*replicaView{moving}
	for _, v := range sources {
		if v != moving {
			ordered = append(ordered, v)
		}
	}
	return ordered
}

func (ratisScheme) health(available []*replicaView, required int) containerHealth {
	switch n := len(available); {
	case n < required:
		return underReplicated
	case n > required:
		return overReplicated
	default:
		return sufficientlyReplicated
	}
}

func (ratisScheme) recordPartial(m Metrics) {
	m.IncrPartialReplicationForMisReplicationTotal()
}

type ecScheme struct{}

func (ecScheme) name() string { return "ec" }

func (ecScheme) requiredNodes(c *types.Container) int {
	return c.ReplicationConfig.RequiredNodes()
}

func (ecScheme) replicaIndex(r *types.Replica) int { return r.Index }

func (ecScheme) isEligibleSource(v *replicaView) bool {
	return eligibleSource(v) && v.replica.Index > 0
}

// An EC shard can only be copied from a node holding the same index
func (ecScheme) sourcesFor(moving *replicaView, sources []*replicaView) []*replicaView {
	ordered := []*replicaView{moving}
	for _, v := range sources {
		if v != moving && v.replica.Index == moving.replica.Index {
			ordered = append(ordered, v)
		}
	}
	return ordered
}

// health is evaluated per index: every index 1..required needs exactly one
// available copy.
func (ecScheme) health(available []*replicaView, required int) containerHealth {
	counts := make(map[int]int, required)
	for _, v := range available {
		counts[v.replica.Index]++
	}
	over := false
	for index := 1; index <= required; index++ {
		switch {
		case counts[index] == 0:
			return underReplicated
		case counts[index] > 1:
			over = true
		}
	}
	if over {
		return overReplicated
	}
	return sufficientlyReplicated
}

func (ecScheme) recordPartial(m Metrics) {
	m.IncrEcPartialReplicationForMisReplicationTotal()
}
