package placement

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/replication"
	"github.com/cuemby/strata/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// ErrNotEnoughNodes is returned when fewer nodes qualify than requested
var ErrNotEnoughNodes = errors.New("not enough nodes")

// NodeLister provides the current set of cluster nodes
type NodeLister interface {
	ListNodes() []*types.Node
}

// Status is the result of a placement validation
type Status struct {
	Expected       int
	Actual         int
	MisReplication int
}

func (s Status) IsPolicySatisfied() bool     { return s.MisReplication == 0 }
func (s Status) MisReplicationCount() int    { return s.MisReplication }
func (s Status) ExpectedPlacementCount() int { return s.Expected }
func (s Status) ActualPlacementCount() int   { return s.Actual }

// RackScatter spreads the replicas of a container over as many racks as
// possible, up to one rack per replica
type RackScatter struct {
	nodes  NodeLister
	logger zerolog.Logger
}

// NewRackScatter creates a rack scatter policy over the given nodes
func NewRackScatter(nodes NodeLister) *RackScatter {
	return &RackScatter{
		nodes:  nodes,
		logger: log.WithComponent("placement"),
	}
}

var _ replication.PlacementPolicy = (*RackScatter)(nil)

// writable reports whether a node may receive new replicas
func writable(n *types.Node) bool {
	return n.Status.IsInService() && n.Status.Health == types.NodeHealthy
}

// knownRacks returns the racks of all writable nodes plus the racks of
// the given nodes
func (p *RackScatter) knownRacks(extra []*types.Node) map[string]bool {
	racks := make(map[string]bool)
	for _, n := range p.nodes.ListNodes() {
		if writable(n) {
			racks[n.NetworkLocation()] = true
		}
	}
	for _, n := range extra {
		racks[n.NetworkLocation()] = true
	}
	return racks
}

// limits returns the number of racks a container with replicas copies
// should span and the most replicas any one rack may hold
func limits(replicas, racks int) (expected, maxPerRack int) {
	expected = min(replicas, racks)
	if expected == 0 {
		return 0, replicas
	}
	maxPerRack = (replicas + expected - 1) / expected
	return expected, maxPerRack
}

// ValidateContainerPlacement implements replication.PlacementPolicy
func (p *RackScatter) ValidateContainerPlacement(nodes []*types.Node, replicas int) replication.PlacementStatus {
	expected, maxPerRack := limits(replicas, len(p.knownRacks(nodes)))

	perRack := make(map[string]int)
	for _, n := range nodes {
		perRack[n.NetworkLocation()]++
	}

	excess := 0
	for _, count := range perRack {
		if count > maxPerRack {
			excess += count - maxPerRack
		}
	}

	actual := len(perRack)
	return Status{
		Expected:       expected,
		Actual:         actual,
		MisReplication: max(expected-actual, excess, 0),
	}
}

// ChooseDatanodes implements replication.PlacementPolicy. Nodes are picked
// one at a time from the rack holding the fewest replicas so far.
func (p *RackScatter) ChooseDatanodes(used, excluded, favored []*types.Node, count int, metadataSize, dataSize uint64) ([]*types.Node, error) {
	if count <= 0 {
		return nil, nil
	}

	skip := make(map[string]bool, len(used)+len(excluded))
	rackLoad := make(map[string]int)
	for _, n := range used {
		skip[n.ID] = true
		rackLoad[n.NetworkLocation()]++
	}
	for _, n := range excluded {
		skip[n.ID] = true
	}
	preferred := make(map[string]bool, len(favored))
	for _, n := range favored {
		preferred[n.ID] = true
	}

	required := dataSize + metadataSize
	var candidates []*types.Node
	for _, n := range p.nodes.ListNodes() {
		if skip[n.ID] || !writable(n) || n.Free() < required {
			continue
		}
		candidates = append(candidates, n)
	}

	chosen := make([]*types.Node, 0, count)
	for len(chosen) < count && len(candidates) > 0 {
		best := 0
		for i := 1; i < len(candidates); i++ {
			if p.better(candidates[i], candidates[best], rackLoad, preferred) {
				best = i
			}
		}
		node := candidates[best]
		chosen = append(chosen, node)
		rackLoad[node.NetworkLocation()]++
		candidates = slices.Delete(candidates, best, best+1)
	}

	if len(chosen) < count {
		p.logger.Debug().
			Int("requested", count).
			Int("found", len(chosen)).
			Str("required_space", humanize.IBytes(required)).
			Msg("Not enough nodes for placement")
		return nil, fmt.Errorf("%w: requested %d with %s free, found %d",
			ErrNotEnoughNodes, count, humanize.IBytes(required), len(chosen))
	}
	return chosen, nil
}

// better orders candidates by favored, least loaded rack, most free space
// and finally node ID
func (p *RackScatter) better(a, b *types.Node, rackLoad map[string]int, preferred map[string]bool) bool {
	if preferred[a.ID] != preferred[b.ID] {
		return preferred[a.ID]
	}
	if la, lb := rackLoad[a.NetworkLocation()], rackLoad[b.NetworkLocation()]; la != lb {
		return la < lb
	}
	if fa, fb := a.Free(), b.Free(); fa != fb {
		return fa > fb
	}
	return a.ID < b.ID
}

// ReplicasToCopyToFixMisreplication implements replication.PlacementPolicy.
// It picks copyable replicas from racks above the per-rack limit, then from
// the fullest racks until enough racks would be in use.
func (p *RackScatter) ReplicasToCopyToFixMisreplication(replicas map[*types.Replica]bool) []*types.Replica {
	byID := make(map[string]*types.Node)
	for _, n := range p.nodes.ListNodes() {
		byID[n.ID] = n
	}
	rackOf := func(r *types.Replica) string {
		if n, ok := byID[r.NodeID]; ok {
			return n.NetworkLocation()
		}
		return (&types.Node{ID: r.NodeID}).NetworkLocation()
	}

	perRack := make(map[string][]*types.Replica)
	var placed []*types.Node
	for r := range replicas {
		rack := rackOf(r)
		perRack[rack] = append(perRack[rack], r)
		if n, ok := byID[r.NodeID]; ok {
			placed = append(placed, n)
		}
	}

	expected, maxPerRack := limits(len(replicas), len(p.knownRacks(placed)))

	racks := make([]string, 0, len(perRack))
	for rack, list := range perRack {
		racks = append(racks, rack)
		// Copyable replicas first, then by index and node
		slices.SortFunc(list, func(a, b *types.Replica) int {
			if replicas[a] != replicas[b] {
				if replicas[a] {
					return -1
				}
				return 1
			}
			if c := cmp.Compare(a.Index, b.Index); c != 0 {
				return c
			}
			return cmp.Compare(a.NodeID, b.NodeID)
		})
	}
	slices.SortFunc(racks, func(a, b string) int {
		if c := cmp.Compare(len(perRack[b]), len(perRack[a])); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	var picked []*types.Replica
	remaining := make(map[string][]*types.Replica, len(perRack))
	for _, rack := range racks {
		list := perRack[rack]
		keep := list
		if len(list) > maxPerRack {
			for _, r := range list[:len(list)-maxPerRack] {
				if replicas[r] {
					picked = append(picked, r)
				}
			}
			keep = list[len(list)-maxPerRack:]
		}
		remaining[rack] = keep
	}

	// Each moved replica may open a new rack. Any spread still missing is
	// taken one replica at a time from the fullest racks.
	missing := expected - len(perRack) - len(picked)
	for _, rack := range racks {
		if missing <= 0 {
			break
		}
		list := remaining[rack]
		if len(list) < 2 || !replicas[list[0]] {
			continue
		}
		picked = append(picked, list[0])
		missing--
	}

	return picked
}
