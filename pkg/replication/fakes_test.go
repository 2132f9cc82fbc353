package replication

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/types"
)

var (
	maintenance = types.NewNodeStatus(types.NodeInMaintenance, types.NodeHealthy)
	inService   = types.InServiceHealthy()
)

type fakeNodes struct {
	mu    sync.Mutex
	nodes map[string]*types.Node
}

func newFakeNodes() *fakeNodes {
	return &fakeNodes{nodes: make(map[string]*types.Node)}
}

func (f *fakeNodes) add(id string, status types.NodeStatus) *types.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := &types.Node{ID: id, Rack: "rack-" + id, Capacity: 100 << 30, Status: status}
	f.nodes[id] = n
	return n
}

func (f *fakeNodes) NodeStatus(id string) (types.NodeStatus, error) {
	n, err := f.GetNode(id)
	if err != nil {
		return types.NodeStatus{}, err
	}
	return n.Status, nil
}

func (f *fakeNodes) GetNode(id string) (*types.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, types.ErrNodeNotFound)
	}
	return n, nil
}

type fakeStatus struct {
	satisfied bool
	misRep    int
}

func (s fakeStatus) IsPolicySatisfied() bool     { return s.satisfied }
func (s fakeStatus) MisReplicationCount() int    { return s.misRep }
func (s fakeStatus) ExpectedPlacementCount() int { return 0 }
func (s fakeStatus) ActualPlacementCount() int   { return 0 }

// fakePolicy hands out spare nodes as targets and asks for the first
// misRep copyable replicas to be moved
type fakePolicy struct {
	satisfied bool
	misRep    int
	pool      []*types.Node
	// limit caps the number of targets returned; 0 means no cap
	limit int
	// failAbove fails any request for more than this many nodes; 0 disables
	failAbove   int
	chooseErr   error
	ignoreFlags bool

	validateCalls int
	validated     []*types.Node
	chooseCalls   []int
	used          []*types.Node
	excluded      []*types.Node
	dataSize      uint64
}

func (p *fakePolicy) ValidateContainerPlacement(nodes []*types.Node, replicas int) PlacementStatus {
	p.validateCalls++
	p.validated = nodes
	return fakeStatus{satisfied: p.satisfied, misRep: p.misRep}
}

func (p *fakePolicy) ChooseDatanodes(used, excluded, favored []*types.Node, count int, metadataSize, dataSize uint64) ([]*types.Node, error) {
	p.chooseCalls = append(p.chooseCalls, count)
	p.used, p.excluded, p.dataSize = used, excluded, dataSize
	if p.chooseErr != nil {
		return nil, p.chooseErr
	}
	if p.failAbove > 0 && count > p.failAbove {
		return nil, errors.New("not enough racks")
	}
	n := min(count, len(p.pool))
	if p.limit > 0 {
		n = min(n, p.limit)
	}
	return p.pool[:n], nil
}

func (p *fakePolicy) ReplicasToCopyToFixMisreplication(replicas map[*types.Replica]bool) []*types.Replica {
	var candidates []*types.Replica
	for r, copyable := range replicas {
		if copyable || p.ignoreFlags {
			candidates = append(candidates, r)
		}
	}
	slices.SortFunc(candidates, func(a, b *types.Replica) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.NodeID, b.NodeID)
	})
	if len(candidates) > p.misRep {
		candidates = candidates[:p.misRep]
	}
	return candidates
}

type sentCommand struct {
	source string
	target string
	index  int
}

type fakeDispatcher struct {
	overloaded map[string]bool
	err        error
	attempts   []string
	sent       []sentCommand
}

func (d *fakeDispatcher) SendThrottledReplicationCommand(container *types.Container, source, target *types.Node, replicaIndex int) error {
	d.attempts = append(d.attempts, source.ID)
	if d.err != nil {
		return d.err
	}
	if d.overloaded[source.ID] {
		return fmt.Errorf("node %s: %w", source.ID, types.ErrCommandTargetOverloaded)
	}
	d.sent = append(d.sent, sentCommand{source: source.ID, target: target.ID, index: replicaIndex})
	return nil
}

type cluster struct {
	nodes      *fakeNodes
	policy     *fakePolicy
	dispatcher *fakeDispatcher
	metrics    *metrics.ReplicationMetrics
}

func newCluster() *cluster {
	c := &cluster{
		nodes:      newFakeNodes(),
		policy:     &fakePolicy{},
		dispatcher: &fakeDispatcher{overloaded: make(map[string]bool)},
		metrics:    metrics.NewReplicationMetrics(nil),
	}
	for i := 1; i <= 10; i++ {
		c.policy.pool = append(c.policy.pool, c.nodes.add(fmt.Sprintf("spare-%d", i), inService))
	}
	return c
}

func (c *cluster) ecHandler() *MisReplicationHandler {
	return NewECMisReplicationHandler(c.policy, c.nodes, c.dispatcher, c.metrics, Config{})
}

func (c *cluster) ratisHandler() *MisReplicationHandler {
	return NewRatisMisReplicationHandler(c.policy, c.nodes, c.dispatcher, c.metrics, Config{})
}

func (c *cluster) replica(nodeID string, index int, status types.NodeStatus) *types.Replica {
	c.nodes.add(nodeID, status)
	return &types.Replica{ContainerID: 1, NodeID: nodeID, Index: index, State: types.ReplicaClosed}
}

// ecReplicas creates one replica per status with indexes 1..len(statuses)
// on nodes dn-1..dn-n
func (c *cluster) ecReplicas(statuses ...types.NodeStatus) []*types.Replica {
	replicas := make([]*types.Replica, 0, len(statuses))
	for i, status := range statuses {
		replicas = append(replicas, c.replica(fmt.Sprintf("dn-%d", i+1), i+1, status))
	}
	return replicas
}

func (c *cluster) ratisReplicas(statuses ...types.NodeStatus) []*types.Replica {
	replicas := make([]*types.Replica, 0, len(statuses))
	for i, status := range statuses {
		replicas = append(replicas, c.replica(fmt.Sprintf("dn-%d", i+1), 0, status))
	}
	return replicas
}

func ecContainer() *types.Container {
	return &types.Container{
		ID:                1,
		ReplicationConfig: types.ECConfig(3, 2),
		State:             types.ContainerClosed,
		UsedBytes:         1 << 30,
	}
}

func ratisContainer() *types.Container {
	return &types.Container{
		ID:                1,
		ReplicationConfig: types.RatisConfig(3),
		State:             types.ContainerClosed,
		UsedBytes:         1 << 30,
	}
}

func nodeIDs(nodes []*types.Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func pendingAdd(nodeID string, index int) *types.PendingOp {
	return &types.PendingOp{Type: types.PendingAdd, ContainerID: 1, Target: nodeID, ReplicaIndex: index}
}

func pendingDelete(nodeID string, index int) *types.PendingOp {
	return &types.PendingOp{Type: types.PendingDelete, ContainerID: 1, Target: nodeID, ReplicaIndex: index}
}
