package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cuemby/strata/pkg/types"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Scenario is a snapshot of a cluster used by the plan command
type Scenario struct {
	Nodes      []ScenarioNode      `yaml:"nodes"`
	Containers []ScenarioContainer `yaml:"containers"`
	Pending    []ScenarioPendingOp `yaml:"pending"`
}

type ScenarioNode struct {
	ID         string `yaml:"id"`
	DataCenter string `yaml:"dc"`
	Rack       string `yaml:"rack"`
	State      string `yaml:"state"`    // default: in_service
	Health     string `yaml:"health"`   // default: healthy
	Capacity   string `yaml:"capacity"` // e.g. "10TB" (default: 1TB)
	Used       string `yaml:"used"`
}

type ScenarioContainer struct {
	ID          uint64            `yaml:"id"`
	Replication string            `yaml:"replication"` // "ratis-3", "rs-3-2-1024k"
	State       string            `yaml:"state"`       // default: closed
	Used        string            `yaml:"used"`
	Replicas    []ScenarioReplica `yaml:"replicas"`
}

type ScenarioReplica struct {
	Node  string `yaml:"node"`
	Index int    `yaml:"index"`
	State string `yaml:"state"` // default: closed
}

type ScenarioPendingOp struct {
	Type      string `yaml:"type"` // add or delete
	Container uint64 `yaml:"container"`
	Target    string `yaml:"target"`
	Index     int    `yaml:"index"`
}

// LoadScenario reads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	sc := &Scenario{}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("parse scenario file: %w", err)
	}
	return sc, nil
}

func parseSize(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	return humanize.ParseBytes(s)
}

// cluster is the scenario converted to domain types
type cluster struct {
	nodes      []*types.Node
	containers []*types.Container
	replicas   map[uint64][]*types.Replica
	pending    []*types.PendingOp
}

func (sc *Scenario) build(now time.Time) (*cluster, error) {
	c := &cluster{replicas: make(map[uint64][]*types.Replica)}

	known := make(map[string]bool, len(sc.Nodes))
	for _, n := range sc.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node without id")
		}
		if known[n.ID] {
			return nil, fmt.Errorf("duplicate node %s", n.ID)
		}
		known[n.ID] = true

		capacity, err := parseSize(n.Capacity, 1<<40)
		if err != nil {
			return nil, fmt.Errorf("node %s: invalid capacity: %w", n.ID, err)
		}
		used, err := parseSize(n.Used, 0)
		if err != nil {
			return nil, fmt.Errorf("node %s: invalid used: %w", n.ID, err)
		}

		status := types.InServiceHealthy()
		if n.State != "" {
			status.OperationalState = types.NodeOperationalState(n.State)
		}
		if n.Health != "" {
			status.Health = types.NodeHealth(n.Health)
		}

		c.nodes = append(c.nodes, &types.Node{
			ID:            n.ID,
			DataCenter:    n.DataCenter,
			Rack:          n.Rack,
			Capacity:      capacity,
			Used:          used,
			Status:        status,
			LastHeartbeat: now,
			CreatedAt:     now,
		})
	}

	for _, ct := range sc.Containers {
		cfg, err := types.ParseReplicationConfig(ct.Replication)
		if err != nil {
			return nil, fmt.Errorf("container %d: %w", ct.ID, err)
		}
		used, err := parseSize(ct.Used, 0)
		if err != nil {
			return nil, fmt.Errorf("container %d: invalid used: %w", ct.ID, err)
		}
		state := types.ContainerClosed
		if ct.State != "" {
			state = types.ContainerState(ct.State)
		}

		c.containers = append(c.containers, &types.Container{
			ID:                ct.ID,
			ReplicationConfig: cfg,
			State:             state,
			UsedBytes:         used,
			CreatedAt:         now,
			UpdatedAt:         now,
		})

		for _, r := range ct.Replicas {
			if !known[r.Node] {
				return nil, fmt.Errorf("container %d: replica on unknown node %s", ct.ID, r.Node)
			}
			replicaState := types.ReplicaClosed
			if r.State != "" {
				replicaState = types.ReplicaState(r.State)
			}
			c.replicas[ct.ID] = append(c.replicas[ct.ID], &types.Replica{
				ContainerID: ct.ID,
				NodeID:      r.Node,
				Index:       r.Index,
				State:       replicaState,
				BytesUsed:   used,
			})
		}
	}
	sort.Slice(c.containers, func(i, j int) bool { return c.containers[i].ID < c.containers[j].ID })

	for _, op := range sc.Pending {
		opType := types.PendingOpType(op.Type)
		if opType != types.PendingAdd && opType != types.PendingDelete {
			return nil, fmt.Errorf("pending op for container %d: unknown type %q", op.Container, op.Type)
		}
		c.pending = append(c.pending, &types.PendingOp{
			Type:         opType,
			ContainerID:  op.Container,
			Target:       op.Target,
			ReplicaIndex: op.Index,
		})
	}
	return c, nil
}

// ListContainers and ListReplicas let the reconciler read the scenario
func (c *cluster) ListContainers() ([]*types.Container, error) {
	return c.containers, nil
}

func (c *cluster) ListReplicas(containerID uint64) ([]*types.Replica, error) {
	return c.replicas[containerID], nil
}
