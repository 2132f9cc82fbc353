package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/types"
	"github.com/hashicorp/raft"
)

// Raft command operations
const (
	OpCreateNode      = "create_node"
	OpUpdateNode      = "update_node"
	OpDeleteNode      = "delete_node"
	OpCreateContainer = "create_container"
	OpUpdateContainer = "update_container"
	OpDeleteContainer = "delete_container"
	OpAddReplica      = "add_replica"
	OpRemoveReplica   = "remove_replica"
)

// StrataFSM implements the Raft Finite State Machine for cluster metadata.
// It applies log entries to the store and handles snapshots.
type StrataFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewStrataFSM creates a new FSM instance
func NewStrataFSM(store storage.Store) *StrataFSM {
	return &StrataFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// ReplicaRef identifies a replica to remove
type ReplicaRef struct {
	ContainerID uint64 `json:"container_id"`
	NodeID      string `json:"node_id"`
	Index       int    `json:"index"`
}

// NewCommand encodes v as the payload of an op
func NewCommand(op string, v interface{}) (Command, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Command{}, fmt.Errorf("failed to marshal %s: %w", op, err)
	}
	return Command{Op: op, Data: data}, nil
}

// Apply applies a Raft log entry to the FSM
// This is called by Raft when a log entry is committed
func (f *StrataFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	// Node operations
	case OpCreateNode, OpUpdateNode:
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.UpdateNode(&node)

	case OpDeleteNode:
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return err
		}
		return f.store.DeleteNode(nodeID)

	// Container operations
	case OpCreateContainer:
		var container types.Container
		if err := json.Unmarshal(cmd.Data, &container); err != nil {
			return err
		}
		if _, err := f.store.GetContainer(container.ID); err == nil {
			return fmt.Errorf("container %d: %w", container.ID, types.ErrContainerExists)
		}
		return f.store.CreateContainer(&container)

	case OpUpdateContainer:
		var container types.Container
		if err := json.Unmarshal(cmd.Data, &container); err != nil {
			return err
		}
		if _, err := f.store.GetContainer(container.ID); err != nil {
			return err
		}
		return f.store.UpdateContainer(&container)

	case OpDeleteContainer:
		var containerID uint64
		if err := json.Unmarshal(cmd.Data, &containerID); err != nil {
			return err
		}
		return f.store.DeleteContainer(containerID)

	// Replica operations
	case OpAddReplica:
		var replica types.Replica
		if err := json.Unmarshal(cmd.Data, &replica); err != nil {
			return err
		}
		if _, err := f.store.GetContainer(replica.ContainerID); err != nil {
			return err
		}
		return f.store.PutReplica(&replica)

	case OpRemoveReplica:
		var ref ReplicaRef
		if err := json.Unmarshal(cmd.Data, &ref); err != nil {
			return err
		}
		return f.store.DeleteReplica(ref.ContainerID, ref.NodeID, ref.Index)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
// This is called periodically by Raft to compact the log
func (f *StrataFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	containers, err := f.store.ListContainers()
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var replicas []*types.Replica
	for _, c := range containers {
		rs, err := f.store.ListReplicas(c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list replicas of container %d: %w", c.ID, err)
		}
		replicas = append(replicas, rs...)
	}

	return &StrataSnapshot{
		Nodes:      nodes,
		Containers: containers,
		Replicas:   replicas,
	}, nil
}

// Restore restores the FSM from a snapshot
// This is called when a node restarts or joins the cluster
func (f *StrataFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot StrataSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, node := range snapshot.Nodes {
		if err := f.store.CreateNode(node); err != nil {
			return fmt.Errorf("failed to restore node: %w", err)
		}
	}

	for _, container := range snapshot.Containers {
		if err := f.store.CreateContainer(container); err != nil {
			return fmt.Errorf("failed to restore container: %w", err)
		}
	}

	for _, replica := range snapshot.Replicas {
		if err := f.store.PutReplica(replica); err != nil {
			return fmt.Errorf("failed to restore replica: %w", err)
		}
	}

	return nil
}

// StrataSnapshot represents a point-in-time snapshot of cluster metadata
type StrataSnapshot struct {
	Nodes      []*types.Node
	Containers []*types.Container
	Replicas   []*types.Replica
}

// Persist writes the snapshot to the given SnapshotSink
func (s *StrataSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *StrataSnapshot) Release() {}
