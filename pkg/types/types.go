package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Node represents a datanode in the storage cluster
type Node struct {
	ID            string
	Address       string // Host:port the node serves replication traffic on
	Hostname      string
	DataCenter    string
	Rack          string
	Labels        map[string]string
	Capacity      uint64 // Bytes
	Used          uint64 // Bytes
	Status        NodeStatus
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// NetworkLocation returns the rack key used for topology decisions.
// Racks are only unique within a data center.
func (n *Node) NetworkLocation() string {
	dc := n.DataCenter
	if dc == "" {
		dc = DefaultDataCenter
	}
	rack := n.Rack
	if rack == "" {
		rack = DefaultRack
	}
	return dc + "/" + rack
}

// Free returns the unused capacity of the node
func (n *Node) Free() uint64 {
	if n.Used >= n.Capacity {
		return 0
	}
	return n.Capacity - n.Used
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.ID, n.NetworkLocation())
}

const (
	DefaultDataCenter = "default-dc"
	DefaultRack       = "default-rack"
)

// NodeOperationalState is the administrative state of a node
type NodeOperationalState string

const (
	NodeInService           NodeOperationalState = "in_service"
	NodeEnteringMaintenance NodeOperationalState = "entering_maintenance"
	NodeInMaintenance       NodeOperationalState = "in_maintenance"
	NodeDecommissioning     NodeOperationalState = "decommissioning"
	NodeDecommissioned      NodeOperationalState = "decommissioned"
)

// NodeHealth is the liveness of a node as derived from heartbeats
type NodeHealth string

const (
	NodeHealthy         NodeHealth = "healthy"
	NodeHealthyReadOnly NodeHealth = "healthy_readonly"
	NodeStale           NodeHealth = "stale"
	NodeDead            NodeHealth = "dead"
)

// NodeStatus pairs the operational state of a node with its health
type NodeStatus struct {
	OperationalState NodeOperationalState
	Health           NodeHealth
}

// NewNodeStatus returns a status with the given state and health
func NewNodeStatus(state NodeOperationalState, health NodeHealth) NodeStatus {
	return NodeStatus{OperationalState: state, Health: health}
}

// InServiceHealthy is the status of a fully usable node
func InServiceHealthy() NodeStatus {
	return NodeStatus{OperationalState: NodeInService, Health: NodeHealthy}
}

func (s NodeStatus) IsInService() bool {
	return s.OperationalState == NodeInService
}

func (s NodeStatus) IsMaintenance() bool {
	return s.OperationalState == NodeEnteringMaintenance || s.OperationalState == NodeInMaintenance
}

func (s NodeStatus) IsDecommission() bool {
	return s.OperationalState == NodeDecommissioning || s.OperationalState == NodeDecommissioned
}

// IsHealthy reports whether the node heartbeats normally. Read-only nodes
// still serve reads and therefore count as healthy copy sources.
func (s NodeStatus) IsHealthy() bool {
	return s.Health == NodeHealthy || s.Health == NodeHealthyReadOnly
}

func (s NodeStatus) IsDead() bool {
	return s.Health == NodeDead
}

func (s NodeStatus) String() string {
	return string(s.OperationalState) + "/" + string(s.Health)
}

// ReplicationType defines how a container's data is made redundant
type ReplicationType string

const (
	ReplicationRatis ReplicationType = "ratis" // N full copies
	ReplicationEC    ReplicationType = "ec"    // Data + parity shards
)

// ReplicationConfig describes the redundancy scheme of a container
type ReplicationConfig struct {
	Type      ReplicationType
	Factor    int    // Copies, for ratis
	Data      int    // Data shards, for EC
	Parity    int    // Parity shards, for EC
	Codec     string // EC codec, e.g. "rs"
	ChunkSize int    // EC chunk size in bytes
}

// RatisConfig returns a replicated config with the given number of copies
func RatisConfig(factor int) ReplicationConfig {
	return ReplicationConfig{Type: ReplicationRatis, Factor: factor}
}

// ECConfig returns an erasure coded config using the default codec
func ECConfig(data, parity int) ReplicationConfig {
	return ReplicationConfig{
		Type:      ReplicationEC,
		Data:      data,
		Parity:    parity,
		Codec:     DefaultECCodec,
		ChunkSize: DefaultECChunkSize,
	}
}

const (
	DefaultECCodec     = "rs"
	DefaultECChunkSize = 1024 * 1024
)

// RequiredNodes returns the number of replicas a healthy container has
func (c ReplicationConfig) RequiredNodes() int {
	if c.Type == ReplicationEC {
		return c.Data + c.Parity
	}
	return c.Factor
}

// IsEC reports whether the config is erasure coded
func (c ReplicationConfig) IsEC() bool {
	return c.Type == ReplicationEC
}

// Validate checks the config is internally consistent
func (c ReplicationConfig) Validate() error {
	switch c.Type {
	case ReplicationRatis:
		if c.Factor <= 0 {
			return fmt.Errorf("replication factor must be positive, got %d", c.Factor)
		}
	case ReplicationEC:
		if c.Data <= 0 || c.Parity <= 0 {
			return fmt.Errorf("ec data and parity must be positive, got %d-%d", c.Data, c.Parity)
		}
	default:
		return fmt.Errorf("unknown replication type: %q", c.Type)
	}
	return nil
}

// String renders the config as "ratis-3" or "rs-3-2-1024k"
func (c ReplicationConfig) String() string {
	if c.Type == ReplicationEC {
		codec := c.Codec
		if codec == "" {
			codec = DefaultECCodec
		}
		chunk := c.ChunkSize
		if chunk == 0 {
			chunk = DefaultECChunkSize
		}
		return fmt.Sprintf("%s-%d-%d-%dk", codec, c.Data, c.Parity, chunk/1024)
	}
	return fmt.Sprintf("ratis-%d", c.Factor)
}

// ParseReplicationConfig parses the output of ReplicationConfig.String
func ParseReplicationConfig(s string) (ReplicationConfig, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "-")
	if len(parts) == 2 && parts[0] == "ratis" {
		factor, err := strconv.Atoi(parts[1])
		if err != nil {
			return ReplicationConfig{}, fmt.Errorf("invalid replication factor in %q: %w", s, err)
		}
		cfg := RatisConfig(factor)
		return cfg, cfg.Validate()
	}
	if len(parts) != 3 && len(parts) != 4 {
		return ReplicationConfig{}, fmt.Errorf("invalid replication config: %q", s)
	}

	data, err := strconv.Atoi(parts[1])
	if err != nil {
		return ReplicationConfig{}, fmt.Errorf("invalid data count in %q: %w", s, err)
	}
	parity, err := strconv.Atoi(parts[2])
	if err != nil {
		return ReplicationConfig{}, fmt.Errorf("invalid parity count in %q: %w", s, err)
	}

	cfg := ECConfig(data, parity)
	cfg.Codec = parts[0]
	if len(parts) == 4 {
		chunk, err := strconv.Atoi(strings.TrimSuffix(parts[3], "k"))
		if err != nil {
			return ReplicationConfig{}, fmt.Errorf("invalid chunk size in %q: %w", s, err)
		}
		cfg.ChunkSize = chunk * 1024
	}
	return cfg, cfg.Validate()
}

// Container is the unit of replicated storage
type Container struct {
	ID                uint64
	ReplicationConfig ReplicationConfig
	State             ContainerState
	UsedBytes         uint64
	KeyCount          uint64
	Owner             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (c *Container) String() string {
	return fmt.Sprintf("container#%d[%s]", c.ID, c.ReplicationConfig)
}

// ContainerState is the lifecycle state of a container
type ContainerState string

const (
	ContainerOpen        ContainerState = "open"
	ContainerClosing     ContainerState = "closing"
	ContainerQuasiClosed ContainerState = "quasi_closed"
	ContainerClosed      ContainerState = "closed"
	ContainerDeleting    ContainerState = "deleting"
	ContainerDeleted     ContainerState = "deleted"
)

// Replica is one physical copy (or EC shard) of a container on a node
type Replica struct {
	ContainerID uint64
	NodeID      string
	Index       int // 1..N for EC shards, 0 for ratis copies
	State       ReplicaState
	Sequence    uint64
	BytesUsed   uint64
}

func (r *Replica) String() string {
	return fmt.Sprintf("replica{container=%d node=%s index=%d state=%s}",
		r.ContainerID, r.NodeID, r.Index, r.State)
}

// Key uniquely identifies a replica within the cluster
func (r *Replica) Key() string {
	return fmt.Sprintf("%d/%s/%d", r.ContainerID, r.NodeID, r.Index)
}

// ReplicaState is the state a datanode reports for a replica
type ReplicaState string

const (
	ReplicaOpen        ReplicaState = "open"
	ReplicaClosing     ReplicaState = "closing"
	ReplicaQuasiClosed ReplicaState = "quasi_closed"
	ReplicaClosed      ReplicaState = "closed"
	ReplicaUnhealthy   ReplicaState = "unhealthy"
)

// PendingOpType is the kind of in-flight replica mutation
type PendingOpType string

const (
	PendingAdd    PendingOpType = "add"
	PendingDelete PendingOpType = "delete"
)

// PendingOp is a scheduled but not yet completed change to a replica set
type PendingOp struct {
	Type         PendingOpType
	ContainerID  uint64
	Target       string // Node ID
	ReplicaIndex int
	CommandID    string
	ScheduledAt  time.Time
	Deadline     time.Time
}

func (op *PendingOp) String() string {
	return fmt.Sprintf("pending{%s container=%d target=%s index=%d}",
		op.Type, op.ContainerID, op.Target, op.ReplicaIndex)
}
