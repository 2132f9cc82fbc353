package manager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/strata/pkg/events"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Manager represents a Strata storage container manager node
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft        *raft.Raft
	logStore    *raftboltdb.BoltStore
	stableStore *raftboltdb.BoltStore
	fsm         *StrataFSM
	store       storage.Store
	eventBroker *events.Broker
	logger      zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	eventBroker := events.NewBroker()
	eventBroker.Start()

	return &Manager{
		nodeID:      cfg.NodeID,
		bindAddr:    cfg.BindAddr,
		dataDir:     cfg.DataDir,
		fsm:         NewStrataFSM(store),
		store:       store,
		eventBroker: eventBroker,
		logger:      log.WithComponent("manager").With().Str("node_id", cfg.NodeID).Logger(),
	}, nil
}

// Bootstrap starts Raft and, on first start, initializes a single-node
// cluster with this manager as the only voter
func (m *Manager) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Faster failure detection than the WAN oriented defaults
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		transport.Close()
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		return fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		transport.Close()
		logStore.Close()
		return fmt.Errorf("failed to create stable store: %w", err)
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		transport.Close()
		logStore.Close()
		stableStore.Close()
		return fmt.Errorf("failed to check raft state: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		transport.Close()
		logStore.Close()
		stableStore.Close()
		return fmt.Errorf("failed to create raft: %w", err)
	}
	m.raft = r
	m.logStore = logStore
	m.stableStore = stableStore

	if hasState {
		m.logger.Info().Msg("Recovered existing raft state")
		return nil
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      config.LocalID,
				Address: transport.LocalAddr(),
			},
		},
	}
	if err := m.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	m.logger.Info().Str("bind_addr", m.bindAddr).Msg("Bootstrapped cluster")
	return nil
}

// WaitForLeader blocks until this manager leads or timeout passes
func (m *Manager) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.IsLeader() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no leadership after %v: %w", timeout, types.ErrNotLeader)
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	return map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         m.LeaderAddr(),
	}
}

// GetEventBroker returns the event broker
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// Apply submits a command to the Raft cluster
func (m *Manager) Apply(cmd Command) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("cannot apply %s, leader is %q: %w", cmd.Op, m.LeaderAddr(), types.ErrNotLeader)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}

	// Check if apply returned an error
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) apply(op string, v interface{}) error {
	cmd, err := NewCommand(op, v)
	if err != nil {
		return err
	}
	return m.Apply(cmd)
}

// CreateNode adds a node to the cluster
func (m *Manager) CreateNode(node *types.Node) error {
	return m.apply(OpCreateNode, node)
}

// UpdateNode replaces a node record
func (m *Manager) UpdateNode(node *types.Node) error {
	return m.apply(OpUpdateNode, node)
}

// SaveNode stores node membership for the node registry
func (m *Manager) SaveNode(node *types.Node) error {
	return m.UpdateNode(node)
}

// DeleteNode removes a node from the cluster
func (m *Manager) DeleteNode(id string) error {
	return m.apply(OpDeleteNode, id)
}

// CreateContainer adds a container. It fails if the ID is taken.
func (m *Manager) CreateContainer(container *types.Container) error {
	if err := container.ReplicationConfig.Validate(); err != nil {
		return fmt.Errorf("invalid container %d: %w", container.ID, err)
	}
	now := time.Now()
	if container.CreatedAt.IsZero() {
		container.CreatedAt = now
	}
	container.UpdatedAt = now
	return m.apply(OpCreateContainer, container)
}

// UpdateContainer replaces an existing container record
func (m *Manager) UpdateContainer(container *types.Container) error {
	container.UpdatedAt = time.Now()
	return m.apply(OpUpdateContainer, container)
}

// DeleteContainer removes a container and its replicas
func (m *Manager) DeleteContainer(id uint64) error {
	return m.apply(OpDeleteContainer, id)
}

// AddReplica records a replica reported by a datanode
func (m *Manager) AddReplica(replica *types.Replica) error {
	return m.apply(OpAddReplica, replica)
}

// RemoveReplica forgets a replica
func (m *Manager) RemoveReplica(containerID uint64, nodeID string, index int) error {
	return m.apply(OpRemoveReplica, ReplicaRef{ContainerID: containerID, NodeID: nodeID, Index: index})
}

// GetNode retrieves a node by ID (read from local store)
func (m *Manager) GetNode(id string) (*types.Node, error) {
	return m.store.GetNode(id)
}

// ListNodes returns all nodes (read from local store)
func (m *Manager) ListNodes() ([]*types.Node, error) {
	return m.store.ListNodes()
}

// GetContainer retrieves a container by ID (read from local store)
func (m *Manager) GetContainer(id uint64) (*types.Container, error) {
	return m.store.GetContainer(id)
}

// ListContainers returns all containers (read from local store)
func (m *Manager) ListContainers() ([]*types.Container, error) {
	return m.store.ListContainers()
}

// ListReplicas returns the replicas of a container (read from local store)
func (m *Manager) ListReplicas(containerID uint64) ([]*types.Replica, error) {
	return m.store.ListReplicas(containerID)
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	// Raft no longer touches its stores once shut down
	for _, bs := range []*raftboltdb.BoltStore{m.logStore, m.stableStore} {
		if bs == nil {
			continue
		}
		if err := bs.Close(); err != nil {
			return fmt.Errorf("failed to close raft store: %w", err)
		}
	}
	m.logStore, m.stableStore = nil, nil

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}

	m.logger.Info().Msg("Manager stopped")
	return nil
}
