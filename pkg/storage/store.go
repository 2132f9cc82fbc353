package storage

import (
	"github.com/cuemby/strata/pkg/types"
)

// Store defines the interface for cluster metadata storage
type Store interface {
	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Containers
	CreateContainer(container *types.Container) error
	GetContainer(id uint64) (*types.Container, error)
	ListContainers() ([]*types.Container, error)
	UpdateContainer(container *types.Container) error
	DeleteContainer(id uint64) error

	// Replicas
	PutReplica(replica *types.Replica) error
	DeleteReplica(containerID uint64, nodeID string, index int) error
	ListReplicas(containerID uint64) ([]*types.Replica, error)
	ListReplicasByNode(nodeID string) ([]*types.Replica, error)

	// Utility
	Close() error
}
