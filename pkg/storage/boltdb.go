package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/strata/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketNodes      = []byte("nodes")
	bucketContainers = []byte("containers")
	bucketReplicas   = []byte("replicas")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "strata.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketNodes, bucketContainers, bucketReplicas} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// containerKey encodes container IDs big-endian so keys sort numerically
func containerKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// replicaPrefix is the key prefix of all replicas of a container
func replicaPrefix(containerID uint64) []byte {
	return append(containerKey(containerID), '/')
}

func replicaKey(containerID uint64, nodeID string, index int) []byte {
	return append(replicaPrefix(containerID), fmt.Sprintf("%s/%d", nodeID, index)...)
}

func put(tx *bolt.Tx, bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put(key, data)
}

// Node operations
func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketNodes, []byte(node.ID), node)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrNodeNotFound, id)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node) // Same as create (upsert)
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

// Container operations
func (s *BoltStore) CreateContainer(container *types.Container) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketContainers, containerKey(container.ID), container)
	})
}

func (s *BoltStore) GetContainer(id uint64) (*types.Container, error) {
	var container types.Container
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContainers).Get(containerKey(id))
		if data == nil {
			return fmt.Errorf("%w: %d", types.ErrContainerNotFound, id)
		}
		return json.Unmarshal(data, &container)
	})
	if err != nil {
		return nil, err
	}
	return &container, nil
}

func (s *BoltStore) ListContainers() ([]*types.Container, error) {
	var containers []*types.Container
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).ForEach(func(k, v []byte) error {
			var container types.Container
			if err := json.Unmarshal(v, &container); err != nil {
				return err
			}
			containers = append(containers, &container)
			return nil
		})
	})
	return containers, err
}

func (s *BoltStore) UpdateContainer(container *types.Container) error {
	return s.CreateContainer(container)
}

// DeleteContainer removes a container and all of its replicas
func (s *BoltStore) DeleteContainer(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketContainers).Delete(containerKey(id)); err != nil {
			return err
		}
		c := tx.Bucket(bucketReplicas).Cursor()
		prefix := replicaPrefix(id)
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Seek(prefix) {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Replica operations
func (s *BoltStore) PutReplica(replica *types.Replica) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := replicaKey(replica.ContainerID, replica.NodeID, replica.Index)
		return put(tx, bucketReplicas, key, replica)
	})
}

func (s *BoltStore) DeleteReplica(containerID uint64, nodeID string, index int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReplicas).Delete(replicaKey(containerID, nodeID, index))
	})
}

func (s *BoltStore) ListReplicas(containerID uint64) ([]*types.Replica, error) {
	var replicas []*types.Replica
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReplicas).Cursor()
		prefix := replicaPrefix(containerID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var replica types.Replica
			if err := json.Unmarshal(v, &replica); err != nil {
				return err
			}
			replicas = append(replicas, &replica)
		}
		return nil
	})
	return replicas, err
}

func (s *BoltStore) ListReplicasByNode(nodeID string) ([]*types.Replica, error) {
	var replicas []*types.Replica
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReplicas).ForEach(func(k, v []byte) error {
			var replica types.Replica
			if err := json.Unmarshal(v, &replica); err != nil {
				return err
			}
			if replica.NodeID == nodeID {
				replicas = append(replicas, &replica)
			}
			return nil
		})
	})
	return replicas, err
}
