/*
Package storage provides BoltDB-backed persistence for Strata cluster metadata.

The store holds the desired and reported state the replication manager works
from: datanodes, containers and the replicas datanodes have reported. It is
written only through the Raft FSM in the manager package, so every manager
applies the same changes in the same order.

# Layout

All values are JSON. One bucket per entity:

	nodes       node ID                       → types.Node
	containers  container ID (uint64, BE)     → types.Container
	replicas    container ID (BE) "/" node "/" index → types.Replica

Container IDs are big-endian so buckets iterate in numeric order. Replica keys
start with the container key, so the replicas of one container are a single
cursor range and DeleteContainer removes them in the same transaction.

# Usage

	store, err := storage.NewBoltStore("/var/lib/strata")
	if err != nil {
		return err
	}
	defer store.Close()

	replicas, err := store.ListReplicas(containerID)

Lookups of missing entries return errors wrapping types.ErrNodeNotFound or
types.ErrContainerNotFound.
*/
package storage
