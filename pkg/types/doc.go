/*
Package types defines the core data structures used throughout Strata.

This package contains the domain model of the storage container manager:
datanodes and their status, containers and their replication configuration,
replicas reported by datanodes, and the pending operations that track replica
changes which have been scheduled but not yet completed.

# Core Types

Cluster Topology:
  - Node: Datanode with rack/data center location, capacity and status
  - NodeOperationalState: in_service, entering_maintenance, in_maintenance,
    decommissioning, decommissioned
  - NodeHealth: healthy, healthy_readonly, stale, dead
  - NodeStatus: Operational state and health combined

Containers:
  - Container: Unit of replicated storage
  - ReplicationConfig: ratis (N full copies) or EC (data + parity shards)
  - ContainerState: open, closing, quasi_closed, closed, deleting, deleted

Replicas:
  - Replica: Copy of a container on one node, with an EC shard index
  - ReplicaState: open, closing, quasi_closed, closed, unhealthy

In-flight Work:
  - PendingOp: Scheduled ADD or DELETE of a replica with a deadline

# Replica Indexes

Ratis replicas are interchangeable and always carry index 0. EC replicas carry
the index (1..data+parity) of the shard they hold, so an EC container with a
3-2 scheme is fully replicated only when indexes 1 through 5 are each present:

	┌──────────── container #42, rs-3-2-1024k ────────────┐
	│  index:   1      2      3     │    4      5         │
	│          data   data   data   │  parity parity      │
	│  node:   dn1    dn2    dn3    │   dn4    dn5        │
	└───────────────────────────────┴─────────────────────┘

# Errors

errors.go holds sentinel errors shared between the collaborators and the
replication core (ErrNodeNotFound, ErrCommandTargetOverloaded, ErrNotLeader).
They are always wrapped with context and matched with errors.Is.
*/
package types
