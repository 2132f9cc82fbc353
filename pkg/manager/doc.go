/*
Package manager implements the Strata storage container manager node with
Raft consensus.

The manager owns the cluster metadata the replication manager works from:
datanodes, containers and the replicas datanodes report. Every change is
proposed as a Raft command and applied by the FSM to the BoltDB store, so a
restarted manager recovers the same view from its log and snapshots.

# Architecture

	┌──────────────────────── MANAGER NODE ────────────────────────┐
	│                                                               │
	│  ┌─────────────────────────────────────────────┐             │
	│  │                Manager                       │             │
	│  │  - CreateContainer, AddReplica, SaveNode...  │             │
	│  │  - IsLeader gates command dispatch           │             │
	│  └──────────────────┬──────────────────────────┘             │
	│                     │ Apply(Command)                          │
	│  ┌──────────────────▼──────────────────────────┐             │
	│  │           Raft Consensus Layer               │             │
	│  │  - raft-boltdb log and stable stores         │             │
	│  │  - file snapshot store (2 retained)          │             │
	│  └──────────────────┬──────────────────────────┘             │
	│                     │ committed entries                       │
	│  ┌──────────────────▼──────────────────────────┐             │
	│  │              StrataFSM                       │             │
	│  │  - Apply(): node, container, replica ops     │             │
	│  │  - Snapshot()/Restore(): full metadata dump  │             │
	│  └──────────────────┬──────────────────────────┘             │
	│                     │                                         │
	│  ┌──────────────────▼──────────────────────────┐             │
	│  │             BoltDB Store                     │             │
	│  │  - nodes, containers, replicas buckets       │             │
	│  └─────────────────────────────────────────────┘             │
	└───────────────────────────────────────────────────────────────┘

# Commands

Each Raft log entry is a JSON encoded Command with an op name and a payload:

	create_node, update_node      types.Node
	delete_node                   node ID
	create_container              types.Container (fails if the ID exists)
	update_container              types.Container (fails if missing)
	delete_container              container ID, removes its replicas too
	add_replica                   types.Replica (container must exist)
	remove_replica                ReplicaRef

Apply returns the FSM error of a rejected command to the proposer.

# Leadership

Only the leader proposes commands. Apply on a follower returns an error
wrapping types.ErrNotLeader, and the same check backs the command
dispatcher's leader gate. Reads go to the local store and may lag the leader
by the replication delay.

# Metrics

MetricsCollector samples the store and Raft every 15 seconds and exports
container counts by replication type and state, leadership and the applied
index. It also reports the raft and store health components used by /ready.

# Usage

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "scm-1",
		BindAddr: "127.0.0.1:7946",
		DataDir:  "/var/lib/strata",
	})
	if err != nil {
		return err
	}
	if err := mgr.Bootstrap(); err != nil {
		return err
	}
	if err := mgr.WaitForLeader(10 * time.Second); err != nil {
		return err
	}

	err = mgr.CreateContainer(&types.Container{
		ID:                42,
		ReplicationConfig: types.ECConfig(3, 2),
		State:             types.ContainerClosed,
	})

Only single manager clusters are bootstrapped. Adding voters to an existing
cluster is not supported.
*/
package manager
