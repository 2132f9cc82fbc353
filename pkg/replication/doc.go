/*
Package replication fixes mis-replicated containers in a Strata cluster.

A container is mis-replicated when it has exactly as many healthy replicas as
its replication config requires, but they sit on nodes that violate the
placement policy (for example, all three ratis replicas in one rack). The
MisReplicationHandler detects this and sends copy commands to new nodes. The
surplus copies left behind are cleaned up later by the over-replication
handling, which is not part of this package; neither is under-replication.

# Architecture

One handler type serves both replication schemes. What differs between ratis
and erasure coded (EC) containers is isolated behind a small scheme interface:

	                    Handle(container, replicas, pendingOps)
	                                   │
	                                   ▼
	             ┌─────────────────────────────────────────┐
	             │  Effective replica set                  │
	             │  - resolve node status                  │
	             │  - pending DELETE ⇒ replica absent      │
	             │  - pending ADD    ⇒ replica present     │
	             └──────────────────┬──────────────────────┘
	                                │
	              under / over ◄────┤────► return 0
	                                ▼
	             ValidateContainerPlacement ── satisfied ──► return 0
	                                │
	                                ▼
	             ReplicasToCopyToFixMisreplication
	                                │
	                                ▼
	             ChooseDatanodes (count, count-1, ... 1)
	                                │
	                                ▼
	             SendThrottledReplicationCommand per fix,
	             falling through overloaded sources

# Replica Availability

A replica counts toward sufficiency and placement when its node is neither
dead nor decommissioning/decommissioned, its state is not UNHEALTHY and no
DELETE is pending for it. Replicas on maintenance nodes count, but only
replicas on in-service, healthy nodes in CLOSED or QUASI_CLOSED state may be
copied from.

For EC containers sufficiency is per index: every index 1..data+parity needs
exactly one available copy. A missing index is under-replication, a
duplicated one is over-replication, and both are left alone.

# Schemes

	ratis: required = factor, replacement index 0, any eligible replica
	       is a valid source (the replica being moved is tried first)
	ec:    required = data + parity, replacement keeps the index of the
	       shard it replaces, only a node holding that index is a source

# Partial Work

Handle returns the number of commands sent together with an error. The two
are independent:

	count > 0, err == nil                      all fixes sent
	count >= 0, IsInsufficientTargets(err)     fewer targets than fixes
	count >= 0, errors.Is(err, types.ErrCommandTargetOverloaded)
	                                           every source of a fix was busy
	count == 0, errors.Is(err, ErrPolicyUnsatisfiable)
	                                           no target at all
	count == 0, errors.Is(err, types.ErrNodeNotFound)
	                                           a replica's node vanished

When targets are short the partial counter for the scheme is incremented
once per call. Any dispatcher error other than overload, such as
types.ErrNotLeader, aborts the call; commands already sent are counted.

# Usage

	policy := placement.NewRackScatter(registry)
	h := replication.NewECMisReplicationHandler(policy, registry, dispatcher,
		metrics.NewReplicationMetrics(prometheus.DefaultRegisterer),
		replication.Config{ContainerSize: 5 << 30})

	sent, err := h.Handle(container, replicas, ledger.GetPendingOps(container.ID))
*/
package replication
