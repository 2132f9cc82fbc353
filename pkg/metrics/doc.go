/*
Package metrics provides Prometheus metrics and component health for the
Strata manager.

All collectors are package variables registered with the default Prometheus
registry in init. They are exposed on /metrics by Handler, next to the
/health and /ready endpoints built from the component health tracker.

# Metrics

Cluster state, refreshed by the manager's metrics collector:

	strata_nodes_total{state, health}         datanodes by operational state and health
	strata_containers_total{type, state}      containers by replication type and state
	strata_raft_is_leader                     1 on the leader, 0 elsewhere
	strata_raft_applied_index                 last applied Raft index

Replication, updated by the reconciler, dispatcher and pending op ledger:

	strata_reconciliation_duration_seconds    cycle duration histogram
	strata_reconciliation_cycles_total        completed cycles
	strata_container_health{health}           containers per health in the last cycle
	strata_misreplication_results_total{result}
	strata_replication_commands_sent_total{type}
	strata_replication_commands_throttled_total
	strata_queued_commands
	strata_pending_ops_scheduled_total{type}
	strata_pending_ops_completed_total{type}
	strata_pending_ops_expired_total{type}

The two partial-fix counters used by the replication handlers live in
ReplicationMetrics, registered with the Registerer given to
NewReplicationMetrics (nil skips registration):

	strata_partial_replication_for_misreplication_total
	strata_ec_partial_replication_for_misreplication_total

# Component Health

Components report with UpdateComponent, which registers them on first use.
The manager is ready once every critical component (raft, store,
reconciler) is registered and healthy:

	metrics.UpdateComponent(metrics.ComponentRaft, false, "no leader")
	metrics.UpdateComponent(metrics.ComponentReconciler, true, "")

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)
*/
package metrics
