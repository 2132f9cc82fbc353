/*
Package reconciler implements the replication manager loop of Strata.

Every interval the reconciler walks all closed containers, classifies their
replication health and hands the mis-replicated ones to the ratis or EC
mis-replication handler. Under- and over-replicated containers are counted
but left alone; fixing replica counts takes priority over placement and is
handled elsewhere.

# Cycle

	┌─────────────────── RunOnce ───────────────────┐
	│ 1. expire pending ops (ledger)                │
	│ 2. tick node health (stale / dead)            │
	│ 3. drop datanode commands past deadline       │
	│ 4. list containers, keep CLOSED/QUASI_CLOSED  │
	│ 5. for each, bounded by Parallelism:          │
	│      Check → healthy | under | over | mis     │
	│      mis → publish event, Handle              │
	│ 6. export health gauges and durations         │
	└───────────────────────────────────────────────┘

Followers skip the cycle entirely. Cancelling the context passed to RunOnce
stops further containers from being scheduled; handlers already running
finish.

# Failures

Handler errors are classified, never propagated:

	types.ErrCommandTargetOverloaded   warn, retry after backoff
	types.ErrNodeNotFound              warn, retry after backoff
	*InsufficientTargetsError          warn, retried next cycle
	replication.ErrPolicyUnsatisfiable error, retried next cycle
	anything else                      error, retried next cycle

Backoff is exponential per container (cenkalti/backoff) and reset once the
container is handled without a transient error. A deferred container is
skipped until its retry time passes.
*/
package reconciler
