/*
Package pendingops tracks in-flight replica additions and deletions.

When the dispatcher queues a replicate command it schedules a pending ADD for
the target; when a datanode later reports the new replica the ADD is
completed. Until then the replication handlers treat the replica as present,
which keeps the next reconciliation cycle from sending a second copy.

Every op carries a deadline. Ops are indexed by container for lookups and by
deadline in a B-tree, so RemoveExpiredEntries only walks the expired prefix:

	deadlines (btree, ascending)
	┌───────┬───────┬───────┬───────┬───────┐
	│ 10:01 │ 10:02 │ 10:02 │ 10:07 │ 10:09 │
	└───────┴───────┴───────┴───────┴───────┘
	 ◄── expired at 10:05 ──►

An expired op is dropped, counted and published as pendingop.expired; the
replica it described is then evaluated again from the reported state.
*/
package pendingops
