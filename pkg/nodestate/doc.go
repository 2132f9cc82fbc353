/*
Package nodestate keeps the manager's view of datanode membership and health.

Each node has an operational state set by operators (in service, maintenance,
decommissioning) and a health derived from heartbeats:

	            heartbeat
	  ┌──────────────────────────────┐
	  ▼                              │
	HEALTHY ── no heartbeat ──► STALE ── no heartbeat ──► DEAD
	  (StaleInterval)                  (DeadInterval)

Tick is called by the replication manager loop and moves nodes along the
chain, publishing node.stale and node.dead events. A heartbeat from a stale
or dead node makes it healthy again.

The Registry implements the node lookups the replication handlers and the
placement policy need (NodeStatus, GetNode, ListNodes). Membership changes
are written through an optional Persister so they survive a manager restart;
heartbeat state is kept in memory only.
*/
package nodestate
