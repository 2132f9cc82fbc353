/*
Package dispatch queues replication commands for datanodes and throttles
them per source node.

Each accepted command is queued on the node that will act on it: the source
in push mode, the target in pull mode. A datanode picks its commands up with
Drain when it heartbeats and acknowledges them with Complete. Until then the
command counts toward the load of its source node, and a source at the
replication limit refuses further commands with
types.ErrCommandTargetOverloaded so the caller can try another source.

Every accepted command also schedules a pending ADD in the ledger, which is
how the next reconciliation cycle learns that the copy is on its way.
*/
package dispatch
