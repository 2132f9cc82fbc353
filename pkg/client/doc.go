/*
Package client provides a Go client for the Strata datanode gRPC service.

Datanodes use it to join the cluster, heartbeat, pick up replication
commands and report the replicas those commands produced. Operators use the
same client from the CLI to change node states and create containers.

# Usage

	c, err := client.NewClient("manager:9091")
	if err != nil {
		return err
	}
	defer c.Close()

	_, err = c.RegisterNode(&api.RegisterRequest{ID: "dn-1", Rack: "r1", Capacity: 1 << 40})
	cmds, err := c.Heartbeat("dn-1", used)
	for _, cmd := range cmds {
		// copy the container, then
		c.ReportReplica(types.Replica{ContainerID: cmd.ContainerID, NodeID: cmd.Target, Index: cmd.ReplicaIndex})
		c.CompleteCommand(cmd.ID)
	}

Messages are encoded with the json codec registered by package api; the
client selects it on every call. Each call is bounded by DefaultTimeout.
Errors are gRPC status errors: NotFound for an unknown node, container or
command, FailedPrecondition when the manager is not the leader and
InvalidArgument for malformed requests.
*/
package client
