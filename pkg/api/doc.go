/*
Package api exposes the Strata manager to datanodes and operators.

Two listeners are served:

	HTTP (http_addr, default :9090)
	  GET /health    liveness, always 200 while the process runs
	  GET /ready     raft, storage and reconciler checks, 503 until all pass
	  GET /metrics   Prometheus exposition

	gRPC (grpc_addr, default :9091)
	  grpc.health.v1.Health   service "strata.Manager" and ""
	  strata.Datanode         datanode ingress, json codec

The gRPC health status is SERVING while the manager leads or knows its
leader and is refreshed every five seconds. Every gRPC call goes through
LoggingInterceptor.

# Datanode Service

DatanodeService is how nodes and replicas enter the manager:

	Register          add or refresh a node, its rack and capacity
	Heartbeat         keep the node alive and drain its queued commands
	ReportReplica     record a replica written or deleted, clear its pending op
	CompleteCommand   release a delivered command from its source's load
	SetNodeState      maintenance and decommissioning
	CreateContainer   add container metadata

The service has no generated stubs. DatanodeServiceDesc registers it by
hand and its messages are the Go structs in this package, encoded by the
"json" codec registered in init. Clients pick the codec with
grpc.CallContentSubtype(CodecName); pkg/client does this on every call.

Errors map to status codes: NotFound for unknown nodes, containers and
commands, AlreadyExists for a taken container ID, FailedPrecondition when
the manager is not the leader, InvalidArgument for malformed requests and
Internal otherwise.
*/
package api
