package api

import (
	"context"
	"errors"
	"strings"

	"github.com/cuemby/strata/pkg/dispatch"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DatanodeServiceName is the gRPC service datanodes talk to
const DatanodeServiceName = "strata.Datanode"

// NodeRegistry tracks datanode membership and liveness
type NodeRegistry interface {
	Register(node *types.Node) error
	Heartbeat(id string, used uint64) error
	SetOperationalState(id string, state types.NodeOperationalState) error
	GetNode(id string) (*types.Node, error)
}

// CommandQueue hands queued commands to datanodes
type CommandQueue interface {
	Drain(nodeID string) []*dispatch.Command
	Complete(cmdID string) bool
}

// ContainerStore is the replicated container metadata
type ContainerStore interface {
	CreateContainer(container *types.Container) error
	AddReplica(replica *types.Replica) error
	RemoveReplica(containerID uint64, nodeID string, index int) error
}

// PendingCompleter clears pending replica operations once a datanode
// reports their result
type PendingCompleter interface {
	CompleteAddReplica(containerID uint64, target string, index int) bool
	CompleteDeleteReplica(containerID uint64, target string, index int) bool
}

type RegisterRequest struct {
	ID         string
	Address    string
	Hostname   string
	DataCenter string
	Rack       string
	Labels     map[string]string
	Capacity   uint64
	Used       uint64
}

type RegisterResponse struct {
	Status types.NodeStatus
}

type HeartbeatRequest struct {
	NodeID string
	Used   uint64
}

// HeartbeatResponse carries the commands queued for the node since its
// last heartbeat
type HeartbeatResponse struct {
	Commands []*dispatch.Command
}

// ReportReplicaRequest reports a replica written to, or deleted from, the
// calling node
type ReportReplicaRequest struct {
	Replica types.Replica
	Deleted bool
}

type ReportReplicaResponse struct {
	// PendingCompleted is set when the report matched a pending operation
	PendingCompleted bool
}

type CompleteCommandRequest struct {
	CommandID string
}

type CompleteCommandResponse struct{}

type SetNodeStateRequest struct {
	NodeID string
	State  types.NodeOperationalState
}

type SetNodeStateResponse struct{}

type CreateContainerRequest struct {
	ID          uint64
	Replication string
	State       types.ContainerState
	UsedBytes   uint64
	Owner       string
}

type CreateContainerResponse struct {
	Container *types.Container
}

// DatanodeServer is the server API of the datanode service
type DatanodeServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	ReportReplica(context.Context, *ReportReplicaRequest) (*ReportReplicaResponse, error)
	CompleteCommand(context.Context, *CompleteCommandRequest) (*CompleteCommandResponse, error)
	SetNodeState(context.Context, *SetNodeStateRequest) (*SetNodeStateResponse, error)
	CreateContainer(context.Context, *CreateContainerRequest) (*CreateContainerResponse, error)
}

// DatanodeService feeds datanode registrations, heartbeats and replica
// reports into the manager and hands out queued commands
type DatanodeService struct {
	nodes      NodeRegistry
	commands   CommandQueue
	containers ContainerStore
	pending    PendingCompleter
	logger     zerolog.Logger
}

// NewDatanodeService creates the datanode service
func NewDatanodeService(nodes NodeRegistry, commands CommandQueue, containers ContainerStore, pending PendingCompleter) *DatanodeService {
	return &DatanodeService{
		nodes:      nodes,
		commands:   commands,
		containers: containers,
		pending:    pending,
		logger:     log.WithComponent("datanode-api"),
	}
}

// Register adds the node or refreshes its address and topology
func (s *DatanodeService) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, status.Error(codes.InvalidArgument, "node ID is required")
	}
	if req.Capacity > 0 && req.Used > req.Capacity {
		return nil, status.Errorf(codes.InvalidArgument, "node %s uses more than its capacity", req.ID)
	}

	err := s.nodes.Register(&types.Node{
		ID:         req.ID,
		Address:    req.Address,
		Hostname:   req.Hostname,
		DataCenter: req.DataCenter,
		Rack:       req.Rack,
		Labels:     req.Labels,
		Capacity:   req.Capacity,
		Used:       req.Used,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	node, err := s.nodes.GetNode(req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RegisterResponse{Status: node.Status}, nil
}

// Heartbeat marks the node alive and drains its command queue. Drained
// commands stay in flight until CompleteCommand or their deadline.
func (s *DatanodeService) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	if err := s.nodes.Heartbeat(req.NodeID, req.Used); err != nil {
		return nil, toStatus(err)
	}

	cmds := s.commands.Drain(req.NodeID)
	if len(cmds) > 0 {
		s.logger.Debug().
			Str("node_id", req.NodeID).
			Int("commands", len(cmds)).
			Msg("Delivered commands")
	}
	return &HeartbeatResponse{Commands: cmds}, nil
}

// ReportReplica records a replica the node gained or lost and clears the
// matching pending operation
func (s *DatanodeService) ReportReplica(ctx context.Context, req *ReportReplicaRequest) (*ReportReplicaResponse, error) {
	r := req.Replica
	if r.NodeID == "" {
		return nil, status.Error(codes.InvalidArgument, "replica node ID is required")
	}
	if r.Index < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "invalid replica index %d", r.Index)
	}
	if _, err := s.nodes.GetNode(r.NodeID); err != nil {
		return nil, toStatus(err)
	}

	var completed bool
	if req.Deleted {
		if err := s.containers.RemoveReplica(r.ContainerID, r.NodeID, r.Index); err != nil {
			return nil, toStatus(err)
		}
		completed = s.pending.CompleteDeleteReplica(r.ContainerID, r.NodeID, r.Index)
	} else {
		if r.State == "" {
			r.State = types.ReplicaClosed
		}
		if err := s.containers.AddReplica(&r); err != nil {
			return nil, toStatus(err)
		}
		completed = s.pending.CompleteAddReplica(r.ContainerID, r.NodeID, r.Index)
	}

	s.logger.Debug().
		Uint64("container_id", r.ContainerID).
		Str("node_id", r.NodeID).
		Int("index", r.Index).
		Bool("deleted", req.Deleted).
		Bool("pending_completed", completed).
		Msg("Replica reported")
	return &ReportReplicaResponse{PendingCompleted: completed}, nil
}

// CompleteCommand releases a delivered command so its source node can take
// more work
func (s *DatanodeService) CompleteCommand(ctx context.Context, req *CompleteCommandRequest) (*CompleteCommandResponse, error) {
	if req.CommandID == "" {
		return nil, status.Error(codes.InvalidArgument, "command ID is required")
	}
	if !s.commands.Complete(req.CommandID) {
		return nil, status.Errorf(codes.NotFound, "command %s not found", req.CommandID)
	}
	return &CompleteCommandResponse{}, nil
}

// SetNodeState moves a node into or out of maintenance or decommissioning
func (s *DatanodeService) SetNodeState(ctx context.Context, req *SetNodeStateRequest) (*SetNodeStateResponse, error) {
	switch req.State {
	case types.NodeInService, types.NodeEnteringMaintenance, types.NodeInMaintenance,
		types.NodeDecommissioning, types.NodeDecommissioned:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown operational state %q", req.State)
	}
	if err := s.nodes.SetOperationalState(req.NodeID, req.State); err != nil {
		return nil, toStatus(err)
	}
	return &SetNodeStateResponse{}, nil
}

// CreateContainer adds a container to the cluster metadata. Containers are
// created closed unless a state is given.
func (s *DatanodeService) CreateContainer(ctx context.Context, req *CreateContainerRequest) (*CreateContainerResponse, error) {
	cfg, err := types.ParseReplicationConfig(req.Replication)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "container %d: %v", req.ID, err)
	}
	state := req.State
	if state == "" {
		state = types.ContainerClosed
	}

	container := &types.Container{
		ID:                req.ID,
		ReplicationConfig: cfg,
		State:             state,
		UsedBytes:         req.UsedBytes,
		Owner:             req.Owner,
	}
	if err := s.containers.CreateContainer(container); err != nil {
		return nil, toStatus(err)
	}
	return &CreateContainerResponse{Container: container}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, types.ErrNodeNotFound), errors.Is(err, types.ErrContainerNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, types.ErrContainerExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, types.ErrNotLeader):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// DatanodeServiceDesc describes the datanode service for grpc.Server. Its
// messages are plain Go structs carried by the json codec.
var DatanodeServiceDesc = grpc.ServiceDesc{
	ServiceName: DatanodeServiceName,
	HandlerType: (*DatanodeServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Register", DatanodeServer.Register),
		unaryMethod("Heartbeat", DatanodeServer.Heartbeat),
		unaryMethod("ReportReplica", DatanodeServer.ReportReplica),
		unaryMethod("CompleteCommand", DatanodeServer.CompleteCommand),
		unaryMethod("SetNodeState", DatanodeServer.SetNodeState),
		unaryMethod("CreateContainer", DatanodeServer.CreateContainer),
	},
	Metadata: "strata/datanode",
}

func unaryMethod[Req, Resp any](name string, call func(DatanodeServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := DatanodeMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DatanodeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DatanodeServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// DatanodeMethod returns the full gRPC method name of a datanode service call
func DatanodeMethod(name string) string {
	return "/" + DatanodeServiceName + "/" + name
}
