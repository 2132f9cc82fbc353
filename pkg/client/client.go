package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/strata/pkg/api"
	"github.com/cuemby/strata/pkg/dispatch"
	"github.com/cuemby/strata/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultTimeout bounds every call made by Client
const DefaultTimeout = 10 * time.Second

// Client wraps the Strata datanode gRPC service
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewClient creates a client for the manager at addr. Extra dial options
// are applied after the defaults.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to manager: %w", err)
	}

	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	return c.conn.Invoke(ctx, api.DatanodeMethod(method), req, resp)
}

// RegisterNode registers a datanode and returns its status
func (c *Client) RegisterNode(req *api.RegisterRequest) (types.NodeStatus, error) {
	var resp api.RegisterResponse
	if err := c.invoke("Register", req, &resp); err != nil {
		return types.NodeStatus{}, err
	}

	return resp.Status, nil
}

// Heartbeat reports a datanode alive and returns the commands queued for it
func (c *Client) Heartbeat(nodeID string, used uint64) ([]*dispatch.Command, error) {
	var resp api.HeartbeatResponse
	err := c.invoke("Heartbeat", &api.HeartbeatRequest{NodeID: nodeID, Used: used}, &resp)
	if err != nil {
		return nil, err
	}

	return resp.Commands, nil
}

// ReportReplica reports a replica written to a node. It returns whether a
// pending copy was waiting for it.
func (c *Client) ReportReplica(replica types.Replica) (bool, error) {
	var resp api.ReportReplicaResponse
	if err := c.invoke("ReportReplica", &api.ReportReplicaRequest{Replica: replica}, &resp); err != nil {
		return false, err
	}

	return resp.PendingCompleted, nil
}

// ReportDeletedReplica reports a replica removed from a node
func (c *Client) ReportDeletedReplica(replica types.Replica) (bool, error) {
	var resp api.ReportReplicaResponse
	err := c.invoke("ReportReplica", &api.ReportReplicaRequest{Replica: replica, Deleted: true}, &resp)
	if err != nil {
		return false, err
	}

	return resp.PendingCompleted, nil
}

// CompleteCommand tells the manager a delivered command has finished
func (c *Client) CompleteCommand(id string) error {
	return c.invoke("CompleteCommand", &api.CompleteCommandRequest{CommandID: id}, &api.CompleteCommandResponse{})
}

// SetNodeState changes the operational state of a node
func (c *Client) SetNodeState(nodeID string, state types.NodeOperationalState) error {
	req := &api.SetNodeStateRequest{NodeID: nodeID, State: state}
	return c.invoke("SetNodeState", req, &api.SetNodeStateResponse{})
}

// CreateContainer adds a container to the cluster
func (c *Client) CreateContainer(req *api.CreateContainerRequest) (*types.Container, error) {
	var resp api.CreateContainerResponse
	if err := c.invoke("CreateContainer", req, &resp); err != nil {
		return nil, err
	}

	return resp.Container, nil
}
