package api

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/strata/pkg/dispatch"
	"github.com/cuemby/strata/pkg/nodestate"
	"github.com/cuemby/strata/pkg/pendingops"
	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type memContainers struct {
	mu         sync.Mutex
	containers map[uint64]*types.Container
	replicas   map[string]types.Replica
	err        error
}

func newMemContainers() *memContainers {
	return &memContainers{
		containers: make(map[uint64]*types.Container),
		replicas:   make(map[string]types.Replica),
	}
}

func (m *memContainers) CreateContainer(c *types.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.containers[c.ID]; ok {
		return fmt.Errorf("container %d: %w", c.ID, types.ErrContainerExists)
	}
	m.containers[c.ID] = c
	return nil
}

func (m *memContainers) AddReplica(r *types.Replica) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.replicas[r.Key()] = *r
	return nil
}

func (m *memContainers) RemoveReplica(containerID uint64, nodeID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	r := types.Replica{ContainerID: containerID, NodeID: nodeID, Index: index}
	delete(m.replicas, r.Key())
	return nil
}

type datanodeFixture struct {
	svc        *DatanodeService
	registry   *nodestate.Registry
	queue      *dispatch.CommandQueue
	ledger     *pendingops.Ledger
	containers *memContainers
}

func newDatanodeFixture(t *testing.T) *datanodeFixture {
	t.Helper()
	f := &datanodeFixture{
		registry:   nodestate.NewRegistry(nodestate.Config{}, nil, nil),
		queue:      dispatch.NewCommandQueue(),
		ledger:     pendingops.NewLedger(0, nil),
		containers: newMemContainers(),
	}
	f.svc = NewDatanodeService(f.registry, f.queue, f.containers, f.ledger)
	return f
}

func TestDatanodeRegisterAndHeartbeat(t *testing.T) {
	f := newDatanodeFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, &RegisterRequest{ID: "dn-1", Rack: "r1", Capacity: 100})
	require.NoError(t, err)
	assert.Equal(t, types.InServiceHealthy(), resp.Status)

	cmd := &dispatch.Command{ID: "cmd-1", Type: dispatch.CommandReplicateContainer, ContainerID: 3, Source: "dn-1", Target: "dn-2"}
	f.queue.Add("dn-1", cmd)

	hb, err := f.svc.Heartbeat(ctx, &HeartbeatRequest{NodeID: "dn-1", Used: 40})
	require.NoError(t, err)
	require.Len(t, hb.Commands, 1)
	assert.Equal(t, "cmd-1", hb.Commands[0].ID)

	// Delivered commands still count against the source
	assert.Equal(t, 1, f.queue.SourceLoad("dn-1"))

	hb, err = f.svc.Heartbeat(ctx, &HeartbeatRequest{NodeID: "dn-1", Used: 40})
	require.NoError(t, err)
	assert.Empty(t, hb.Commands)

	node, err := f.registry.GetNode("dn-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(40), node.Used)
}

func TestDatanodeReportReplicaCompletesPending(t *testing.T) {
	f := newDatanodeFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, &RegisterRequest{ID: "dn-2"})
	require.NoError(t, err)
	f.ledger.ScheduleAddReplica(3, "dn-2", 0, "cmd-1", time.Time{})
	f.ledger.ScheduleDeleteReplica(4, "dn-2", 2, "cmd-2", time.Time{})

	resp, err := f.svc.ReportReplica(ctx, &ReportReplicaRequest{Replica: types.Replica{ContainerID: 3, NodeID: "dn-2"}})
	require.NoError(t, err)
	assert.True(t, resp.PendingCompleted)
	assert.Empty(t, f.ledger.GetPendingOps(3))
	assert.Equal(t, types.ReplicaClosed, f.containers.replicas["3/dn-2/0"].State)

	resp, err = f.svc.ReportReplica(ctx, &ReportReplicaRequest{Replica: types.Replica{ContainerID: 4, NodeID: "dn-2", Index: 2}, Deleted: true})
	require.NoError(t, err)
	assert.True(t, resp.PendingCompleted)
	assert.Equal(t, 0, f.ledger.Len())

	// A report nothing waited for is still recorded
	resp, err = f.svc.ReportReplica(ctx, &ReportReplicaRequest{Replica: types.Replica{ContainerID: 5, NodeID: "dn-2"}})
	require.NoError(t, err)
	assert.False(t, resp.PendingCompleted)
	assert.Contains(t, f.containers.replicas, "5/dn-2/0")
}

func TestDatanodeCompleteCommandReleasesLoad(t *testing.T) {
	f := newDatanodeFixture(t)
	ctx := context.Background()

	f.queue.Add("dn-1", &dispatch.Command{ID: "cmd-1", Source: "dn-1", Target: "dn-2"})
	f.queue.Drain("dn-1")

	_, err := f.svc.CompleteCommand(ctx, &CompleteCommandRequest{CommandID: "cmd-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.queue.SourceLoad("dn-1"))
	assert.Equal(t, 0, f.queue.Len())

	_, err = f.svc.CompleteCommand(ctx, &CompleteCommandRequest{CommandID: "cmd-1"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestDatanodeSetNodeState(t *testing.T) {
	f := newDatanodeFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, &RegisterRequest{ID: "dn-1"})
	require.NoError(t, err)

	_, err = f.svc.SetNodeState(ctx, &SetNodeStateRequest{NodeID: "dn-1", State: types.NodeDecommissioning})
	require.NoError(t, err)
	st, err := f.registry.NodeStatus("dn-1")
	require.NoError(t, err)
	assert.True(t, st.IsDecommission())

	// Re-registering keeps the operational state
	_, err = f.svc.Register(ctx, &RegisterRequest{ID: "dn-1", Rack: "r2"})
	require.NoError(t, err)
	st, err = f.registry.NodeStatus("dn-1")
	require.NoError(t, err)
	assert.True(t, st.IsDecommission())
}

func TestDatanodeCreateContainer(t *testing.T) {
	f := newDatanodeFixture(t)
	ctx := context.Background()

	resp, err := f.svc.CreateContainer(ctx, &CreateContainerRequest{ID: 7, Replication: "rs-3-2-1024k", UsedBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, types.ContainerClosed, resp.Container.State)
	assert.Equal(t, types.ECConfig(3, 2), resp.Container.ReplicationConfig)

	_, err = f.svc.CreateContainer(ctx, &CreateContainerRequest{ID: 7, Replication: "ratis-3"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestDatanodeErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		call func(t *testing.T, f *datanodeFixture) error
		want codes.Code
	}{
		{
			name: "register without ID",
			call: func(t *testing.T, f *datanodeFixture) error {
				_, err := f.svc.Register(context.Background(), &RegisterRequest{ID: " "})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "register over capacity",
			call: func(t *testing.T, f *datanodeFixture) error {
				_, err := f.svc.Register(context.Background(), &RegisterRequest{ID: "dn-1", Capacity: 10, Used: 11})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "heartbeat from unknown node",
			call: func(t *testing.T, f *datanodeFixture) error {
				_, err := f.svc.Heartbeat(context.Background(), &HeartbeatRequest{NodeID: "dn-9"})
				return err
			},
			want: codes.NotFound,
		},
		{
			name: "report from unknown node",
			call: func(t *testing.T, f *datanodeFixture) error {
				_, err := f.svc.ReportReplica(context.Background(), &ReportReplicaRequest{Replica: types.Replica{ContainerID: 1, NodeID: "dn-9"}})
				return err
			},
			want: codes.NotFound,
		},
		{
			name: "report negative index",
			call: func(t *testing.T, f *datanodeFixture) error {
				_, err := f.svc.ReportReplica(context.Background(), &ReportReplicaRequest{Replica: types.Replica{NodeID: "dn-1", Index: -1}})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "report on follower",
			call: func(t *testing.T, f *datanodeFixture) error {
				_, err := f.svc.Register(context.Background(), &RegisterRequest{ID: "dn-1"})
				require.NoError(t, err)
				f.containers.err = fmt.Errorf("cannot apply add_replica: %w", types.ErrNotLeader)
				_, err = f.svc.ReportReplica(context.Background(), &ReportReplicaRequest{Replica: types.Replica{ContainerID: 1, NodeID: "dn-1"}})
				return err
			},
			want: codes.FailedPrecondition,
		},
		{
			name: "complete without ID",
			call: func(t *testing.T, f *datanodeFixture) error {
				_, err := f.svc.CompleteCommand(context.Background(), &CompleteCommandRequest{})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "unknown state",
			call: func(t *testing.T, f *datanodeFixture) error {
				_, err := f.svc.SetNodeState(context.Background(), &SetNodeStateRequest{NodeID: "dn-1", State: "retired"})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "state of unknown node",
			call: func(t *testing.T, f *datanodeFixture) error {
				_, err := f.svc.SetNodeState(context.Background(), &SetNodeStateRequest{NodeID: "dn-9", State: types.NodeInMaintenance})
				return err
			},
			want: codes.NotFound,
		},
		{
			name: "bad replication",
			call: func(t *testing.T, f *datanodeFixture) error {
				_, err := f.svc.CreateContainer(context.Background(), &CreateContainerRequest{ID: 1, Replication: "mirror"})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "store failure",
			call: func(t *testing.T, f *datanodeFixture) error {
				f.containers.err = fmt.Errorf("disk full")
				_, err := f.svc.CreateContainer(context.Background(), &CreateContainerRequest{ID: 1, Replication: "ratis-3"})
				return err
			},
			want: codes.Internal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(t, newDatanodeFixture(t))
			require.Error(t, err)
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestRegisterDatanodeService(t *testing.T) {
	s := NewServer(nil)
	assert.NotPanics(t, func() {
		s.RegisterDatanodeService(newDatanodeFixture(t).svc)
	})
	info := s.grpc.GetServiceInfo()
	require.Contains(t, info, DatanodeServiceName)

	var methods []string
	for _, m := range info[DatanodeServiceName].Methods {
		methods = append(methods, m.Name)
	}
	assert.ElementsMatch(t, []string{"Register", "Heartbeat", "ReportReplica", "CompleteCommand", "SetNodeState", "CreateContainer"}, methods)
}
