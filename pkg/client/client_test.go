package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/strata/pkg/api"
	"github.com/cuemby/strata/pkg/dispatch"
	"github.com/cuemby/strata/pkg/nodestate"
	"github.com/cuemby/strata/pkg/pendingops"
	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type memContainers struct {
	mu         sync.Mutex
	containers map[uint64]*types.Container
	replicas   map[string]*types.Replica
}

func (m *memContainers) CreateContainer(c *types.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers[c.ID] = c
	return nil
}

func (m *memContainers) AddReplica(r *types.Replica) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replicas[r.Key()] = r
	return nil
}

func (m *memContainers) RemoveReplica(containerID uint64, nodeID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := types.Replica{ContainerID: containerID, NodeID: nodeID, Index: index}
	delete(m.replicas, r.Key())
	return nil
}

type testCluster struct {
	client     *Client
	registry   *nodestate.Registry
	queue      *dispatch.CommandQueue
	ledger     *pendingops.Ledger
	containers *memContainers
}

// newTestCluster serves the datanode service over an in-memory listener
func newTestCluster(t *testing.T) *testCluster {
	t.Helper()

	tc := &testCluster{
		registry: nodestate.NewRegistry(nodestate.Config{}, nil, nil),
		queue:    dispatch.NewCommandQueue(),
		ledger:   pendingops.NewLedger(0, nil),
		containers: &memContainers{
			containers: make(map[uint64]*types.Container),
			replicas:   make(map[string]*types.Replica),
		},
	}

	lis := bufconn.Listen(1 << 20)
	srv := api.NewServer(nil)
	srv.RegisterDatanodeService(api.NewDatanodeService(tc.registry, tc.queue, tc.containers, tc.ledger))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	tc.client = c
	return tc
}

func TestDatanodeLifecycle(t *testing.T) {
	tc := newTestCluster(t)
	c := tc.client

	for _, n := range []*api.RegisterRequest{
		{ID: "dn-1", Rack: "r1", Capacity: 1 << 40},
		{ID: "dn-2", Rack: "r2", Capacity: 1 << 40},
	} {
		st, err := c.RegisterNode(n)
		require.NoError(t, err)
		assert.Equal(t, types.InServiceHealthy(), st)
	}
	assert.Len(t, tc.registry.ListNodes(), 2)

	// The replication core queues a push command on the source
	cmd := &dispatch.Command{
		ID:          "cmd-1",
		Type:        dispatch.CommandReplicateContainer,
		ContainerID: 8,
		Source:      "dn-1",
		Target:      "dn-2",
		Push:        true,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	tc.queue.Add("dn-1", cmd)
	tc.ledger.ScheduleAddReplica(8, "dn-2", 0, cmd.ID, time.Time{})

	cmds, err := c.Heartbeat("dn-1", 1<<30)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, cmd.ID, cmds[0].ID)
	assert.Equal(t, "dn-2", cmds[0].Target)
	assert.True(t, cmds[0].Push)
	assert.True(t, cmd.CreatedAt.Equal(cmds[0].CreatedAt))

	cmds, err = c.Heartbeat("dn-1", 1<<30)
	require.NoError(t, err)
	assert.Empty(t, cmds)

	completed, err := c.ReportReplica(types.Replica{ContainerID: 8, NodeID: "dn-2"})
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, 0, tc.ledger.Len())
	assert.Contains(t, tc.containers.replicas, "8/dn-2/0")

	assert.Equal(t, 1, tc.queue.SourceLoad("dn-1"))
	require.NoError(t, c.CompleteCommand(cmd.ID))
	assert.Equal(t, 0, tc.queue.SourceLoad("dn-1"))

	err = c.CompleteCommand(cmd.ID)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestDeletedReplicaReport(t *testing.T) {
	tc := newTestCluster(t)
	c := tc.client

	_, err := c.RegisterNode(&api.RegisterRequest{ID: "dn-3"})
	require.NoError(t, err)
	_, err = c.ReportReplica(types.Replica{ContainerID: 2, NodeID: "dn-3", Index: 4})
	require.NoError(t, err)
	tc.ledger.ScheduleDeleteReplica(2, "dn-3", 4, "cmd-9", time.Time{})

	completed, err := c.ReportDeletedReplica(types.Replica{ContainerID: 2, NodeID: "dn-3", Index: 4})
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Empty(t, tc.containers.replicas)
}

func TestNodeStateAndContainers(t *testing.T) {
	tc := newTestCluster(t)
	c := tc.client

	_, err := c.RegisterNode(&api.RegisterRequest{ID: "dn-1"})
	require.NoError(t, err)

	require.NoError(t, c.SetNodeState("dn-1", types.NodeInMaintenance))
	st, err := tc.registry.NodeStatus("dn-1")
	require.NoError(t, err)
	assert.True(t, st.IsMaintenance())

	err = c.SetNodeState("dn-1", "retired")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	container, err := c.CreateContainer(&api.CreateContainerRequest{ID: 11, Replication: "ratis-3", UsedBytes: 1 << 30})
	require.NoError(t, err)
	assert.Equal(t, types.RatisConfig(3), container.ReplicationConfig)
	assert.Equal(t, types.ContainerClosed, container.State)
	assert.Contains(t, tc.containers.containers, uint64(11))
}

func TestHeartbeatUnknownNode(t *testing.T) {
	tc := newTestCluster(t)

	_, err := tc.client.Heartbeat("dn-9", 0)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
