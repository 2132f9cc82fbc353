package replication

import (
	"testing"

	"github.com/cuemby/strata/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatisHandleMisReplicated(t *testing.T) {
	c := newCluster()
	replicas := c.ratisReplicas(inService, inService, inService)
	c.policy.misRep = 1

	sent, err := c.ratisHandler().Handle(ratisContainer(), replicas, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, sent)
	require.Len(t, c.dispatcher.sent, 1)
	assert.Equal(t, sentCommand{source: "dn-1", target: "spare-1", index: 0}, c.dispatcher.sent[0])
	assert.ElementsMatch(t, []string{"dn-2", "dn-3"}, nodeIDs(c.policy.used))
	assert.Equal(t, []string{"dn-1"}, nodeIDs(c.policy.excluded))
}

func TestRatisHandleFallsBackToOtherSources(t *testing.T) {
	tests := []struct {
		name       string
		overloaded []string
		source     string
		attempts   []string
	}{
		{name: "first source free", source: "dn-1", attempts: []string{"dn-1"}},
		{name: "first source overloaded", overloaded: []string{"dn-1"}, source: "dn-2", attempts: []string{"dn-1", "dn-2"}},
		{name: "two sources overloaded", overloaded: []string{"dn-1", "dn-2"}, source: "dn-3", attempts: []string{"dn-1", "dn-2", "dn-3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCluster()
			replicas := c.ratisReplicas(inService, inService, inService)
			c.policy.misRep = 1
			for _, id := range tt.overloaded {
				c.dispatcher.overloaded[id] = true
			}

			sent, err := c.ratisHandler().Handle(ratisContainer(), replicas, nil)
			require.NoError(t, err)
			assert.Equal(t, 1, sent)
			assert.Equal(t, tt.attempts, c.dispatcher.attempts)
			assert.Equal(t, tt.source, c.dispatcher.sent[0].source)
		})
	}
}

func TestRatisHandleAllSourcesOverloaded(t *testing.T) {
	c := newCluster()
	replicas := c.ratisReplicas(inService, inService, inService)
	c.policy.misRep = 1
	for _, r := range replicas {
		c.dispatcher.overloaded[r.NodeID] = true
	}

	sent, err := c.ratisHandler().Handle(ratisContainer(), replicas, nil)
	assert.ErrorIs(t, err, types.ErrCommandTargetOverloaded)
	assert.Equal(t, 0, sent)
	assert.Len(t, c.dispatcher.attempts, 3)
}

func TestRatisHandleReplicaCount(t *testing.T) {
	tests := []struct {
		name     string
		statuses []types.NodeStatus
		pending  []*types.PendingOp
		expected int
	}{
		{name: "under replicated", statuses: []types.NodeStatus{inService, inService}, expected: 0},
		{name: "over replicated", statuses: []types.NodeStatus{inService, inService, inService, inService}, expected: 0},
		{
			name:     "pending delete makes it under replicated",
			statuses: []types.NodeStatus{inService, inService, inService},
			pending:  []*types.PendingOp{pendingDelete("dn-3", 0)},
			expected: 0,
		},
		{
			name:     "pending add completes the set",
			statuses: []types.NodeStatus{inService, inService},
			pending:  []*types.PendingOp{pendingAdd("spare-10", 0)},
			expected: 1,
		},
		{
			name:     "stale node still counts",
			statuses: []types.NodeStatus{inService, inService, types.NewNodeStatus(types.NodeInService, types.NodeStale)},
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCluster()
			replicas := c.ratisReplicas(tt.statuses...)
			c.policy.misRep = 1

			sent, err := c.ratisHandler().Handle(ratisContainer(), replicas, tt.pending)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sent)
		})
	}
}

func TestRatisHandleSourceEligibility(t *testing.T) {
	c := newCluster()
	replicas := c.ratisReplicas(inService, inService, inService)
	replicas[0].State = types.ReplicaOpen
	replicas[1].State = types.ReplicaQuasiClosed
	c.policy.misRep = 3

	sent, err := c.ratisHandler().Handle(ratisContainer(), replicas, nil)
	require.NoError(t, err)

	// An open replica is not a valid copy source
	assert.Equal(t, 2, sent)
	for _, cmd := range c.dispatcher.sent {
		assert.NotEqual(t, "dn-1", cmd.source)
	}
}

func TestRatisHandlePartialMetric(t *testing.T) {
	c := newCluster()
	replicas := c.ratisReplicas(inService, inService, inService)
	c.policy.misRep = 2
	c.policy.limit = 1

	sent, err := c.ratisHandler().Handle(ratisContainer(), replicas, nil)
	assert.True(t, IsInsufficientTargets(err))
	assert.Equal(t, 1, sent)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.PartialReplicationCounter()))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.metrics.EcPartialReplicationCounter()))
}

func TestRatisHandleDropsUnusableTargets(t *testing.T) {
	c := newCluster()
	replicas := c.ratisReplicas(inService, inService, inService)
	c.policy.misRep = 1
	// A misbehaving policy offering a node that already holds the container
	c.policy.pool = []*types.Node{c.policy.pool[0]}
	c.policy.pool[0] = &types.Node{ID: "dn-2", Status: inService}

	sent, err := c.ratisHandler().Handle(ratisContainer(), replicas, nil)
	assert.Equal(t, 0, sent)

	var insufficient *InsufficientTargetsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Found)
	assert.False(t, insufficient.Partial())
}
