package replication

import (
	"testing"

	"github.com/cuemby/strata/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		ec        bool
		replicas  func(c *cluster) []*types.Replica
		satisfied bool
		want      Health
	}{
		{
			name: "ec healthy",
			ec:   true,
			replicas: func(c *cluster) []*types.Replica {
				return c.ecReplicas(inService, inService, inService, inService, inService)
			},
			satisfied: true,
			want:      HealthReplicated,
		},
		{
			name: "ec mis-replicated",
			ec:   true,
			replicas: func(c *cluster) []*types.Replica {
				return c.ecReplicas(inService, inService, inService, inService, inService)
			},
			want: HealthMisReplicated,
		},
		{
			name: "ec missing index",
			ec:   true,
			replicas: func(c *cluster) []*types.Replica {
				return c.ecReplicas(inService, inService, inService, inService)
			},
			want: HealthUnderReplicated,
		},
		{
			name: "ec duplicate index",
			ec:   true,
			replicas: func(c *cluster) []*types.Replica {
				replicas := c.ecReplicas(inService, inService, inService, inService, inService)
				return append(replicas, c.replica("dn-6", 2, inService))
			},
			want: HealthOverReplicated,
		},
		{
			name: "ratis mis-replicated",
			replicas: func(c *cluster) []*types.Replica {
				return c.ratisReplicas(inService, inService, inService)
			},
			want: HealthMisReplicated,
		},
		{
			name: "ratis extra copy",
			replicas: func(c *cluster) []*types.Replica {
				return c.ratisReplicas(inService, inService, inService, inService)
			},
			want: HealthOverReplicated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCluster()
			c.policy.satisfied = tt.satisfied

			handler, container := c.ratisHandler(), ratisContainer()
			if tt.ec {
				handler, container = c.ecHandler(), ecContainer()
			}

			health, err := handler.Check(container, tt.replicas(c), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, health)
			assert.Empty(t, c.dispatcher.attempts)
		})
	}
}

func TestCheckUnknownNode(t *testing.T) {
	c := newCluster()
	replicas := c.ratisReplicas(inService, inService, inService)
	replicas[1].NodeID = "gone"

	_, err := c.ratisHandler().Check(ratisContainer(), replicas, nil)
	assert.ErrorIs(t, err, types.ErrNodeNotFound)
}
