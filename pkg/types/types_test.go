package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredNodes(t *testing.T) {
	tests := []struct {
		name     string
		config   ReplicationConfig
		expected int
	}{
		{name: "ratis three", config: RatisConfig(3), expected: 3},
		{name: "ratis one", config: RatisConfig(1), expected: 1},
		{name: "ec 3-2", config: ECConfig(3, 2), expected: 5},
		{name: "ec 6-3", config: ECConfig(6, 3), expected: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.RequiredNodes())
		})
	}
}

func TestParseReplicationConfig(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ReplicationConfig
		wantErr bool
	}{
		{name: "ratis", input: "ratis-3", want: RatisConfig(3)},
		{name: "ec with chunk", input: "rs-6-3-1024k", want: ECConfig(6, 3)},
		{
			name:  "ec without chunk",
			input: "xor-2-1",
			want:  ReplicationConfig{Type: ReplicationEC, Data: 2, Parity: 1, Codec: "xor", ChunkSize: DefaultECChunkSize},
		},
		{name: "zero factor", input: "ratis-0", wantErr: true},
		{name: "garbage", input: "three", wantErr: true},
		{name: "bad parity", input: "rs-3-x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReplicationConfig(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplicationConfigString(t *testing.T) {
	assert.Equal(t, "ratis-3", RatisConfig(3).String())
	assert.Equal(t, "rs-3-2-1024k", ECConfig(3, 2).String())
}

func TestNodeStatusPredicates(t *testing.T) {
	inService := InServiceHealthy()
	assert.True(t, inService.IsInService())
	assert.True(t, inService.IsHealthy())
	assert.False(t, inService.IsMaintenance())

	maint := NewNodeStatus(NodeInMaintenance, NodeHealthy)
	assert.True(t, maint.IsMaintenance())
	assert.False(t, maint.IsInService())

	decom := NewNodeStatus(NodeDecommissioning, NodeHealthyReadOnly)
	assert.True(t, decom.IsDecommission())
	assert.True(t, decom.IsHealthy())

	dead := NewNodeStatus(NodeInService, NodeDead)
	assert.True(t, dead.IsDead())
	assert.False(t, dead.IsHealthy())
}

func TestNodeNetworkLocation(t *testing.T) {
	n := &Node{ID: "dn1", DataCenter: "dc1", Rack: "r1", Capacity: 100, Used: 30}
	assert.Equal(t, "dc1/r1", n.NetworkLocation())
	assert.Equal(t, uint64(70), n.Free())

	bare := &Node{ID: "dn2", Capacity: 10, Used: 20}
	assert.Equal(t, DefaultDataCenter+"/"+DefaultRack, bare.NetworkLocation())
	assert.Equal(t, uint64(0), bare.Free())
}
