package replication

import (
	"fmt"

	"github.com/cuemby/strata/pkg/types"
)

// Health is the replication health of a container as seen by the
// replication manager
type Health string

const (
	HealthReplicated      Health = "healthy"
	HealthUnderReplicated Health = "under_replicated"
	HealthOverReplicated  Health = "over_replicated"
	HealthMisReplicated   Health = "mis_replicated"
)

// Healths lists every classification in reporting order
var Healths = []Health{HealthReplicated, HealthUnderReplicated, HealthOverReplicated, HealthMisReplicated}

// Check classifies a container the same way Handle does before it decides
// whether to act. Only HealthMisReplicated containers are worth handing to
// Handle.
func (h *MisReplicationHandler) Check(container *types.Container, replicas []*types.Replica, pendingOps []*types.PendingOp) (Health, error) {
	required := h.scheme.requiredNodes(container)

	state, err := buildState(h.nodes, replicas, pendingOps)
	if err != nil {
		return "", fmt.Errorf("failed to resolve replicas of container %d: %w", container.ID, err)
	}

	switch h.scheme.health(state.availableViews(), required) {
	case underReplicated:
		return HealthUnderReplicated, nil
	case overReplicated:
		return HealthOverReplicated, nil
	}

	if !h.policy.ValidateContainerPlacement(state.placementNodes(), required).IsPolicySatisfied() {
		return HealthMisReplicated, nil
	}
	return HealthReplicated, nil
}
