package replication

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultContainerSize is the space reserved on a target for a copied
// container whose reported usage is smaller
const DefaultContainerSize uint64 = 5 << 30

// Config holds handler settings
type Config struct {
	// ContainerSize is the minimum data size passed to ChooseDatanodes
	ContainerSize uint64
}

// MisReplicationHandler issues copy commands for containers that have the
// right number of replicas in the wrong places. It holds no state between
// calls and is safe for concurrent use.
type MisReplicationHandler struct {
	scheme        scheme
	policy        PlacementPolicy
	nodes         NodeStatusProvider
	dispatcher    CommandDispatcher
	metrics       Metrics
	containerSize uint64
	logger        zerolog.Logger
}

// NewRatisMisReplicationHandler creates a handler for ratis containers
func NewRatisMisReplicationHandler(policy PlacementPolicy, nodes NodeStatusProvider, dispatcher CommandDispatcher, metrics Metrics, cfg Config) *MisReplicationHandler {
	return newHandler(ratisScheme{}, policy, nodes, dispatcher, metrics, cfg)
}

// NewECMisReplicationHandler creates a handler for erasure coded containers.
// Replacements keep the replica index of the shard they replace.
func NewECMisReplicationHandler(policy PlacementPolicy, nodes NodeStatusProvider, dispatcher CommandDispatcher, metrics Metrics, cfg Config) *MisReplicationHandler {
	return newHandler(ecScheme{}, policy, nodes, dispatcher, metrics, cfg)
}

func newHandler(sc scheme, policy PlacementPolicy, nodes NodeStatusProvider, dispatcher CommandDispatcher, metrics Metrics, cfg Config) *MisReplicationHandler {
	if cfg.ContainerSize == 0 {
		cfg.ContainerSize = DefaultContainerSize
	}
	return &MisReplicationHandler{
		scheme:        sc,
		policy:        policy,
		nodes:         nodes,
		dispatcher:    dispatcher,
		metrics:       metrics,
		containerSize: cfg.ContainerSize,
		logger:        log.WithComponent("replication").With().Str("scheme", sc.name()).Logger(),
	}
}

// attemptResult is the outcome of sending one fix
type attemptResult int

const (
	attemptSent attemptResult = iota
	attemptOverloaded
)

// Handle evaluates the container and sends one copy command per replica that
// has to move. It returns the number of commands sent. The error may be
// non-nil with a positive count when only part of the work could be done:
// it then wraps an *InsufficientTargetsError, types.ErrCommandTargetOverloaded
// or both.
func (h *MisReplicationHandler) Handle(container *types.Container, replicas []*types.Replica, pendingOps []*types.PendingOp) (int, error) {
	logger := h.logger.With().Uint64("container_id", container.ID).Logger()
	required := h.scheme.requiredNodes(container)

	state, err := buildState(h.nodes, replicas, pendingOps)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve replicas of container %d: %w", container.ID, err)
	}

	if health := h.scheme.health(state.availableViews(), required); health != sufficientlyReplicated {
		logger.Debug().
			Str("health", health.String()).
			Msg("Container not handled as mis-replicated")
		return 0, nil
	}

	status := h.policy.ValidateContainerPlacement(state.placementNodes(), required)
	if status.IsPolicySatisfied() {
		logger.Debug().Msg("Placement policy satisfied")
		return 0, nil
	}

	moving := h.replicasToCopy(state, required)
	if len(moving) == 0 {
		logger.Debug().
			Int("mis_replication_count", status.MisReplicationCount()).
			Msg("No eligible replica can be copied to fix placement")
		return 0, nil
	}

	used, excluded := state.usedAndExcluded(moving)
	targets, err := h.chooseTargets(container, len(moving), used, excluded)
	if err != nil {
		logger.Error().Err(err).Int("required", len(moving)).Msg("Failed to find targets")
		return 0, err
	}

	sources := state.sources(h.scheme)
	sent, overloaded := 0, 0
	for i, target := range targets {
		fix := moving[i]
		result, err := h.sendFix(container, fix, sources, target)
		if err != nil {
			return sent, err
		}
		switch result {
		case attemptSent:
			sent++
		case attemptOverloaded:
			overloaded++
			logger.Warn().
				Str("replica", fix.replica.Key()).
				Str("target", target.ID).
				Msg("All sources overloaded")
		}
	}

	var errs []error
	if len(targets) < len(moving) {
		h.scheme.recordPartial(h.metrics)
		logger.Warn().
			Int("required", len(moving)).
			Int("found", len(targets)).
			Int("sent", sent).
			Msg("Placement only partially fixed")
		errs = append(errs, &InsufficientTargetsError{
			ContainerID: container.ID,
			Required:    len(moving),
			Found:       len(targets),
		})
	}
	if overloaded > 0 {
		errs = append(errs, fmt.Errorf("%d of %d copies of container %d not sent: %w",
			overloaded, len(targets), container.ID, types.ErrCommandTargetOverloaded))
	}

	logger.Debug().Int("sent", sent).Msg("Mis-replication handled")
	return sent, errors.Join(errs...)
}

// replicasToCopy asks the policy which replicas to move and keeps the ones
// that can serve as a source, in index then node order
func (h *MisReplicationHandler) replicasToCopy(state *effectiveState, required int) []*replicaView {
	flags, views := state.copyable(h.scheme)
	picked := h.policy.ReplicasToCopyToFixMisreplication(flags)

	seen := make(map[*types.Replica]bool, len(picked))
	var moving []*replicaView
	for _, r := range picked {
		if !flags[r] || seen[r] {
			continue
		}
		seen[r] = true
		moving = append(moving, views[r])
	}

	slices.SortFunc(moving, func(a, b *replicaView) int {
		if c := cmp.Compare(a.replica.Index, b.replica.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.replica.NodeID, b.replica.NodeID)
	})
	if len(moving) > required {
		moving = moving[:required]
	}
	return moving
}

// chooseTargets asks for count nodes and retries with one fewer on each
// failure. The returned slice may be shorter than count.
func (h *MisReplicationHandler) chooseTargets(container *types.Container, count int, used, excluded []*types.Node) ([]*types.Node, error) {
	dataSize := max(container.UsedBytes, h.containerSize)

	var lastErr error
	for n := count; n > 0; n-- {
		targets, err := h.policy.ChooseDatanodes(used, excluded, nil, n, 0, dataSize)
		if err != nil {
			lastErr = err
			h.logger.Debug().Err(err).
				Uint64("container_id", container.ID).
				Int("requested", n).
				Msg("Placement policy could not choose targets")
			continue
		}
		return dedupeTargets(targets, used, excluded, count), nil
	}
	return nil, fmt.Errorf("%w for container %d (requested %d): %w",
		ErrPolicyUnsatisfiable, container.ID, count, lastErr)
}

// dedupeTargets drops nodes that already hold or must not hold the container
func dedupeTargets(targets, used, excluded []*types.Node, limit int) []*types.Node {
	skip := make(map[string]bool, len(used)+len(excluded))
	for _, n := range used {
		skip[n.ID] = true
	}
	for _, n := range excluded {
		skip[n.ID] = true
	}

	out := make([]*types.Node, 0, len(targets))
	for _, n := range targets {
		if n == nil || skip[n.ID] || len(out) == limit {
			continue
		}
		skip[n.ID] = true
		out = append(out, n)
	}
	return out
}

// sendFix tries each source for fix in order until one accepts. Any error
// other than overload ends the whole invocation.
func (h *MisReplicationHandler) sendFix(container *types.Container, fix *replicaView, sources []*replicaView, target *types.Node) (attemptResult, error) {
	index := h.scheme.replicaIndex(fix.replica)
	for _, src := range h.scheme.sourcesFor(fix, sources) {
		err := h.dispatcher.SendThrottledReplicationCommand(container, src.node, target, index)
		if err == nil {
			h.logger.Debug().
				Uint64("container_id", container.ID).
				Str("source", src.node.ID).
				Str("target", target.ID).
				Int("replica_index", index).
				Msg("Sent replication command")
			return attemptSent, nil
		}
		if !errors.Is(err, types.ErrCommandTargetOverloaded) {
			return attemptOverloaded, fmt.Errorf("failed to send replication command for container %d: %w", container.ID, err)
		}
		h.logger.Debug().
			Uint64("container_id", container.ID).
			Str("source", src.node.ID).
			Msg("Source overloaded, trying next")
	}
	return attemptOverloaded, nil
}
