package reconciler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/strata/pkg/dispatch"
	"github.com/cuemby/strata/pkg/events"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/replication"
	"github.com/cuemby/strata/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval       = 10 * time.Second
	DefaultParallelism    = 8
	DefaultBackoffInitial = 5 * time.Second
	DefaultBackoffMax     = 5 * time.Minute
)

// Results counted in strata_misreplication_results_total
const (
	ResultSent                = "sent"
	ResultNoop                = "noop"
	ResultInsufficientTargets = "insufficient_targets"
	ResultOverloaded          = "overloaded"
	ResultNodeNotFound        = "node_not_found"
	ResultUnsatisfiable       = "unsatisfiable"
	ResultFailed              = "failed"
)

// Store lists the containers and replicas to reconcile
type Store interface {
	ListContainers() ([]*types.Container, error)
	ListReplicas(containerID uint64) ([]*types.Replica, error)
}

// NodeTicker advances heartbeat based node health
type NodeTicker interface {
	Tick(now time.Time) int
}

// PendingOps is the pending operation ledger
type PendingOps interface {
	GetPendingOps(containerID uint64) []*types.PendingOp
	RemoveExpiredEntries(now time.Time) []*types.PendingOp
}

// CommandExpirer drops datanode commands past their deadline
type CommandExpirer interface {
	ExpireBefore(now time.Time) []*dispatch.Command
}

// Handler classifies and fixes one container
type Handler interface {
	Check(container *types.Container, replicas []*types.Replica, pendingOps []*types.PendingOp) (replication.Health, error)
	Handle(container *types.Container, replicas []*types.Replica, pendingOps []*types.PendingOp) (int, error)
}

// Config holds reconciler settings
type Config struct {
	Interval       time.Duration
	Parallelism    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Deps are the collaborators of the reconciler. Leader, Nodes, Commands and
// Publisher are optional.
type Deps struct {
	Store     Store
	Pending   PendingOps
	Ratis     Handler
	EC        Handler
	Leader    dispatch.LeaderChecker
	Nodes     NodeTicker
	Commands  CommandExpirer
	Publisher events.Publisher
}

// CycleResult summarizes one reconciliation cycle
type CycleResult struct {
	Checked  int
	Deferred int
	Sent     int
	Health   map[replication.Health]int
	Results  map[string]int
	Expired  int
}

type retryState struct {
	backoff *backoff.ExponentialBackOff
	next    time.Time
}

// Reconciler periodically finds mis-replicated containers and hands them to
// the replication handlers
type Reconciler struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	retries map[uint64]*retryState

	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
	logger  zerolog.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(cfg Config, deps Deps) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = DefaultBackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = max(DefaultBackoffMax, cfg.BackoffInitial)
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Discard{}
	}
	return &Reconciler{
		cfg:     cfg,
		deps:    deps,
		retries: make(map[uint64]*retryState),
		now:     time.Now,
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-r.stopCh
		cancel()
	}()
	go r.run(ctx)
}

// Stop stops the reconciler. Containers already being handled finish.
func (r *Reconciler) Stop() {
	r.stopped.Do(func() { close(r.stopCh) })
}

// run is the main reconciliation loop
func (r *Reconciler) run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error().Err(err).Msg("Reconciliation cycle failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// RunOnce performs one reconciliation cycle. Cancelling ctx stops new
// containers from being scheduled; handlers already running complete.
func (r *Reconciler) RunOnce(ctx context.Context) (*CycleResult, error) {
	if r.deps.Leader != nil && !r.deps.Leader.IsLeader() {
		r.logger.Debug().Msg("Not the leader, skipping cycle")
		metrics.UpdateComponent(metrics.ComponentReconciler, true, "standby")
		return &CycleResult{}, nil
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	now := r.now()
	result := &CycleResult{
		Health:  make(map[replication.Health]int),
		Results: make(map[string]int),
	}

	result.Expired = len(r.deps.Pending.RemoveExpiredEntries(now))
	if r.deps.Nodes != nil {
		r.deps.Nodes.Tick(now)
	}
	if r.deps.Commands != nil {
		if expired := r.deps.Commands.ExpireBefore(now); len(expired) > 0 {
			r.logger.Warn().Int("count", len(expired)).Msg("Dropped expired datanode commands")
		}
	}

	containers, err := r.deps.Store.ListContainers()
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentReconciler, false, err.Error())
		return nil, err
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Parallelism)

	for _, container := range containers {
		if container.State != types.ContainerClosed && container.State != types.ContainerQuasiClosed {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if r.deferred(container.ID, now) {
			result.Deferred++
			continue
		}

		g.Go(func() error {
			health, sent, outcome := r.reconcileContainer(container, now)

			mu.Lock()
			defer mu.Unlock()
			result.Checked++
			result.Sent += sent
			if health != "" {
				result.Health[health]++
			}
			if outcome != "" {
				result.Results[outcome]++
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, h := range replication.Healths {
		metrics.ContainerHealthTotal.WithLabelValues(string(h)).Set(float64(result.Health[h]))
	}
	metrics.UpdateComponent(metrics.ComponentReconciler, true, "")

	r.logger.Debug().
		Int("checked", result.Checked).
		Int("deferred", result.Deferred).
		Int("sent", result.Sent).
		Int("expired_ops", result.Expired).
		Dur("duration", timer.Duration()).
		Msg("Reconciliation cycle complete")

	return result, ctx.Err()
}

func (r *Reconciler) handlerFor(container *types.Container) Handler {
	if container.ReplicationConfig.IsEC() {
		return r.deps.EC
	}
	return r.deps.Ratis
}

// reconcileContainer checks one container and fixes it if mis-replicated.
// The outcome is empty when the container needed no handling.
func (r *Reconciler) reconcileContainer(container *types.Container, now time.Time) (replication.Health, int, string) {
	logger := r.logger.With().Uint64("container_id", container.ID).Logger()

	replicas, err := r.deps.Store.ListReplicas(container.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list replicas")
		return "", 0, r.count(ResultFailed)
	}
	pending := r.deps.Pending.GetPendingOps(container.ID)
	handler := r.handlerFor(container)

	health, err := handler.Check(container, replicas, pending)
	if err != nil {
		return "", 0, r.handleError(logger, container.ID, now, 0, err)
	}
	if health != replication.HealthMisReplicated {
		r.clearRetry(container.ID)
		return health, 0, ""
	}

	r.deps.Publisher.Publish(events.NewEvent(events.EventContainerMisReplicated,
		"container "+container.String()+" is mis-replicated",
		map[string]string{
			"container_id": strconv.FormatUint(container.ID, 10),
			"replication":  container.ReplicationConfig.String(),
		}))

	sent, err := handler.Handle(container, replicas, pending)
	if err != nil {
		return health, sent, r.handleError(logger, container.ID, now, sent, err)
	}

	r.clearRetry(container.ID)
	if sent == 0 {
		return health, 0, r.count(ResultNoop)
	}
	logger.Info().Int("sent", sent).Msg("Sent replication commands to fix placement")
	return health, sent, r.count(ResultSent)
}

// handleError logs a handler error and counts one outcome for it, the last
// matching condition. Overload and vanished nodes are transient, so the
// container is retried after a backoff.
func (r *Reconciler) handleError(logger zerolog.Logger, containerID uint64, now time.Time, sent int, err error) string {
	var insufficient *replication.InsufficientTargetsError
	outcome := ""

	if errors.As(err, &insufficient) {
		logger.Warn().
			Int("required", insufficient.Required).
			Int("found", insufficient.Found).
			Int("sent", sent).
			Msg("Not enough targets to fix placement")
		outcome = ResultInsufficientTargets
	}

	switch {
	case errors.Is(err, types.ErrCommandTargetOverloaded):
		delay := r.deferRetry(containerID, now)
		logger.Warn().Err(err).Int("sent", sent).Dur("retry_in", delay).Msg("Sources overloaded, deferring container")
		outcome = ResultOverloaded
	case errors.Is(err, types.ErrNodeNotFound):
		delay := r.deferRetry(containerID, now)
		logger.Warn().Err(err).Dur("retry_in", delay).Msg("Replica node vanished, deferring container")
		outcome = ResultNodeNotFound
	case errors.Is(err, replication.ErrPolicyUnsatisfiable):
		logger.Error().Err(err).Msg("Placement policy cannot be satisfied")
		outcome = ResultUnsatisfiable
	case outcome == "":
		logger.Error().Err(err).Int("sent", sent).Msg("Failed to handle mis-replicated container")
		outcome = ResultFailed
	}
	return r.count(outcome)
}

func (r *Reconciler) count(outcome string) string {
	metrics.MisReplicationResultsTotal.WithLabelValues(outcome).Inc()
	return outcome
}

func (r *Reconciler) deferred(containerID uint64, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.retries[containerID]
	return ok && now.Before(state.next)
}

func (r *Reconciler) deferRetry(containerID uint64, now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.retries[containerID]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = r.cfg.BackoffInitial
		b.MaxInterval = r.cfg.BackoffMax
		b.MaxElapsedTime = 0
		b.Reset()
		state = &retryState{backoff: b}
		r.retries[containerID] = state
	}

	delay := state.backoff.NextBackOff()
	state.next = now.Add(delay)
	return delay
}

func (r *Reconciler) clearRetry(containerID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.retries, containerID)
}

// RetryCount returns the number of containers waiting for a retry
func (r *Reconciler) RetryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retries)
}
