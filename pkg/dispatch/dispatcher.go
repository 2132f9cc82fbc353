package dispatch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/strata/pkg/events"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/replication"
	"github.com/cuemby/strata/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultReplicationLimit = 20
	DefaultCommandDeadline  = 10 * time.Minute
)

// LeaderChecker reports whether this manager may issue commands
type LeaderChecker interface {
	IsLeader() bool
}

// PendingScheduler records replica additions a command will cause
type PendingScheduler interface {
	ScheduleAddReplica(containerID uint64, target string, index int, commandID string, deadline time.Time)
}

// Config holds dispatcher settings
type Config struct {
	// ReplicationLimit is the most replicate commands a source node may
	// have queued or in flight
	ReplicationLimit int
	CommandDeadline  time.Duration
	Push             bool
}

// Dispatcher turns replication decisions into queued datanode commands
type Dispatcher struct {
	cfg       Config
	leader    LeaderChecker
	pending   PendingScheduler
	queue     *CommandQueue
	publisher events.Publisher
	now       func() time.Time
	logger    zerolog.Logger
}

var _ replication.CommandDispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. A nil leader checker means this
// manager always leads.
func NewDispatcher(cfg Config, leader LeaderChecker, pending PendingScheduler, publisher events.Publisher) *Dispatcher {
	if cfg.ReplicationLimit <= 0 {
		cfg.ReplicationLimit = DefaultReplicationLimit
	}
	if cfg.CommandDeadline <= 0 {
		cfg.CommandDeadline = DefaultCommandDeadline
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Dispatcher{
		cfg:       cfg,
		leader:    leader,
		pending:   pending,
		queue:     NewCommandQueue(),
		publisher: publisher,
		now:       time.Now,
		logger:    log.WithComponent("dispatch"),
	}
}

// Queue returns the per-node command queue
func (d *Dispatcher) Queue() *CommandQueue {
	return d.queue
}

// SendThrottledReplicationCommand queues a copy of the container from source
// to target. It fails with types.ErrCommandTargetOverloaded when source is
// at its replication limit and with types.ErrNotLeader on a follower.
func (d *Dispatcher) SendThrottledReplicationCommand(container *types.Container, source, target *types.Node, replicaIndex int) error {
	if d.leader != nil && !d.leader.IsLeader() {
		return fmt.Errorf("cannot send replication command for container %d: %w", container.ID, types.ErrNotLeader)
	}

	now := d.now()
	cmd := &Command{
		ID:           uuid.New().String(),
		Type:         CommandReplicateContainer,
		ContainerID:  container.ID,
		Source:       source.ID,
		Target:       target.ID,
		ReplicaIndex: replicaIndex,
		Push:         d.cfg.Push,
		CreatedAt:    now,
		Deadline:     now.Add(d.cfg.CommandDeadline),
	}

	recipient := target.ID
	if cmd.Push {
		recipient = source.ID
	}
	if load, ok := d.queue.TryAdd(recipient, cmd, d.cfg.ReplicationLimit); !ok {
		metrics.ReplicationCommandsThrottled.Inc()
		d.logger.Debug().
			Str("source", source.ID).
			Int("load", load).
			Int("limit", d.cfg.ReplicationLimit).
			Msg("Source over replication limit")
		d.publisher.Publish(events.NewEvent(events.EventReplicationOverloaded,
			fmt.Sprintf("node %s has %d replication commands", source.ID, load),
			map[string]string{"node_id": source.ID, "container_id": strconv.FormatUint(container.ID, 10)}))
		return fmt.Errorf("node %s has %d of %d replication commands: %w",
			source.ID, load, d.cfg.ReplicationLimit, types.ErrCommandTargetOverloaded)
	}
	if d.pending != nil {
		d.pending.ScheduleAddReplica(container.ID, target.ID, replicaIndex, cmd.ID, cmd.Deadline)
	}

	metrics.ReplicationCommandsSent.WithLabelValues(string(container.ReplicationConfig.Type)).Inc()
	d.logger.Info().
		Uint64("container_id", container.ID).
		Str("command_id", cmd.ID).
		Str("source", source.ID).
		Str("target", target.ID).
		Int("replica_index", replicaIndex).
		Bool("push", cmd.Push).
		Msg("Replication command queued")
	d.publisher.Publish(events.NewEvent(events.EventReplicationCommandSent,
		cmd.String(),
		map[string]string{
			"command_id":    cmd.ID,
			"container_id":  strconv.FormatUint(container.ID, 10),
			"source":        source.ID,
			"target":        target.ID,
			"replica_index": strconv.Itoa(replicaIndex),
		}))
	return nil
}
