package pendingops

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/strata/pkg/events"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/types"
	"github.com/google/btree"
	"github.com/rs/zerolog"
)

// DefaultExpiry is used for operations scheduled without a deadline
const DefaultExpiry = 10 * time.Minute

type entry struct {
	op  types.PendingOp
	seq uint64
}

func byDeadline(a, b *entry) bool {
	if !a.op.Deadline.Equal(b.op.Deadline) {
		return a.op.Deadline.Before(b.op.Deadline)
	}
	return a.seq < b.seq
}

// Ledger records replica additions and deletions that have been commanded
// but not yet confirmed by a datanode report. It is safe for concurrent use.
type Ledger struct {
	mu          sync.Mutex
	byContainer map[uint64][]*entry
	deadlines   *btree.BTreeG[*entry]
	seq         uint64
	expiry      time.Duration
	publisher   events.Publisher
	now         func() time.Time
	logger      zerolog.Logger
}

// NewLedger creates an empty ledger
func NewLedger(expiry time.Duration, publisher events.Publisher) *Ledger {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Ledger{
		byContainer: make(map[uint64][]*entry),
		deadlines:   btree.NewG(16, byDeadline),
		expiry:      expiry,
		publisher:   publisher,
		now:         time.Now,
		logger:      log.WithComponent("pendingops"),
	}
}

// ScheduleAddReplica records that a replica with the given index is being
// created on target. A zero deadline means now plus the ledger expiry.
func (l *Ledger) ScheduleAddReplica(containerID uint64, target string, index int, commandID string, deadline time.Time) {
	l.schedule(types.PendingAdd, containerID, target, index, commandID, deadline)
}

// ScheduleDeleteReplica records that the replica on target is being removed
func (l *Ledger) ScheduleDeleteReplica(containerID uint64, target string, index int, commandID string, deadline time.Time) {
	l.schedule(types.PendingDelete, containerID, target, index, commandID, deadline)
}

func (l *Ledger) schedule(opType types.PendingOpType, containerID uint64, target string, index int, commandID string, deadline time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if deadline.IsZero() {
		deadline = now.Add(l.expiry)
	}

	// Rescheduling the same op only moves its deadline
	l.removeLocked(opType, containerID, target, index)

	l.seq++
	e := &entry{
		op: types.PendingOp{
			Type:         opType,
			ContainerID:  containerID,
			Target:       target,
			ReplicaIndex: index,
			CommandID:    commandID,
			ScheduledAt:  now,
			Deadline:     deadline,
		},
		seq: l.seq,
	}
	l.byContainer[containerID] = append(l.byContainer[containerID], e)
	l.deadlines.ReplaceOrInsert(e)
	metrics.PendingOpsScheduled.WithLabelValues(string(opType)).Inc()

	l.logger.Debug().
		Uint64("container_id", containerID).
		Str("type", string(opType)).
		Str("target", target).
		Int("replica_index", index).
		Time("deadline", deadline).
		Msg("Pending op scheduled")
}

// CompleteAddReplica removes a pending add. It reports whether one existed.
func (l *Ledger) CompleteAddReplica(containerID uint64, target string, index int) bool {
	return l.complete(types.PendingAdd, containerID, target, index)
}

// CompleteDeleteReplica removes a pending delete. It reports whether one existed.
func (l *Ledger) CompleteDeleteReplica(containerID uint64, target string, index int) bool {
	return l.complete(types.PendingDelete, containerID, target, index)
}

func (l *Ledger) complete(opType types.PendingOpType, containerID uint64, target string, index int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.removeLocked(opType, containerID, target, index) {
		return false
	}
	metrics.PendingOpsCompleted.WithLabelValues(string(opType)).Inc()
	return true
}

func (l *Ledger) removeLocked(opType types.PendingOpType, containerID uint64, target string, index int) bool {
	entries := l.byContainer[containerID]
	for i, e := range entries {
		if e.op.Type != opType || e.op.Target != target || e.op.ReplicaIndex != index {
			continue
		}
		l.deadlines.Delete(e)
		entries = append(entries[:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(l.byContainer, containerID)
		} else {
			l.byContainer[containerID] = entries
		}
		return true
	}
	return false
}

// GetPendingOps returns copies of the pending ops of a container in the
// order they were scheduled
func (l *Ledger) GetPendingOps(containerID uint64) []*types.PendingOp {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.byContainer[containerID]
	ops := make([]*types.PendingOp, 0, len(entries))
	for _, e := range entries {
		op := e.op
		ops = append(ops, &op)
	}
	return ops
}

// PendingOpCount returns the number of pending ops of the given type
func (l *Ledger) PendingOpCount(opType types.PendingOpType) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	l.deadlines.Ascend(func(e *entry) bool {
		if e.op.Type == opType {
			count++
		}
		return true
	})
	return count
}

// Len returns the number of pending ops
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deadlines.Len()
}

// RemoveExpiredEntries drops every op whose deadline is not after now and
// returns them, earliest deadline first
func (l *Ledger) RemoveExpiredEntries(now time.Time) []*types.PendingOp {
	l.mu.Lock()
	var expired []*entry
	l.deadlines.Ascend(func(e *entry) bool {
		if e.op.Deadline.After(now) {
			return false
		}
		expired = append(expired, e)
		return true
	})
	ops := make([]*types.PendingOp, 0, len(expired))
	for _, e := range expired {
		l.removeLocked(e.op.Type, e.op.ContainerID, e.op.Target, e.op.ReplicaIndex)
		op := e.op
		ops = append(ops, &op)
	}
	l.mu.Unlock()

	for _, op := range ops {
		metrics.PendingOpsExpired.WithLabelValues(string(op.Type)).Inc()
		l.logger.Warn().
			Uint64("container_id", op.ContainerID).
			Str("type", string(op.Type)).
			Str("target", op.Target).
			Int("replica_index", op.ReplicaIndex).
			Str("command_id", op.CommandID).
			Msg("Pending op expired")
		l.publisher.Publish(events.NewEvent(events.EventPendingOpExpired,
			fmt.Sprintf("%s of container %d on %s expired", op.Type, op.ContainerID, op.Target),
			map[string]string{
				"container_id":  strconv.FormatUint(op.ContainerID, 10),
				"type":          string(op.Type),
				"target":        op.Target,
				"replica_index": strconv.Itoa(op.ReplicaIndex),
				"command_id":    op.CommandID,
			}))
	}
	return ops
}
