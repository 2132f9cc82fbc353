package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/strata/pkg/metrics"
)

// CommandType identifies what a datanode is asked to do
type CommandType string

const (
	CommandReplicateContainer CommandType = "replicate_container"
)

// Command is an instruction queued for a datanode
type Command struct {
	ID           string
	Type         CommandType
	ContainerID  uint64
	Source       string // Node that holds the data
	Target       string // Node that receives the copy
	ReplicaIndex int
	// Push commands go to the source, which writes to the target. Pull
	// commands go to the target, which reads from the source.
	Push      bool
	CreatedAt time.Time
	Deadline  time.Time
}

func (c *Command) String() string {
	return fmt.Sprintf("%s{id=%s container=%d %s->%s index=%d}",
		c.Type, c.ID, c.ContainerID, c.Source, c.Target, c.ReplicaIndex)
}

// CommandQueue holds commands per datanode. A command is queued until the
// node drains it with a heartbeat and in flight until it is completed. Both
// count toward the load of the command's source node.
type CommandQueue struct {
	mu         sync.Mutex
	queued     map[string][]*Command
	inflight   map[string]*Command
	sourceLoad map[string]int
}

// NewCommandQueue creates an empty queue
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{
		queued:     make(map[string][]*Command),
		inflight:   make(map[string]*Command),
		sourceLoad: make(map[string]int),
	}
}

// Add queues cmd for delivery to nodeID
func (q *CommandQueue) Add(nodeID string, cmd *Command) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queued[nodeID] = append(q.queued[nodeID], cmd)
	q.sourceLoad[cmd.Source]++
	metrics.QueuedCommands.Inc()
}

// TryAdd queues cmd for recipient unless the command's source already has
// limit or more commands. It returns the source load seen under the lock.
func (q *CommandQueue) TryAdd(recipient string, cmd *Command, limit int) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	load := q.sourceLoad[cmd.Source]
	if load >= limit {
		return load, false
	}
	q.queued[recipient] = append(q.queued[recipient], cmd)
	q.sourceLoad[cmd.Source] = load + 1
	metrics.QueuedCommands.Inc()
	return load + 1, true
}

// SourceLoad returns the number of queued and in-flight commands reading
// from nodeID
func (q *CommandQueue) SourceLoad(nodeID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sourceLoad[nodeID]
}

// Count returns the number of commands of the given type waiting for nodeID
func (q *CommandQueue) Count(nodeID string, cmdType CommandType) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, cmd := range q.queued[nodeID] {
		if cmd.Type == cmdType {
			count++
		}
	}
	return count
}

// Drain hands every queued command for nodeID over, oldest first, and marks
// them in flight
func (q *CommandQueue) Drain(nodeID string) []*Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmds := q.queued[nodeID]
	delete(q.queued, nodeID)
	for _, cmd := range cmds {
		q.inflight[cmd.ID] = cmd
	}
	return cmds
}

// Complete drops a command, queued or in flight. It reports whether the
// command was known.
func (q *CommandQueue) Complete(cmdID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cmd, ok := q.inflight[cmdID]; ok {
		delete(q.inflight, cmdID)
		q.release(cmd)
		return true
	}
	for nodeID, cmds := range q.queued {
		for i, cmd := range cmds {
			if cmd.ID != cmdID {
				continue
			}
			cmds = append(cmds[:i], cmds[i+1:]...)
			if len(cmds) == 0 {
				delete(q.queued, nodeID)
			} else {
				q.queued[nodeID] = cmds
			}
			q.release(cmd)
			return true
		}
	}
	return false
}

// ExpireBefore drops commands whose deadline passed and returns them
func (q *CommandQueue) ExpireBefore(now time.Time) []*Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []*Command
	for id, cmd := range q.inflight {
		if !cmd.Deadline.IsZero() && !cmd.Deadline.After(now) {
			delete(q.inflight, id)
			q.release(cmd)
			expired = append(expired, cmd)
		}
	}
	for nodeID, cmds := range q.queued {
		kept := cmds[:0]
		for _, cmd := range cmds {
			if !cmd.Deadline.IsZero() && !cmd.Deadline.After(now) {
				q.release(cmd)
				expired = append(expired, cmd)
				continue
			}
			kept = append(kept, cmd)
		}
		if len(kept) == 0 {
			delete(q.queued, nodeID)
		} else {
			q.queued[nodeID] = kept
		}
	}
	return expired
}

// Len returns the number of queued and in-flight commands
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.inflight)
	for _, cmds := range q.queued {
		n += len(cmds)
	}
	return n
}

func (q *CommandQueue) release(cmd *Command) {
	q.sourceLoad[cmd.Source]--
	if q.sourceLoad[cmd.Source] <= 0 {
		delete(q.sourceLoad, cmd.Source)
	}
	metrics.QueuedCommands.Dec()
}
