package nodestate

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/strata/pkg/events"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/types"
	"github.com/rs/zerolog"
)

const (
	DefaultStaleInterval = 30 * time.Second
	DefaultDeadInterval  = 2 * time.Minute
)

// Config holds heartbeat thresholds
type Config struct {
	StaleInterval time.Duration
	DeadInterval  time.Duration
}

// Persister stores node membership. Heartbeats are not persisted.
type Persister interface {
	SaveNode(node *types.Node) error
	DeleteNode(id string) error
}

// Registry tracks datanodes, their operational state and their heartbeat
// health. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	nodes     map[string]*types.Node
	cfg       Config
	publisher events.Publisher
	persister Persister
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRegistry creates an empty registry. persister may be nil.
func NewRegistry(cfg Config, publisher events.Publisher, persister Persister) *Registry {
	if cfg.StaleInterval <= 0 {
		cfg.StaleInterval = DefaultStaleInterval
	}
	if cfg.DeadInterval <= cfg.StaleInterval {
		cfg.DeadInterval = max(DefaultDeadInterval, 2*cfg.StaleInterval)
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Registry{
		nodes:     make(map[string]*types.Node),
		cfg:       cfg,
		publisher: publisher,
		persister: persister,
		now:       time.Now,
		logger:    log.WithComponent("nodestate"),
	}
}

func cloneNode(n *types.Node) *types.Node {
	c := *n
	c.Labels = maps.Clone(n.Labels)
	return &c
}

func notFound(id string) error {
	return fmt.Errorf("node %s: %w", id, types.ErrNodeNotFound)
}

// Load seeds the registry with persisted nodes. Their heartbeat clock starts
// now so a restarted manager does not declare the whole cluster dead.
func (r *Registry) Load(nodes []*types.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, n := range nodes {
		c := cloneNode(n)
		c.LastHeartbeat = now
		r.nodes[c.ID] = c
	}
}

// Register adds a node or updates the address and topology of a known one.
// A new node starts in service and healthy unless a status is given.
func (r *Registry) Register(node *types.Node) error {
	if strings.TrimSpace(node.ID) == "" {
		return fmt.Errorf("node ID is required")
	}

	r.mu.Lock()
	now := r.now()
	existing, ok := r.nodes[node.ID]
	c := cloneNode(node)
	c.LastHeartbeat = now
	if ok {
		c.CreatedAt = existing.CreatedAt
		if c.Status.OperationalState == "" {
			c.Status = existing.Status
		}
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Status.OperationalState == "" {
		c.Status.OperationalState = types.NodeInService
	}
	c.Status.Health = types.NodeHealthy
	r.nodes[c.ID] = c
	saved := cloneNode(c)
	r.mu.Unlock()

	if err := r.persist(saved); err != nil {
		return err
	}

	r.logger.Info().
		Str("node_id", saved.ID).
		Str("location", saved.NetworkLocation()).
		Msg("Node registered")
	r.publisher.Publish(events.NewEvent(events.EventNodeRegistered,
		fmt.Sprintf("node %s registered", saved.ID),
		map[string]string{"node_id": saved.ID, "location": saved.NetworkLocation()}))
	return nil
}

// Heartbeat records that a node is alive and reports its used space
func (r *Registry) Heartbeat(id string, used uint64) error {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return notFound(id)
	}
	n.LastHeartbeat = r.now()
	n.Used = used
	recovered := n.Status.Health == types.NodeStale || n.Status.Health == types.NodeDead
	if recovered {
		n.Status.Health = types.NodeHealthy
	}
	r.mu.Unlock()

	if recovered {
		r.logger.Info().Str("node_id", id).Msg("Node healthy again")
		r.publisher.Publish(events.NewEvent(events.EventNodeHealthy,
			fmt.Sprintf("node %s is healthy", id), map[string]string{"node_id": id}))
	}
	return nil
}

// SetReadOnly marks a healthy node as read-only or back to healthy
func (r *Registry) SetReadOnly(id string, readOnly bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return notFound(id)
	}
	switch {
	case readOnly && n.Status.Health == types.NodeHealthy:
		n.Status.Health = types.NodeHealthyReadOnly
	case !readOnly && n.Status.Health == types.NodeHealthyReadOnly:
		n.Status.Health = types.NodeHealthy
	}
	return nil
}

// SetOperationalState moves a node into or out of maintenance or
// decommissioning
func (r *Registry) SetOperationalState(id string, state types.NodeOperationalState) error {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return notFound(id)
	}
	previous := n.Status.OperationalState
	n.Status.OperationalState = state
	saved := cloneNode(n)
	r.mu.Unlock()

	if previous == state {
		return nil
	}
	if err := r.persist(saved); err != nil {
		return err
	}

	r.logger.Info().
		Str("node_id", id).
		Str("from", string(previous)).
		Str("to", string(state)).
		Msg("Node operational state changed")
	r.publisher.Publish(events.NewEvent(events.EventNodeStateChanged,
		fmt.Sprintf("node %s is %s", id, state),
		map[string]string{"node_id": id, "from": string(previous), "to": string(state)}))
	return nil
}

// Remove forgets a node
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	if _, ok := r.nodes[id]; !ok {
		r.mu.Unlock()
		return notFound(id)
	}
	delete(r.nodes, id)
	r.mu.Unlock()

	if r.persister != nil {
		if err := r.persister.DeleteNode(id); err != nil {
			return fmt.Errorf("failed to delete node %s: %w", id, err)
		}
	}

	r.logger.Info().Str("node_id", id).Msg("Node removed")
	r.publisher.Publish(events.NewEvent(events.EventNodeRemoved,
		fmt.Sprintf("node %s removed", id), map[string]string{"node_id": id}))
	return nil
}

// NodeStatus returns the operational state and health of a node
func (r *Registry) NodeStatus(id string) (types.NodeStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[id]
	if !ok {
		return types.NodeStatus{}, notFound(id)
	}
	return n.Status, nil
}

// GetNode returns a copy of a node
func (r *Registry) GetNode(id string) (*types.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneNode(n), nil
}

// ListNodes returns copies of all nodes ordered by ID
func (r *Registry) ListNodes() []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Node, 0, len(r.nodes))
	for _, id := range slices.Sorted(maps.Keys(r.nodes)) {
		out = append(out, cloneNode(r.nodes[id]))
	}
	return out
}

// Tick updates node health from heartbeat age and returns the number of
// nodes whose health changed
func (r *Registry) Tick(now time.Time) int {
	type transition struct {
		id     string
		health types.NodeHealth
		since  time.Duration
	}

	r.mu.Lock()
	var changed []transition
	for _, id := range slices.Sorted(maps.Keys(r.nodes)) {
		n := r.nodes[id]
		since := now.Sub(n.LastHeartbeat)

		var health types.NodeHealth
		switch {
		case since > r.cfg.DeadInterval:
			health = types.NodeDead
		case since > r.cfg.StaleInterval:
			health = types.NodeStale
		default:
			continue
		}
		if n.Status.Health == health {
			continue
		}
		n.Status.Health = health
		changed = append(changed, transition{id: id, health: health, since: since})
	}
	counts := make(map[types.NodeStatus]int)
	for _, n := range r.nodes {
		counts[n.Status]++
	}
	r.mu.Unlock()

	metrics.NodesTotal.Reset()
	for status, count := range counts {
		metrics.NodesTotal.WithLabelValues(string(status.OperationalState), string(status.Health)).Set(float64(count))
	}

	for _, tr := range changed {
		eventType := events.EventNodeStale
		if tr.health == types.NodeDead {
			eventType = events.EventNodeDead
		}
		r.logger.Warn().
			Str("node_id", tr.id).
			Dur("since_heartbeat", tr.since).
			Str("health", string(tr.health)).
			Msg("Node missed heartbeats")
		r.publisher.Publish(events.NewEvent(eventType,
			fmt.Sprintf("node %s is %s (no heartbeat for %v)", tr.id, tr.health, tr.since.Round(time.Second)),
			map[string]string{"node_id": tr.id}))
	}
	return len(changed)
}

func (r *Registry) persist(n *types.Node) error {
	if r.persister == nil {
		return nil
	}
	if err := r.persister.SaveNode(n); err != nil {
		return fmt.Errorf("failed to save node %s: %w", n.ID, err)
	}
	return nil
}
