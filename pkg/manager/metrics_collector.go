package manager

import (
	"time"

	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/types"
)

// clusterSource is the part of the Manager the collector reads
type clusterSource interface {
	ListContainers() ([]*types.Container, error)
	IsLeader() bool
	GetRaftStats() map[string]interface{}
}

// MetricsCollector collects metrics from the manager
type MetricsCollector struct {
	source   clusterSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return newMetricsCollector(mgr)
}

func newMetricsCollector(source clusterSource) *MetricsCollector {
	return &MetricsCollector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectContainerMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectContainerMetrics() {
	containers, err := c.source.ListContainers()
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return
	}
	metrics.UpdateComponent(metrics.ComponentStore, true, "")

	type key struct {
		replication types.ReplicationType
		state       types.ContainerState
	}
	counts := make(map[key]int)
	for _, container := range containers {
		counts[key{container.ReplicationConfig.Type, container.State}]++
	}

	metrics.ContainersTotal.Reset()
	for k, count := range counts {
		metrics.ContainersTotal.WithLabelValues(string(k.replication), string(k.state)).Set(float64(count))
	}
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.source.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.source.GetRaftStats()
	if stats == nil {
		metrics.UpdateComponent(metrics.ComponentRaft, false, "raft not initialized")
		return
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		metrics.RaftAppliedIndex.Set(float64(appliedIndex))
	}

	leader, _ := stats["leader"].(string)
	if leader == "" {
		metrics.UpdateComponent(metrics.ComponentRaft, false, "no leader")
		return
	}
	metrics.UpdateComponent(metrics.ComponentRaft, true, "")
}
