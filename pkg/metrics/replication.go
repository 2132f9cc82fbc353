package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReplicationMetrics holds the counters the replication handlers increment.
// It is built on an explicit Registerer so handlers under test can use a
// private registry instead of the process-wide default.
type ReplicationMetrics struct {
	partialMisReplication   prometheus.Counter
	ecPartialMisReplication prometheus.Counter
}

// NewReplicationMetrics creates the counters and registers them with reg.
// A nil reg leaves them unregistered.
func NewReplicationMetrics(reg prometheus.Registerer) *ReplicationMetrics {
	m := &ReplicationMetrics{
		partialMisReplication: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_partial_replication_for_misreplication_total",
			Help: "Ratis mis-replication fixes that found fewer target nodes than required",
		}),
		ecPartialMisReplication: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_ec_partial_replication_for_misreplication_total",
			Help: "EC mis-replication fixes that found fewer target nodes than required",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.partialMisReplication, m.ecPartialMisReplication)
	}
	return m
}

func (m *ReplicationMetrics) IncrPartialReplicationForMisReplicationTotal() {
	m.partialMisReplication.Inc()
}

func (m *ReplicationMetrics) IncrEcPartialReplicationForMisReplicationTotal() {
	m.ecPartialMisReplication.Inc()
}

// PartialReplicationCounter exposes the ratis counter for inspection
func (m *ReplicationMetrics) PartialReplicationCounter() prometheus.Counter {
	return m.partialMisReplication
}

// EcPartialReplicationCounter exposes the EC counter for inspection
func (m *ReplicationMetrics) EcPartialReplicationCounter() prometheus.Counter {
	return m.ecPartialMisReplication
}
