package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_nodes_total",
			Help: "Total number of datanodes by operational state and health",
		},
		[]string{"state", "health"},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_containers_total",
			Help: "Total number of containers by replication type and state",
		},
		[]string{"type", "state"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_raft_is_leader",
			Help: "Whether this manager is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_reconciliation_duration_seconds",
			Help:    "Time taken by one replication reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_reconciliation_cycles_total",
			Help: "Total number of replication reconciliation cycles",
		},
	)

	ContainerHealthTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_container_health",
			Help: "Containers by health classification in the last reconciliation cycle",
		},
		[]string{"health"},
	)

	MisReplicationResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_misreplication_results_total",
			Help: "Outcomes of mis-replication handling by result",
		},
		[]string{"result"},
	)

	// Command dispatch metrics
	ReplicationCommandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_replication_commands_sent_total",
			Help: "Total number of replicate container commands queued by replication type",
		},
		[]string{"type"},
	)

	ReplicationCommandsThrottled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_replication_commands_throttled_total",
			Help: "Total number of replicate attempts rejected because the source was overloaded",
		},
	)

	QueuedCommands = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_queued_commands",
			Help: "Commands queued for datanodes and not yet completed",
		},
	)

	// Pending operation metrics
	PendingOpsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_pending_ops_scheduled_total",
			Help: "Pending replica operations scheduled by type",
		},
		[]string{"type"},
	)

	PendingOpsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_pending_ops_completed_total",
			Help: "Pending replica operations completed by type",
		},
		[]string{"type"},
	)

	PendingOpsExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_pending_ops_expired_total",
			Help: "Pending replica operations that passed their deadline by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ContainerHealthTotal)
	prometheus.MustRegister(MisReplicationResultsTotal)
	prometheus.MustRegister(ReplicationCommandsSent)
	prometheus.MustRegister(ReplicationCommandsThrottled)
	prometheus.MustRegister(QueuedCommands)
	prometheus.MustRegister(PendingOpsScheduled)
	prometheus.MustRegister(PendingOpsCompleted)
	prometheus.MustRegister(PendingOpsExpired)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
