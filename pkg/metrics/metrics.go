package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Client registry metrics
	ClientsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmtcp_clients_connected",
			Help: "Number of workers currently registered with the coordinator",
		},
	)

	ClientsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dmtcp_clients_by_state",
			Help: "Number of registered workers in each WorkerState",
		},
		[]string{"state"},
	)

	VirtualPidsAllocated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmtcp_virtual_pids_allocated",
			Help: "Number of virtual PIDs currently handed out",
		},
	)

	// Phase engine metrics
	CheckpointsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dmtcp_checkpoints_started_total",
			Help: "Total number of checkpoint barriers started",
		},
	)

	CheckpointsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dmtcp_checkpoints_completed_total",
			Help: "Total number of checkpoint barriers that reached REFILLED/resume",
		},
	)

	RestartsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dmtcp_restarts_started_total",
			Help: "Total number of restart bootstraps accepted",
		},
	)

	PhaseEdgeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmtcp_phase_edge_transitions_total",
			Help: "Total number of minimum-state edge transitions fired by the phase engine",
		},
		[]string{"from", "to"},
	)

	BroadcastDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dmtcp_broadcast_duration_seconds",
			Help:    "Time taken to queue a broadcast message to all connected workers",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dmtcp_checkpoint_cycle_duration_seconds",
			Help:    "Wall-clock time from DMT_DO_SUSPEND to DMT_DO_RESUME",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
	)

	Generation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmtcp_computation_generation",
			Help: "Current generation of the active ComputationId",
		},
	)

	// Admission metrics
	AdmissionsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmtcp_admissions_accepted_total",
			Help: "Accepted connections by handshake kind",
		},
		[]string{"kind"},
	)

	AdmissionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmtcp_admissions_rejected_total",
			Help: "Rejected connections by reason",
		},
		[]string{"reason"},
	)

	// Lookup service metrics
	LookupEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmtcp_lookup_entries",
			Help: "Number of key/value entries currently held by the lookup service",
		},
	)

	LookupQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmtcp_lookup_queries_total",
			Help: "Total lookup queries by outcome (hit/miss)",
		},
		[]string{"outcome"},
	)

	// Operator command metrics
	OperatorCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmtcp_operator_commands_total",
			Help: "Operator commands processed by character and error code",
		},
		[]string{"cmd", "error_code"},
	)

	// Restart-script writer metrics
	RestartScriptsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dmtcp_restart_scripts_written_total",
			Help: "Total number of restart scripts emitted",
		},
	)
)

func init() {
	prometheus.MustRegister(ClientsConnected)
	prometheus.MustRegister(ClientsByState)
	prometheus.MustRegister(VirtualPidsAllocated)
	prometheus.MustRegister(CheckpointsStarted)
	prometheus.MustRegister(CheckpointsCompleted)
	prometheus.MustRegister(RestartsStarted)
	prometheus.MustRegister(PhaseEdgeTransitions)
	prometheus.MustRegister(BroadcastDuration)
	prometheus.MustRegister(CheckpointCycleDuration)
	prometheus.MustRegister(Generation)
	prometheus.MustRegister(AdmissionsAccepted)
	prometheus.MustRegister(AdmissionsRejected)
	prometheus.MustRegister(LookupEntries)
	prometheus.MustRegister(LookupQueriesTotal)
	prometheus.MustRegister(OperatorCommandsTotal)
	prometheus.MustRegister(RestartScriptsWritten)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
