// Package metrics exposes Prometheus metrics for the controller's five
// subsystems, following the teacher's GaugeVec/CounterVec/HistogramVec +
// Record*/Observe* helper layout but registered against a plain registry
// since this controller does not use controller-runtime.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the registry metrics are registered against; exposed via
// promhttp.HandlerFor in cmd/controller.
var Registry = prometheus.NewRegistry()

var (
	// PoolPodsTotal tracks pool pod count by template and classification.
	PoolPodsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "task_controller_pool_pods_total",
			Help: "Number of pool pods by template and classification",
		},
		[]string{"template", "classification"},
	)

	// ReconciliationsTotal tracks Pool Reconciler pass outcomes.
	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_controller_reconciliations_total",
			Help: "Total number of pool reconciliation passes",
		},
		[]string{"template", "result"},
	)

	// ReconciliationDuration tracks Pool Reconciler pass latency.
	ReconciliationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_controller_reconciliation_duration_seconds",
			Help:    "Duration of pool reconciliation passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"template"},
	)

	// LeasesTotal tracks Lease Manager outcomes.
	LeasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_controller_leases_total",
			Help: "Total number of lease attempts by result",
		},
		[]string{"template", "result"},
	)

	// ReapedWorkspacesTotal tracks Reaper activity.
	ReapedWorkspacesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_controller_reaped_workspaces_total",
			Help: "Total number of workspaces released by the reaper",
		},
		[]string{"kind"},
	)

	// JobsDispatchedTotal tracks Job Dispatcher activity.
	JobsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_controller_jobs_dispatched_total",
			Help: "Total number of jobs dispatched by result",
		},
		[]string{"result"},
	)

	// TaskStatusTotal tracks Job Watcher status transitions.
	TaskStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_controller_task_status_total",
			Help: "Total number of task status transitions observed",
		},
		[]string{"status"},
	)

	// IPCRequestsTotal tracks IPC service lookups.
	IPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_controller_ipc_requests_total",
			Help: "Total number of IPC lookups by result",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		PoolPodsTotal,
		ReconciliationsTotal,
		ReconciliationDuration,
		LeasesTotal,
		ReapedWorkspacesTotal,
		JobsDispatchedTotal,
		TaskStatusTotal,
		IPCRequestsTotal,
	)
}

// RecordReconciliation records a Pool Reconciler pass outcome.
func RecordReconciliation(template, result string) {
	ReconciliationsTotal.WithLabelValues(template, result).Inc()
}

// ObserveReconciliationDuration records Pool Reconciler pass latency.
func ObserveReconciliationDuration(template string, seconds float64) {
	ReconciliationDuration.WithLabelValues(template).Observe(seconds)
}

// RecordPoolPods records the current size of a classification bucket.
func RecordPoolPods(template, classification string, count float64) {
	PoolPodsTotal.WithLabelValues(template, classification).Set(count)
}

// RecordLease records a Lease Manager outcome.
func RecordLease(template, result string) {
	LeasesTotal.WithLabelValues(template, result).Inc()
}

// RecordReaped records a Reaper release.
func RecordReaped(kind string) {
	ReapedWorkspacesTotal.WithLabelValues(kind).Inc()
}

// RecordJobDispatched records a Job Dispatcher outcome.
func RecordJobDispatched(result string) {
	JobsDispatchedTotal.WithLabelValues(result).Inc()
}

// RecordTaskStatus records a Job Watcher status transition.
func RecordTaskStatus(status string) {
	TaskStatusTotal.WithLabelValues(status).Inc()
}

// RecordIPCRequest records an IPC Service lookup outcome.
func RecordIPCRequest(result string) {
	IPCRequestsTotal.WithLabelValues(result).Inc()
}
