package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "botoracle"

var MetricsBusinessProcess = &Metric{
	ID:          "bpDur",
	Name:        "bp_dur",
	Description: "process latency in milliseconds",
	Type:        HistogramVec,
	Args:        []string{"type", "subtype"},
}

var reconcileOutcomes = &Metric{
	ID:          "reconcileOutcomes",
	Name:        "payment_reconcile_total",
	Description: "Payment callbacks by reconcile outcome.",
	Type:        CounterVec,
	Args:        []string{"outcome"},
}

var admissions = &Metric{
	ID:          "admissions",
	Name:        "question_admission_total",
	Description: "Question admission decisions by tier.",
	Type:        CounterVec,
	Args:        []string{"tier", "allowed"},
}

var plannedTasks = &Metric{
	ID:          "plannedTasks",
	Name:        "crm_planned_total",
	Description: "CRM tasks inserted by the planner, by type.",
	Type:        CounterVec,
	Args:        []string{"type"},
}

var dispatchedTasks = &Metric{
	ID:          "dispatchedTasks",
	Name:        "crm_dispatched_total",
	Description: "CRM tasks moved to a terminal status, by type and status.",
	Type:        CounterVec,
	Args:        []string{"type", "status"},
}

var (
	bpDur              = NewMetric(MetricsBusinessProcess, subsystem).(*prometheus.HistogramVec)
	reconcileOutcomeCV = NewMetric(reconcileOutcomes, subsystem).(*prometheus.CounterVec)
	admissionCV        = NewMetric(admissions, subsystem).(*prometheus.CounterVec)
	plannedCV          = NewMetric(plannedTasks, subsystem).(*prometheus.CounterVec)
	dispatchedCV       = NewMetric(dispatchedTasks, subsystem).(*prometheus.CounterVec)
)

func init() {
	prometheus.MustRegister(bpDur, reconcileOutcomeCV, admissionCV, plannedCV, dispatchedCV)
}

// ObserveProcess records how long a business process (planner sweep,
// dispatcher sweep, reconcile) took.
func ObserveProcess(typ, subtype string, start time.Time) {
	bpDur.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
}

func IncReconcileOutcome(outcome string) {
	reconcileOutcomeCV.WithLabelValues(outcome).Inc()
}

func IncAdmission(tier string, allowed bool) {
	label := "false"
	if allowed {
		label = "true"
	}
	admissionCV.WithLabelValues(tier, label).Inc()
}

func AddPlanned(taskType string, n int) {
	if n > 0 {
		plannedCV.WithLabelValues(taskType).Add(float64(n))
	}
}

func IncDispatched(taskType, status string) {
	dispatchedCV.WithLabelValues(taskType, status).Inc()
}
