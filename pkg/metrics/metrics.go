package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type MetricType string

const (
	CounterVec   MetricType = "counter_vec"
	HistogramVec MetricType = "histogram_vec"
)

// HistogramBuckets are in milliseconds. HTTP handlers sit at the low end;
// planner sweeps over the whole user table and dispatcher batches with
// slow Telegram calls reach the top.
var HistogramBuckets = []float64{
	5, 10, 25, 50, 100, 250, 500,
	1000, 2500, 5000, 10000,
	30000, 60000, 120000, 300000,
}

// Metric describes one labelled collector.
type Metric struct {
	ID          string
	Name        string
	Description string
	Type        MetricType
	Args        []string
}

// NewMetric builds the collector for m. Unknown types panic at init.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case CounterVec:
		return prometheus.NewCounterVec(prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case HistogramVec:
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets}, m.Args)
	}
	panic(fmt.Sprintf("metric %s: unknown type %q", m.ID, m.Type))
}
