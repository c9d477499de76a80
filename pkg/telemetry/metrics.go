package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/logflow/waitlens/pkg/attribution"
	"github.com/logflow/waitlens/pkg/diagnostics"
	"github.com/logflow/waitlens/pkg/report"
)

// RunMetrics describes one finished run as Prometheus gauges. A batch run
// has no scrape endpoint, so the metrics are written to a node-exporter
// textfile instead.
type RunMetrics struct {
	registry *prometheus.Registry

	instances   prometheus.Gauge
	defects     prometheus.Gauge
	failedCases prometheus.Gauge
	duration    prometheus.Gauge
	waitSeconds *prometheus.GaugeVec
	transitions *prometheus.GaugeVec
	diagnostics *prometheus.GaugeVec
}

// NewRunMetrics registers the run gauges on a private registry.
func NewRunMetrics() *RunMetrics {
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waitlens_instances",
			Help: "Activity instances attributed in the last run.",
		}),
		defects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waitlens_defect_instances",
			Help: "Instances whose attribution overran their wait.",
		}),
		failedCases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waitlens_failed_cases",
			Help: "Cases dropped because their timeline could not be built.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waitlens_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		waitSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "waitlens_wait_seconds",
			Help: "Total waiting time per cause.",
		}, []string{"cause"}),
		transitions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "waitlens_transition_wait_seconds",
			Help: "Total waiting time per transition.",
		}, []string{"source", "target"}),
		diagnostics: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "waitlens_diagnostics",
			Help: "Diagnostics collected in the last run.",
		}, []string{"severity", "code"}),
	}
	m.registry.MustRegister(
		m.instances, m.defects, m.failedCases, m.duration,
		m.waitSeconds, m.transitions, m.diagnostics,
	)
	return m
}

// Observe records the outcome of a run.
func (m *RunMetrics) Observe(s report.Summary, diags []diagnostics.Diagnostic, failedCases int, took time.Duration) {
	m.instances.Set(float64(s.Instances))
	m.defects.Set(float64(s.Defects))
	m.failedCases.Set(float64(failedCases))
	m.duration.Set(took.Seconds())

	for _, c := range attribution.Causes {
		m.waitSeconds.WithLabelValues(string(c)).Set(s.Totals[c].Seconds())
	}
	for _, t := range s.Transitions {
		m.transitions.WithLabelValues(t.Transition.Source, t.Transition.Target).Set(t.Wait.Total.Seconds())
	}
	for _, d := range diags {
		m.diagnostics.WithLabelValues(d.Severity.String(), string(d.Code)).Inc()
	}
}

// Registry exposes the underlying registry.
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics in the Prometheus text format.
func (m *RunMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
