// Package metrics records stage timings and failures in a Prometheus
// registry that can be dumped in node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects workflow metrics. A nil *Recorder discards everything.
type Recorder struct {
	reg           *prometheus.Registry
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	monitorLines  prometheus.Counter
}

// New registers the workflow collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zflow",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of workflow stages.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"stage", "outcome"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zflow",
			Name:      "stage_failures_total",
			Help:      "Workflow stage failures by error kind.",
		}, []string{"stage", "kind"}),
		monitorLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zflow",
			Name:      "monitor_lines_total",
			Help:      "Lines received from monitored serial ports.",
		}),
	}
	r.reg.MustRegister(r.stageDuration, r.stageFailures, r.monitorLines)
	return r
}

// ObserveStage records one stage run. An empty kind means success.
func (r *Recorder) ObserveStage(stage string, d time.Duration, kind string) {
	if r == nil {
		return
	}
	outcome := "success"
	if kind != "" {
		outcome = "failure"
		r.stageFailures.WithLabelValues(stage, kind).Inc()
	}
	r.stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// MonitorLine counts one received serial line.
func (r *Recorder) MonitorLine() {
	if r == nil {
		return
	}
	r.monitorLines.Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// WriteTextfile writes all metrics to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
