// Package metrics exposes run progress as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/iris/internal/engine"
	"github.com/talgya/iris/internal/gen"
)

// Registry holds all metrics for a run.
type Registry struct {
	// Population
	AgentsTotal   prometheus.Gauge
	EdgesTotal    prometheus.Gauge
	FamiliesTotal prometheus.Gauge

	// Stepping
	StepsTotal            prometheus.Counter
	CurrentTime           prometheus.Gauge
	DecisionsTotal        *prometheus.CounterVec
	BehaviorChangesTotal  prometheus.Counter
	ExhaustedSamplesTotal prometheus.Counter
	PrivilegeTotal        prometheus.Gauge
	StepDuration          prometheus.Histogram

	// HTTP
	HTTPRequestsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with every metric initialized.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	f := promauto.With(reg)

	r.AgentsTotal = f.NewGauge(prometheus.GaugeOpts{
		Name: "iris_agents_total",
		Help: "Number of agents in the population",
	})
	r.EdgesTotal = f.NewGauge(prometheus.GaugeOpts{
		Name: "iris_edges_total",
		Help: "Number of directed edges in the contact graph",
	})
	r.FamiliesTotal = f.NewGauge(prometheus.GaugeOpts{
		Name: "iris_families_total",
		Help: "Number of family units",
	})

	r.StepsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "iris_steps_total",
		Help: "Time slots completed",
	})
	r.CurrentTime = f.NewGauge(prometheus.GaugeOpts{
		Name: "iris_current_time",
		Help: "Most recently completed time slot",
	})
	r.DecisionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "iris_decisions_total",
		Help: "Behavior decisions by policy",
	}, []string{"path"}) // direct, sociodynamic
	r.BehaviorChangesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "iris_behavior_changes_total",
		Help: "Agent steps that committed a different behavior",
	})
	r.ExhaustedSamplesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "iris_exhausted_samples_total",
		Help: "Random draws skipped because no free value was left",
	})
	r.PrivilegeTotal = f.NewGauge(prometheus.GaugeOpts{
		Name: "iris_privilege_total",
		Help: "Sum of privilege across all agents",
	})
	r.StepDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "iris_step_duration_seconds",
		Help:    "Wall time to step the whole population once",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	})

	r.HTTPRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "iris_http_requests_total",
		Help: "HTTP requests served",
	}, []string{"path", "status"})

	return r
}

// RecordGraph records the shape of a freshly generated population.
func (r *Registry) RecordGraph(agents int, stats gen.GraphStats) {
	r.AgentsTotal.Set(float64(agents))
	r.EdgesTotal.Set(float64(stats.Edges))
	r.FamiliesTotal.Set(float64(stats.Families))
	r.ExhaustedSamplesTotal.Add(float64(stats.ExhaustedDraws))
}

// RecordStep records one completed time slot.
func (r *Registry) RecordStep(s engine.StepSummary) {
	r.StepsTotal.Inc()
	r.CurrentTime.Set(float64(s.Time))
	r.DecisionsTotal.WithLabelValues("direct").Add(float64(s.Direct))
	r.DecisionsTotal.WithLabelValues("sociodynamic").Add(float64(s.Sociodynamic))
	r.BehaviorChangesTotal.Add(float64(s.Changed))
	r.ExhaustedSamplesTotal.Add(float64(s.ExhaustedDraws))
	r.StepDuration.Observe(s.Duration.Seconds())
}

// SetPrivilege records total privilege.
func (r *Registry) SetPrivilege(total uint64) {
	r.PrivilegeTotal.Set(float64(total))
}

// RecordHTTPRequest counts one served request.
func (r *Registry) RecordHTTPRequest(path, status string) {
	r.HTTPRequestsTotal.WithLabelValues(path, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile dumps the current values to path, for runs without an HTTP
// listener.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
