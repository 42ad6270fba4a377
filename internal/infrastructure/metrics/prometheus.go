// Package metrics exposes pipeline counters through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/ports"
)

// Prometheus implements ports.Metrics on a private registry, so several
// containers in one process (tests) never collide.
type Prometheus struct {
	registry           *prometheus.Registry
	attempts           prometheus.Counter
	validationFailures *prometheus.CounterVec
	runs               *prometheus.CounterVec
	runDuration        prometheus.Histogram
	commands           *prometheus.CounterVec
}

// New registers the cadsmith collectors plus the Go runtime ones.
func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cadsmith_generation_attempts_total",
			Help: "Text generation attempts, including retries.",
		}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cadsmith_validation_failures_total",
			Help: "Generated programs rejected by the validator.",
		}, []string{"rule"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cadsmith_runs_total",
			Help: "Finished generation runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cadsmith_run_duration_seconds",
			Help:    "Wall time of a generation run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cadsmith_executor_commands_total",
			Help: "DSL commands applied by the executor.",
		}, []string{"command"}),
	}
	p.registry.MustRegister(
		p.attempts,
		p.validationFailures,
		p.runs,
		p.runDuration,
		p.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) ObserveAttempt() {
	p.attempts.Inc()
}

func (p *Prometheus) ObserveValidationFailure(rule string) {
	if rule == "" {
		rule = "unknown"
	}
	p.validationFailures.WithLabelValues(rule).Inc()
}

func (p *Prometheus) ObserveRun(outcome domain.Outcome, elapsed time.Duration) {
	p.runs.WithLabelValues(string(outcome)).Inc()
	p.runDuration.Observe(elapsed.Seconds())
}

func (p *Prometheus) ObserveCommand(command string) {
	p.commands.WithLabelValues(command).Inc()
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

var _ ports.Metrics = (*Prometheus)(nil)
