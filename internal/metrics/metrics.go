// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/crewflow/internal/model"
)

// Recorder is what the engine reports into.
type Recorder interface {
	ActionOutcome(actionType model.ActionType, status model.OutcomeStatus, d time.Duration)
	DefinitionResult(status model.ResultStatus)
	AuditDropped(reason string)
	PendingSwept(state string)
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*Prometheus)(nil)
)

// Nop discards everything.
type Nop struct{}

func (Nop) ActionOutcome(model.ActionType, model.OutcomeStatus, time.Duration) {}

func (Nop) DefinitionResult(model.ResultStatus) {}

func (Nop) AuditDropped(string) {}

func (Nop) PendingSwept(string) {}

// Prometheus implements Recorder on a dedicated registry.
type Prometheus struct {
	registry       *prometheus.Registry
	actionOutcomes *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	definitions    *prometheus.CounterVec
	auditDropped   *prometheus.CounterVec
	pendingSwept   *prometheus.CounterVec
}

// NewPrometheus registers the engine collectors plus the Go and process
// collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		actionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewflow_action_outcomes_total",
				Help: "Action attempts by action type and outcome status",
			},
			[]string{"action_type", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewflow_action_duration_seconds",
				Help:    "Duration of action handler calls",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"action_type"},
		),
		definitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewflow_definition_results_total",
				Help: "Definition evaluations by aggregate status",
			},
			[]string{"status"},
		),
		auditDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewflow_audit_dropped_total",
				Help: "Audit entries that were not persisted",
			},
			[]string{"reason"},
		),
		pendingSwept: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewflow_pending_actions_total",
				Help: "Delayed actions settled by the sweeper, by final state",
			},
			[]string{"state"},
		),
	}
	p.registry.MustRegister(
		p.actionOutcomes,
		p.actionDuration,
		p.definitions,
		p.auditDropped,
		p.pendingSwept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) ActionOutcome(actionType model.ActionType, status model.OutcomeStatus, d time.Duration) {
	p.actionOutcomes.WithLabelValues(string(actionType), string(status)).Inc()
	p.actionDuration.WithLabelValues(string(actionType)).Observe(d.Seconds())
}

func (p *Prometheus) DefinitionResult(status model.ResultStatus) {
	p.definitions.WithLabelValues(string(status)).Inc()
}

func (p *Prometheus) AuditDropped(reason string) {
	p.auditDropped.WithLabelValues(reason).Inc()
}

func (p *Prometheus) PendingSwept(state string) {
	p.pendingSwept.WithLabelValues(state).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
