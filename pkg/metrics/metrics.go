package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/hookrelay/pkg/circuit"
	"github.com/dmitrymomot/hookrelay/pkg/eventbus"
	"github.com/dmitrymomot/hookrelay/pkg/inbound"
	"github.com/dmitrymomot/hookrelay/pkg/webhook"
)

const namespace = "hookrelay"

// Delivery outcomes used as label values.
const (
	OutcomeSuccess     = "success"
	OutcomeFailed      = "failed"
	OutcomeRetrying    = "retrying"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeCancelled   = "cancelled"
)

// Metrics holds every collector. Create one per registry.
type Metrics struct {
	registry *prometheus.Registry

	DeliveriesTotal    *prometheus.CounterVec
	DeliveryDuration   *prometheus.HistogramVec
	RetriesScheduled   *prometheus.CounterVec
	DeliveriesInFlight prometheus.Gauge
	CircuitTransitions *prometheus.CounterVec
	InboundTotal       *prometheus.CounterVec
	SweepRequeued      *prometheus.CounterVec
	CleanupDeleted     prometheus.Counter
}

// New registers collectors on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound delivery attempts by event and outcome.",
		}, []string{"event", "outcome"}),
		DeliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Outbound delivery attempt duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		RetriesScheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Retries scheduled after a failed attempt, by event.",
		}, []string{"event"}),
		DeliveriesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deliveries_in_flight",
			Help:      "Delivery attempts currently running in this process.",
		}),
		CircuitTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state changes by target state.",
		}, []string{"from", "to"}),
		InboundTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_total",
			Help:      "Inbound webhooks by source and outcome.",
		}, []string{"source", "outcome"}),
		SweepRequeued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_tasks_total",
			Help:      "Deliveries handled by the retry sweep, by result.",
		}, []string{"result"}),
		CleanupDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "Finished deliveries removed by retention cleanup.",
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDelivery records one dispatcher event.
func (m *Metrics) ObserveDelivery(ev webhook.Event) {
	switch ev.Type {
	case webhook.EventDispatching:
		m.DeliveriesInFlight.Inc()
	case webhook.EventDispatched:
		m.DeliveriesInFlight.Dec()
		m.DeliveriesTotal.WithLabelValues(ev.Event, OutcomeSuccess).Inc()
		m.DeliveryDuration.WithLabelValues(OutcomeSuccess).Observe(ev.Duration.Seconds())
	case webhook.EventDispatchFailed:
		m.DeliveriesInFlight.Dec()
		outcome := OutcomeFailed
		switch {
		case ev.CircuitOpen:
			outcome = OutcomeCircuitOpen
		case ev.Status == webhook.StatusRetrying:
			outcome = OutcomeRetrying
		}
		m.DeliveriesTotal.WithLabelValues(ev.Event, outcome).Inc()
		if !ev.CircuitOpen {
			m.DeliveryDuration.WithLabelValues(outcome).Observe(ev.Duration.Seconds())
		}
	case webhook.EventRetryScheduled:
		m.RetriesScheduled.WithLabelValues(ev.Event).Inc()
	case webhook.EventCancelled:
		m.DeliveriesTotal.WithLabelValues(ev.Event, OutcomeCancelled).Inc()
	}
}

// ObserveInbound records one receiver notification.
func (m *Metrics) ObserveInbound(n inbound.Notification) {
	outcome := n.Outcome
	if n.Outcome == inbound.OutcomeProcessed {
		outcome = string(n.Status)
	}
	m.InboundTotal.WithLabelValues(n.Source, outcome).Inc()
}

// CircuitStateChanged matches circuit.WithStateChange.
func (m *Metrics) CircuitStateChanged(_ string, from, to circuit.State) {
	m.CircuitTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveSweep records a sweep run.
func (m *Metrics) ObserveSweep(s webhook.SweepStats) {
	m.SweepRequeued.WithLabelValues("requeued").Add(float64(s.Requeued))
	m.SweepRequeued.WithLabelValues("duplicate").Add(float64(s.Duplicates))
	m.SweepRequeued.WithLabelValues("reclaimed").Add(float64(s.Reclaimed))
	m.SweepRequeued.WithLabelValues("retried").Add(float64(s.Retried))
}

// ObserveCleanup records a cleanup run.
func (m *Metrics) ObserveCleanup(s webhook.CleanupStats) {
	m.CleanupDeleted.Add(float64(s.Deleted))
}

// Run feeds the collectors from both buses until ctx is done. Either bus may be nil.
func (m *Metrics) Run(ctx context.Context, deliveries *eventbus.Bus[webhook.Event], inbounds *eventbus.Bus[inbound.Notification]) {
	done := make(chan struct{}, 2)
	n := 0
	if deliveries != nil {
		n++
		go func() {
			defer func() { done <- struct{}{} }()
			eventbus.Listen(ctx, deliveries, func(_ context.Context, ev webhook.Event) { m.ObserveDelivery(ev) })
		}()
	}
	if inbounds != nil {
		n++
		go func() {
			defer func() { done <- struct{}{} }()
			eventbus.Listen(ctx, inbounds, func(_ context.Context, ev inbound.Notification) { m.ObserveInbound(ev) })
		}()
	}
	for range n {
		<-done
	}
}
