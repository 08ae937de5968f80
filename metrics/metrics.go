// Package metrics holds the prometheus collectors of a scryer runtime. A nil
// *Metrics is valid and records nothing, so library packages can be used
// without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scryer"

type Metrics struct {
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	EventsTotal     *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	AwaitsTotal     *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	LinkUp          *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them, with the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "commands_total",
				Help:      "Commands sent, by opcode and result",
			},
			[]string{"opcode", "result"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "command_duration_seconds",
				Help:      "Time from send to decoded reply",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"opcode"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "telemetry",
				Name:      "events_total",
				Help:      "State publications decoded, by component",
			},
			[]string{"component"},
		),
		EventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "telemetry",
				Name:      "events_rejected_total",
				Help:      "Publications that could not be decoded or were evicted, by reason",
			},
			[]string{"reason"},
		),
		AwaitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scry",
				Name:      "awaits_total",
				Help:      "Completed awaits, by outcome",
			},
			[]string{"outcome"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scry",
				Name:      "queue_depth",
				Help:      "Events buffered in the shared queue",
			},
		),
		LinkUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "link",
				Name:      "up",
				Help:      "1 while the channel is connected",
			},
			[]string{"channel"},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.CommandsTotal,
		m.CommandDuration,
		m.EventsTotal,
		m.EventsRejected,
		m.AwaitsTotal,
		m.QueueDepth,
		m.LinkUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveCommand(opcode, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(opcode, result).Inc()
	m.CommandDuration.WithLabelValues(opcode).Observe(d.Seconds())
}

func (m *Metrics) ObserveEvent(component string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(component).Inc()
}

func (m *Metrics) RejectEvent(reason string) {
	if m == nil {
		return
	}
	m.EventsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveAwait(outcome string) {
	if m == nil {
		return
	}
	m.AwaitsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SetLinkUp(channel string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.LinkUp.WithLabelValues(channel).Set(v)
}
