// Package metrics holds the prometheus collectors of the hosting runtime.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command results.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultFaulted  = "faulted"
)

// Metrics groups the runtime's collectors.
type Metrics struct {
	Sessions        *prometheus.GaugeVec
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	Rematches       *prometheus.CounterVec
	Connections     prometheus.Gauge
	Restored        *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg gets a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tabletop",
			Name:      "sessions",
			Help:      "Sessions held in memory by status.",
		}, []string{"status"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabletop",
			Name:      "commands_total",
			Help:      "Commands applied to matches by game and result.",
		}, []string{"game", "result"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tabletop",
			Name:      "command_duration_seconds",
			Help:      "Time spent applying and persisting a command.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"game"}),
		Rematches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabletop",
			Name:      "rematches_total",
			Help:      "Rematch sessions spawned by game.",
		}, []string{"game"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tabletop",
			Name:      "websocket_connections",
			Help:      "Open player websocket connections.",
		}),
		Restored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabletop",
			Name:      "sessions_restored_total",
			Help:      "Sessions restored at startup by source.",
		}, []string{"source"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Sessions, m.Commands, m.CommandDuration, m.Rematches, m.Connections, m.Restored)
	return m
}

// Handler serves the collectors in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
