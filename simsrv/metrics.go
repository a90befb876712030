package simsrv

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the Prometheus instruments of one Server.  Each Server has its
// own registry so tests can run servers side by side.
type Metrics struct {
	Sessions   prometheus.Gauge
	Broadcasts prometheus.Counter
	Commands   *prometheus.CounterVec
	SendErrors prometheus.Counter

	reg *prometheus.Registry
}

// NewMetrics creates and registers the simulator metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chambersim",
			Name:      "sessions",
			Help:      "Number of connected websocket sessions",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chambersim",
			Name:      "broadcasts_total",
			Help:      "Status messages sent on the tick",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chambersim",
			Name:      "commands_total",
			Help:      "Console commands received, by verb",
		}, []string{"verb"}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chambersim",
			Name:      "send_errors_total",
			Help:      "Sessions ended by a failed send",
		}),
		reg: prometheus.NewRegistry(),
	}
	m.reg.MustRegister(m.Sessions, m.Broadcasts, m.Commands, m.SendErrors)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
