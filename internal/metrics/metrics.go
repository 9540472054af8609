// Package metrics exposes the service's Prometheus metrics and an
// operational snapshot consumed by the stats API, the state file, and the
// monitor dashboard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every Prometheus metric the service emits. Metric names are
// part of the deployed scrape contract and must not change.
type Registry struct {
	reg *prometheus.Registry

	SocketReconnections prometheus.Gauge
	Messages            prometheus.Counter
	PatientAdmits       prometheus.Counter
	PatientDischarges   prometheus.Counter
	BloodTests          prometheus.Counter
	BloodTestAverage    prometheus.Gauge
	PositiveAKIs        prometheus.Counter
	PositiveAKIRate     prometheus.Gauge
	LatencyAverage      prometheus.Gauge
	LatencyExceeds      prometheus.Counter
	Failures            prometheus.Counter
}

// NewRegistry creates and registers all metrics. The reconnection gauge
// starts at -1 so the initial connect reports zero reconnections.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		SocketReconnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socket_reconnections_total",
			Help: "Total number of socket reconnections made",
		}),
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "total_messages",
			Help: "Total number of messages received",
		}),
		PatientAdmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "total_admitted_patients",
			Help: "Total number of admitted patients",
		}),
		PatientDischarges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "total_discharged_patients",
			Help: "Total number of discharged patients",
		}),
		BloodTests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "total_blood_test",
			Help: "Total number of blood tests received",
		}),
		BloodTestAverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blood_test_average",
			Help: "Average Value of blood test",
		}),
		PositiveAKIs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "total_positive_akis",
			Help: "Total number of positive AKI instances detected",
		}),
		PositiveAKIRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "positive_AKI_rate",
			Help: "Positive AKI rate",
		}),
		LatencyAverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "latency_average",
			Help: "Average Value of latency",
		}),
		LatencyExceeds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latency_exceeds_3_seconds_total",
			Help: "Counts how many times latency exceeded 3 seconds",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "total_failures",
			Help: "Total number of failures occurred",
		}),
	}

	r.reg.MustRegister(
		r.SocketReconnections, r.Messages,
		r.PatientAdmits, r.PatientDischarges,
		r.BloodTests, r.BloodTestAverage,
		r.PositiveAKIs, r.PositiveAKIRate,
		r.LatencyAverage, r.LatencyExceeds,
		r.Failures,
	)
	r.SocketReconnections.Set(-1)
	return r
}

// Gatherer returns the underlying registry for the scrape handler.
func (r *Registry) Gatherer() *prometheus.Registry {
	return r.reg
}
