// Package metrics exposes daemon counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the /metrics handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics are the lamp daemon counters.
type AppMetrics struct {
	PacketsTotal      prometheus.Counter
	TransmitFailures  prometheus.Counter
	CommandsTotal     *prometheus.CounterVec // labels: command
	RequestsTotal     *prometheus.CounterVec // labels: source, result=accepted|rejected
	StatePublishes    prometheus.Counter
	CalibrationsTotal prometheus.Counter
	Busy              prometheus.Gauge
	BrightnessStep    prometheus.Gauge
	ColorStep         prometheus.Gauge
}

// NewAppMetrics registers and returns the daemon counters.
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		PacketsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quntisd_packets_transmitted_total",
			Help: "Raw frames handed to the radio.",
		}),
		TransmitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quntisd_transmit_failures_total",
			Help: "Raw frames the radio reported as not sent.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quntisd_commands_total",
			Help: "Logical remote commands sent, by command.",
		}, []string{"command"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quntisd_requests_total",
			Help: "Control requests by source and result.",
		}, []string{"source", "result"}),
		StatePublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quntisd_state_publishes_total",
			Help: "Settled states published.",
		}),
		CalibrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quntisd_calibrations_total",
			Help: "Calibration runs started.",
		}),
		Busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quntisd_transition_busy",
			Help: "1 while a transition is in flight or queued.",
		}),
		BrightnessStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quntisd_brightness_step",
			Help: "Believed brightness step.",
		}),
		ColorStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quntisd_color_step",
			Help: "Believed color temperature step, 0 is warmest.",
		}),
	}
	reg.MustRegister(
		m.PacketsTotal, m.TransmitFailures, m.CommandsTotal, m.RequestsTotal,
		m.StatePublishes, m.CalibrationsTotal, m.Busy, m.BrightnessStep, m.ColorStep,
	)
	return m
}
