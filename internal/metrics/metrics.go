// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics holds the Prometheus registry and protocol metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the Prometheus scrape handler for reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics are the protocol metrics
type Metrics struct {
	BytesReceived prometheus.Counter
	BytesSent     prometheus.Counter
	FrameTotal    *prometheus.CounterVec // labels: result=ok|checksum|malformed
	DispatchTotal *prometheus.CounterVec // labels: cmd, result=ok|short|unknown
	SendTotal     *prometheus.CounterVec // labels: request, result=ok|fail
	Backoffs      prometheus.Counter
	Stage         prometheus.Gauge
	Speed         prometheus.Gauge // km/h
	Voltage       prometheus.Gauge // V
	Battery       prometheus.Gauge // percent
}

// New registers and returns the protocol metrics
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wheelstat_link_bytes_received_total",
			Help: "Total bytes received from the wheel.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wheelstat_link_bytes_sent_total",
			Help: "Total bytes written to the wheel.",
		}),
		FrameTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheelstat_frame_total",
			Help: "Completed candidate frames by verification result.",
		}, []string{"result"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheelstat_dispatch_total",
			Help: "Dispatched messages by command and result.",
		}, []string{"cmd", "result"}),
		SendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheelstat_send_total",
			Help: "Poller send attempts by request and result.",
		}, []string{"request", "result"}),
		Backoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wheelstat_poller_backoff_total",
			Help: "Send failures that forced a cycle backoff.",
		}),
		Stage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wheelstat_poller_stage",
			Help: "Current conversation stage of the poller.",
		}),
		Speed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wheelstat_speed_kmh",
			Help: "Last reported wheel speed.",
		}),
		Voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wheelstat_voltage_volts",
			Help: "Last reported battery voltage.",
		}),
		Battery: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wheelstat_battery_percent",
			Help: "Last reported battery level.",
		}),
	}
	reg.MustRegister(m.BytesReceived, m.BytesSent, m.FrameTotal, m.DispatchTotal, m.SendTotal,
		m.Backoffs, m.Stage, m.Speed, m.Voltage, m.Battery)
	return m
}

// ObserveBytesReceived counts inbound link bytes
func (m *Metrics) ObserveBytesReceived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesReceived.Add(float64(n))
}

// ObserveBytesSent counts outbound link bytes
func (m *Metrics) ObserveBytesSent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesSent.Add(float64(n))
}

// ObserveFrame records one completed candidate frame
func (m *Metrics) ObserveFrame(result string) {
	if m == nil {
		return
	}
	m.FrameTotal.WithLabelValues(result).Inc()
}

// ObserveDispatch records one dispatched message
func (m *Metrics) ObserveDispatch(cmd, result string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(cmd, result).Inc()
}

// ObserveSend records one poller send attempt
func (m *Metrics) ObserveSend(request string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "fail"
		m.Backoffs.Inc()
	}
	m.SendTotal.WithLabelValues(request, result).Inc()
}

// SetStage publishes the poller stage
func (m *Metrics) SetStage(stage int) {
	if m == nil {
		return
	}
	m.Stage.Set(float64(stage))
}

// SetRealTime publishes the headline telemetry values
func (m *Metrics) SetRealTime(speedKmh, voltage float64, battery int) {
	if m == nil {
		return
	}
	m.Speed.Set(speedKmh)
	m.Voltage.Set(voltage)
	m.Battery.Set(float64(battery))
}
