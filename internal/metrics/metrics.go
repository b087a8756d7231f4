// Package metrics holds the Prometheus collectors of the service. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sre_platform"

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	IncidentsIngested *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	NotifyDuration    *prometheus.HistogramVec
	Executions        *prometheus.CounterVec
	AnalysisReports   *prometheus.CounterVec
	StreamClients     prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		IncidentsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_ingested_total",
			Help:      "Incidents created from the alert webhook.",
		}, []string{"severity", "silenced"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incident_transitions_total",
			Help:      "Incident lifecycle operations by action and outcome.",
		}, []string{"action", "outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel type and final status.",
		}, []string{"channel_type", "status"}),
		NotifyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_duration_seconds",
			Help:      "Time to deliver a notification including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"channel_type"}),
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "script_executions_total",
			Help:      "Script executions by trigger source and status.",
		}, []string{"trigger_source", "status"}),
		AnalysisReports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_reports_total",
			Help:      "Analysis reports by generator and final status.",
		}, []string{"generator", "status"}),
		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected change stream clients.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) IncidentIngested(severity string, silenced bool) {
	if m == nil {
		return
	}
	m.IncidentsIngested.WithLabelValues(severity, strconv.FormatBool(silenced)).Inc()
}

func (m *Metrics) Transition(action string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) Notification(channelType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(channelType, status).Inc()
	m.NotifyDuration.WithLabelValues(channelType).Observe(d.Seconds())
}

func (m *Metrics) Execution(trigger, status string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(trigger, status).Inc()
}

func (m *Metrics) AnalysisReport(generator, status string) {
	if m == nil {
		return
	}
	m.AnalysisReports.WithLabelValues(generator, status).Inc()
}

func (m *Metrics) StreamClient(delta float64) {
	if m == nil {
		return
	}
	m.StreamClients.Add(delta)
}
