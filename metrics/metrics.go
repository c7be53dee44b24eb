// Package metrics exposes Prometheus metrics for the billing engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/billing-engine/billing"
)

// Job run statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusOverlap = "overlap" // skipped because the previous run was still going
)

// Collector wraps the engine's metric vectors in its own registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	JobRuns             *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec
	JobItems            *prometheus.CounterVec
	JobLastSuccess      *prometheus.GaugeVec
	CheckoutSessions    *prometheus.CounterVec
	WebhookEvents       *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a collector under the given namespace ("billing" if empty).
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "billing"
	}
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by outcome",
		}, []string{"job", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		JobItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_records_total",
			Help:      "Invoices or surcharges handled by jobs, by result",
		}, []string{"job", "result"}),
		JobLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful job run",
		}, []string{"job"}),
		CheckoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_total",
			Help:      "Checkout session requests by result",
		}, []string{"result"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Gateway webhook deliveries by outcome",
		}, []string{"outcome"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.JobRuns, c.JobDuration, c.JobItems, c.JobLastSuccess,
		c.CheckoutSessions, c.WebhookEvents,
		c.HTTPRequestsTotal, c.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry (tests gather from it).
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns an HTTP handler that serves Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordJobRun records one finished job execution and its report.
func (c *Collector) RecordJobRun(report billing.RunReport, err error) {
	if c == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	c.JobRuns.WithLabelValues(report.Job, status).Inc()
	c.JobDuration.WithLabelValues(report.Job).Observe(report.Duration().Seconds())
	c.JobItems.WithLabelValues(report.Job, "generated").Add(float64(report.Generated))
	c.JobItems.WithLabelValues(report.Job, "skipped").Add(float64(report.Skipped))
	c.JobItems.WithLabelValues(report.Job, "failed").Add(float64(report.Failed))
	if err == nil {
		c.JobLastSuccess.WithLabelValues(report.Job).Set(float64(report.FinishedAt.Unix()))
	}
}

// RecordJobOverlap records a trigger dropped because the job was running.
func (c *Collector) RecordJobOverlap(job string) {
	if c == nil {
		return
	}
	c.JobRuns.WithLabelValues(job, StatusOverlap).Inc()
}

// RecordSession records a checkout session request: "created", "resumed",
// or an error class.
func (c *Collector) RecordSession(result string) {
	if c == nil {
		return
	}
	c.CheckoutSessions.WithLabelValues(result).Inc()
}

// RecordWebhook records a webhook delivery outcome.
func (c *Collector) RecordWebhook(outcome string) {
	if c == nil {
		return
	}
	c.WebhookEvents.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records an HTTP request metric.
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
