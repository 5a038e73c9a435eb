// Package metrics exposes Prometheus counters for deploy pipelines, queued
// activations and the HTTP surface.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines pipeline and worker instrumentation.
type Metrics interface {
	ObserveDeploy(trigger, outcome string, durationSeconds float64)
	IncResolution(kind string)
	IncActivations(status string)
}

// HTTPMetrics captures request metrics for the HTTP server.
type HTTPMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Resolution kinds.
const (
	ResolutionTemplate    = "template"
	ResolutionClone       = "clone"
	ResolutionCloneFailed = "clone_failed"
)

// Noop implements Metrics and HTTPMetrics without emitting anything.
type Noop struct{}

func (Noop) ObserveDeploy(string, string, float64)          {}
func (Noop) IncResolution(string)                           {}
func (Noop) IncActivations(string)                          {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics and HTTPMetrics backed by Prometheus collectors.
type Prom struct {
	deploys        *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	resolutions    *prometheus.CounterVec
	activations    *prometheus.CounterVec
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	once           sync.Once
}

// NewProm builds the collectors and registers them with the default registerer.
func NewProm(namespace string) *Prom {
	p := &Prom{
		deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploys_total",
			Help:      "Deploy pipeline runs by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deploy_duration_seconds",
			Help:      "Deploy pipeline duration by trigger",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"trigger"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repository_resolutions_total",
			Help:      "Repository resolutions by kind",
		}, []string{"kind"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Queued activations by terminal status",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.deploys, p.deployDuration, p.resolutions, p.activations, p.requests, p.latency)
	})
}

func (p *Prom) ObserveDeploy(trigger, outcome string, durationSeconds float64) {
	p.deploys.WithLabelValues(trigger, outcome).Inc()
	p.deployDuration.WithLabelValues(trigger).Observe(durationSeconds)
}

func (p *Prom) IncResolution(kind string) {
	p.resolutions.WithLabelValues(kind).Inc()
}

func (p *Prom) IncActivations(status string) {
	p.activations.WithLabelValues(status).Inc()
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
