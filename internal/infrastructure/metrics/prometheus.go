// Package metrics exposes scheduler observations as Prometheus metrics.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

// Collector implements ports.MetricsCollector on a dedicated registry.
// Observations for unknown metric names are dropped.
type Collector struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _ ports.MetricsCollector = (*Collector)(nil)

// NewCollector registers every scheduler metric on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		counters: map[string]*prometheus.CounterVec{
			ports.MetricJobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: ports.MetricJobsSubmitted,
				Help: "Number of job submissions accepted into the queue",
			}, []string{"platform"}),
			ports.MetricJobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: ports.MetricJobsFinished,
				Help: "Number of jobs that reached a terminal state",
			}, []string{"platform", "status"}),
			ports.MetricDependenciesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: ports.MetricDependenciesResolved,
				Help: "Number of path dependency edges resolved",
			}, []string{"type"}),
		},
		gauges: map[string]*prometheus.GaugeVec{
			ports.MetricJobsPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: ports.MetricJobsPending,
				Help: "Number of queued jobs",
			}, []string{"platform"}),
			ports.MetricJobsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: ports.MetricJobsInFlight,
				Help: "Number of jobs currently processing",
			}, []string{"platform"}),
			ports.MetricJobsPendingCritical: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: ports.MetricJobsPendingCritical,
				Help: "Number of queued or processing critical jobs",
			}, []string{"platform"}),
		},
		histograms: map[string]*prometheus.HistogramVec{
			ports.MetricJobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    ports.MetricJobDurationSeconds,
				Help:    "Wall time of finished jobs",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			}, []string{"platform", "builder"}),
		},
	}
	for _, v := range c.counters {
		c.registry.MustRegister(v)
	}
	for _, v := range c.gauges {
		c.registry.MustRegister(v)
	}
	for _, v := range c.histograms {
		c.registry.MustRegister(v)
	}
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) IncCounter(_ context.Context, name string, labels map[string]string) {
	if v, ok := c.counters[name]; ok {
		if m, err := v.GetMetricWith(labels); err == nil {
			m.Inc()
		}
	}
}

func (c *Collector) SetGauge(_ context.Context, name string, value float64, labels map[string]string) {
	if v, ok := c.gauges[name]; ok {
		if m, err := v.GetMetricWith(labels); err == nil {
			m.Set(value)
		}
	}
}

func (c *Collector) ObserveHistogram(_ context.Context, name string, value float64, labels map[string]string) {
	if v, ok := c.histograms[name]; ok {
		if m, err := v.GetMetricWith(labels); err == nil {
			m.Observe(value)
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr and returns a
// function that shuts it down.
func (c *Collector) Serve(addr string, logger ports.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "metrics server stopped", "error", err)
		}
	}()
	logger.Info(context.Background(), "serving metrics", "addr", listener.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
