// Package metrics exposes Prometheus counters for the cache and provider
// pipeline on a private registry. A nil *Collector is valid and records
// nothing, so components can take one unconditionally.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cidhub"

// Collector 聚合缓存命中、Provider 尝试、响应状态与 pin 结果等指标。
type Collector struct {
	registry *prometheus.Registry

	cacheLookups     *prometheus.CounterVec
	cacheWrites      *prometheus.CounterVec
	providerAttempts *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	responses        *prometheus.CounterVec
	pins             *prometheus.CounterVec
}

// NewCollector 创建独立 registry 并注册全部指标。
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result (hit, miss, corrupt).",
		}, []string{"result"}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Cache writes by result (ok, failed).",
		}, []string{"result"}),
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider fetch attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_fetch_seconds",
			Help:      "Latency of provider fetch attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Resolved responses by HTTP status.",
		}, []string{"status"}),
		pins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pins_total",
			Help:      "Local node pin attempts by result.",
		}, []string{"result"}),
	}

	for _, collector := range []prometheus.Collector{
		c.cacheLookups,
		c.cacheWrites,
		c.providerAttempts,
		c.providerDuration,
		c.responses,
		c.pins,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

// Handler 返回 Prometheus exposition handler；nil Collector 返回 404 handler。
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry 暴露底层 registry，便于测试读取。
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// CacheLookup records hit, miss or corrupt.
func (c *Collector) CacheLookup(result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// CacheWrite records a persistence outcome.
func (c *Collector) CacheWrite(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	c.cacheWrites.WithLabelValues(result).Inc()
}

// ProviderAttempt records one provider attempt with its outcome and latency.
func (c *Collector) ProviderAttempt(provider, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.providerAttempts.WithLabelValues(provider, outcome).Inc()
	c.providerDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Response records the status code returned to the client.
func (c *Collector) Response(status int) {
	if c == nil {
		return
	}
	c.responses.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Pin records a local node pin outcome.
func (c *Collector) Pin(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	c.pins.WithLabelValues(result).Inc()
}
