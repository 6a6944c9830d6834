package azcore

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsOptions configures request metrics.
type MetricsOptions struct {
	// Registerer receives the collectors. Defaults to the global registerer.
	Registerer prometheus.Registerer

	// Disabled turns metric recording off.
	Disabled bool
}

type pipelineMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	metricsMu    sync.Mutex
	metricsByReg = map[prometheus.Registerer]*pipelineMetrics{}
)

// metricsFor registers the shared collectors on a registry exactly once,
// adopting existing collectors when another pipeline got there first.
func metricsFor(reg prometheus.Registerer) *pipelineMetrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m, ok := metricsByReg[reg]; ok {
		return m
	}
	m := &pipelineMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "azsdk_http_requests_total",
			Help: "HTTP requests sent by the SDK pipeline.",
		}, []string{"module", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "azsdk_http_request_duration_seconds",
			Help:    "Latency of HTTP requests sent by the SDK pipeline.",
			Buckets: prometheus.DefBuckets,
		}, []string{"module", "method"}),
	}
	if err := reg.Register(m.requests); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.requests = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := reg.Register(m.duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.duration = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	metricsByReg[reg] = m
	return m
}

type metricsPolicy struct {
	module   string
	metrics  *pipelineMetrics
	disabled bool
}

func newMetricsPolicy(module string, o *MetricsOptions) *metricsPolicy {
	if o.Disabled {
		return &metricsPolicy{disabled: true}
	}
	reg := o.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &metricsPolicy{module: module, metrics: metricsFor(reg)}
}

func (p *metricsPolicy) Do(req *Request) (*http.Response, error) {
	if p.disabled {
		return req.Next()
	}
	method := req.Raw().Method
	start := time.Now()
	resp, err := req.Next()
	p.metrics.duration.WithLabelValues(p.module, method).Observe(time.Since(start).Seconds())
	code := "error"
	if err == nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	p.metrics.requests.WithLabelValues(p.module, method, code).Inc()
	return resp, err
}
