// Package metrics exposes the request pipeline and page cache counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh results.
const (
	RefreshSucceeded = "succeeded"
	RefreshCoalesced = "coalesced"
	RefreshSwallowed = "swallowed"
	RefreshTerminal  = "terminal"
	RefreshFailed    = "failed"
)

// Metrics owns a private registry so several clients in one process (tests) never collide.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	refreshTotal      *prometheus.CounterVec
	replaysTotal      prometheus.Counter
	terminationsTotal *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec

	mu     sync.Mutex
	server *http.Server
}

// New creates the collectors under namespace and registers them.
func New(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Requests that left the pipeline, by method and outcome.",
	}, []string{"method", "outcome"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Transport round trip duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	m.refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refresh_total",
		Help:      "Credential refresh attempts by result.",
	}, []string{"result"})

	m.replaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "request_replays_total",
		Help:      "Requests replayed after a successful credential refresh.",
	})

	m.terminationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_terminations_total",
		Help:      "Forced session terminations by triggering status.",
	}, []string{"reason"})

	m.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "page_cache_lookups_total",
		Help:      "Page cache lookups by resource and result (hit or miss).",
	}, []string{"resource", "result"})

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.refreshTotal,
		m.replaysTotal,
		m.terminationsTotal,
		m.cacheLookups,
	)
	return m
}

// ObserveRequest records one pipeline outcome ("ok", a normalized status, or "abandoned").
func (m *Metrics) ObserveRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveRoundTrip records the transport duration of a single attempt.
func (m *Metrics) ObserveRoundTrip(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveRefresh records a refresh attempt result.
func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(result).Inc()
}

// ObserveReplay counts one replay.
func (m *Metrics) ObserveReplay() {
	if m == nil {
		return
	}
	m.replaysTotal.Inc()
}

// ObserveTermination counts one forced session end.
func (m *Metrics) ObserveTermination(reason string) {
	if m == nil {
		return
	}
	m.terminationsTotal.WithLabelValues(reason).Inc()
}

// ObserveCacheLookup counts a page cache hit or miss for resource.
func (m *Metrics) ObserveCacheLookup(resource string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(resource, result).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve starts a /metrics endpoint on addr in the background and returns the bound address.
func (m *Metrics) Serve(addr string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	srv := m.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return ln.Addr().String(), nil
}

// Shutdown stops the endpoint started by Serve.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return nil
	}
	err := m.server.Shutdown(ctx)
	m.server = nil
	return err
}
