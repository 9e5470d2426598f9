package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPort = 2112

// Config contains telemetry server configuration.
type Config struct {
	Port int `yaml:"port"`
}

// Measurements collects measurements for prometheus.
// Recording to a metric that was not created is a no-op that returns false.
type Measurements struct {
	mux        sync.RWMutex
	factory    promauto.Factory
	registry   *prometheus.Registry
	histograms map[string]prometheus.Observer
	gauges     map[string]prometheus.Gauge
	counters   map[string]prometheus.Counter
}

// New creates Measurements registering metrics in their own registry.
func New() *Measurements {
	reg := prometheus.NewRegistry()
	return &Measurements{
		factory:    promauto.With(reg),
		registry:   reg,
		histograms: make(map[string]prometheus.Observer),
		gauges:     make(map[string]prometheus.Gauge),
		counters:   make(map[string]prometheus.Counter),
	}
}

// CreateUpdateObservableHistogram creates observable histogram of durations in microseconds.
func (m *Measurements) CreateUpdateObservableHistogram(name, description string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.histograms[name]; ok {
		return
	}
	m.histograms[name] = m.factory.NewHistogram(prometheus.HistogramOpts{
		Name:    name,
		Help:    description,
		Buckets: prometheus.ExponentialBuckets(1000, 4, 10),
	})
}

// RecordHistogramTime records histogram time if entity with given name exists.
func (m *Measurements) RecordHistogramTime(name string, t time.Duration) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.histograms[name]; ok {
		v.Observe(float64(t.Microseconds()))
		return true
	}
	return false
}

// CreateUpdateObservableGauge creates observable gauge.
func (m *Measurements) CreateUpdateObservableGauge(name, description string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.gauges[name]; ok {
		return
	}
	m.gauges[name] = m.factory.NewGauge(prometheus.GaugeOpts{Name: name, Help: description})
}

// IncrementGauge increments gauge if entity with given name exists.
func (m *Measurements) IncrementGauge(name string) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.gauges[name]; ok {
		v.Inc()
		return true
	}
	return false
}

// DecrementGauge decrements gauge if entity with given name exists.
func (m *Measurements) DecrementGauge(name string) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.gauges[name]; ok {
		v.Dec()
		return true
	}
	return false
}

// CreateUpdateCounter creates counter.
func (m *Measurements) CreateUpdateCounter(name, description string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.counters[name]; ok {
		return
	}
	m.counters[name] = m.factory.NewCounter(prometheus.CounterOpts{Name: name, Help: description})
}

// IncrementCounter increments counter if entity with given name exists.
func (m *Measurements) IncrementCounter(name string) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.counters[name]; ok {
		v.Inc()
		return true
	}
	return false
}

// Handler returns http handler exposing the metrics.
func (m *Measurements) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Run starts server with prometheus telemetry endpoint. It cancels the context when server fails.
// Server is shut down when ctx is done. Default port of 2112 is used if port value is set to 0.
func (m *Measurements) Run(ctx context.Context, cancel context.CancelFunc, port int) error {
	if port > 65535 || port < 0 {
		return fmt.Errorf("port range allowed is from 1 to 65535, received %d", port)
	}
	if port == 0 {
		port = defaultPort
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cancel()
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdown)
	}()
	return nil
}
