package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/streamcache/internal/cache"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/utils"
)

var _ cache.Recorder = (*Collector)(nil)

// Collector exports stream caching metrics to Prometheus and implements
// cache.Recorder.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *utils.StructuredLogger

	// Prometheus metrics
	cachesTotal   *prometheus.CounterVec
	cacheDuration *prometheus.HistogramVec
	cacheSize     *prometheus.HistogramVec
	errorCounter  *prometheus.CounterVec

	// Internal tracking for the debug endpoint
	kinds     map[string]*KindMetrics
	lastReset time.Time

	listener net.Listener
	server   *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Address   string            `yaml:"address"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns the default metrics configuration. Metrics are
// collected but not served until Start.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Address:   ":9090",
		Path:      "/metrics",
		Namespace: "streamcache",
		Labels:    make(map[string]string),
	}
}

// KindMetrics tracks cache calls of one kind (memory or spool)
type KindMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
	LastCache     time.Time     `json:"last_cache"`
}

// NewCollector creates a new metrics collector. A nil config uses DefaultConfig.
func NewCollector(config *Config, logger *utils.StructuredLogger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	collector := &Collector{
		config: config,
		logger: logger.WithComponent("metrics"),
	}
	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.kinds = make(map[string]*KindMetrics)
	collector.lastReset = time.Now()

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RegisterStatistics exports a statistics source, typically
// Strategy.Statistics(), under the given strategy label.
func (c *Collector) RegisterStatistics(strategy string, source StatisticsSource) error {
	if !c.config.Enabled {
		return nil
	}
	return c.registry.Register(NewStatisticsCollector(c.config.Namespace, c.config.Subsystem,
		c.constLabels(prometheus.Labels{"strategy": strategy}), source))
}

// Start serves the metrics endpoint. The listener is bound before Start
// returns so address errors are reported to the caller.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/caches", c.debugCachesHandler)
	mux.HandleFunc("/debug/caches/reset", c.resetHandler)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.config.Address, err)
	}

	c.mu.Lock()
	c.listener = listener
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server error", map[string]interface{}{"error": err})
		}
	}()

	c.logger.Info("metrics endpoint started", map[string]interface{}{
		"address": listener.Addr().String(),
		"path":    c.config.Path,
	})
	return nil
}

// Addr returns the bound address once started.
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordCache implements cache.Recorder.
func (c *Collector) RecordCache(kind string, duration time.Duration, size int64, err error) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	m, exists := c.kinds[kind]
	if !exists {
		m = &KindMetrics{}
		c.kinds[kind] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.TotalSize += size
	if err != nil {
		m.Errors++
	}
	m.LastCache = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.AvgSize = float64(m.TotalSize) / float64(m.Count)
	c.mu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
		c.errorCounter.With(prometheus.Labels{
			"kind": kind,
			"code": string(errors.GetCode(err)),
		}).Inc()
	}
	c.cachesTotal.With(prometheus.Labels{"kind": kind, "status": status}).Inc()
	c.cacheDuration.With(prometheus.Labels{"kind": kind}).Observe(duration.Seconds())
	if err == nil {
		c.cacheSize.With(prometheus.Labels{"kind": kind}).Observe(float64(size))
	}
}

// GetMetrics returns a copy of the per-kind tracking.
func (c *Collector) GetMetrics() map[string]KindMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make(map[string]KindMetrics, len(c.kinds))
	for k, v := range c.kinds {
		kinds[k] = *v
	}
	return kinds
}

// ResetMetrics resets the per-kind tracking. Prometheus counters are not reset.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.kinds = make(map[string]*KindMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) constLabels(extra prometheus.Labels) prometheus.Labels {
	labels := make(prometheus.Labels, len(c.config.Labels)+len(extra))
	for k, v := range c.config.Labels {
		labels[k] = v
	}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}

func (c *Collector) initMetrics() {
	labels := c.constLabels(nil)

	c.cachesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "caches_total",
			Help:        "Total number of cache calls that consumed a body",
			ConstLabels: labels,
		},
		[]string{"kind", "status"},
	)

	c.cacheDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_duration_seconds",
			Help:        "Time spent consuming a body into a cache",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 18), // 100µs to ~13s
			ConstLabels: labels,
		},
		[]string{"kind"},
	)

	c.cacheSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_size_bytes",
			Help:        "Size of cached bodies in bytes",
			Buckets:     prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
			ConstLabels: labels,
		},
		[]string{"kind"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "cache_errors_total",
			Help:        "Total number of failed cache calls by error code",
			ConstLabels: labels,
		},
		[]string{"kind", "code"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cachesTotal,
		c.cacheDuration,
		c.cacheSize,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"streamcache-metrics"}`))
}

// resetHandler clears the per-kind tracking shown by /debug/caches.
func (c *Collector) resetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c.ResetMetrics()
	w.WriteHeader(http.StatusNoContent)
}

func (c *Collector) debugCachesHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	lastReset := c.lastReset
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime":     time.Since(lastReset).String(),
		"last_reset": lastReset,
		"kinds":      c.GetMetrics(),
	})
}
