package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type PrometheusConfig struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Path      string `json:"path"`
}

// PrometheusMetrics keeps one vec per metric name and hands out bound
// instruments for a fixed label set. The exporter endpoint runs on its own
// listener so scraping never competes with dispatch traffic.
type PrometheusMetrics struct {
	ctx        context.Context
	logger     types.Logger
	config     *PrometheusConfig
	registry   *prometheus.Registry
	server     *http.Server
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.Mutex
	running    int32
}

func NewPrometheusMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	promConfig := &PrometheusConfig{
		Host: "0.0.0.0",
		Port: 9090,
		Path: "/metrics",
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, promConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal prometheus config")
		}
	}

	return &PrometheusMetrics{
		ctx:        ctx,
		logger:     logger,
		config:     promConfig,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}, nil
}

func (pm *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&pm.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	mux := http.NewServeMux()
	mux.Handle(pm.config.Path, promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{}))

	pm.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", pm.config.Host, pm.config.Port),
		Handler: mux,
	}

	go func() {
		pm.logger.Info("Metrics exporter listening",
			zap.String("addr", pm.server.Addr),
			zap.String("path", pm.config.Path))

		if err := pm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pm.logger.Error("Metrics exporter failed", zap.Error(err))
			atomic.StoreInt32(&pm.running, 0)
		}
	}()

	return nil
}

func (pm *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&pm.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return pm.server.Shutdown(shutdownCtx)
}

func (pm *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&pm.running) == 1
}

func (pm *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	vec, exists := pm.counters[name]
	if !exists {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: pm.config.Namespace,
			Subsystem: pm.config.Subsystem,
			Name:      name,
			Help:      name,
		}, labelNames(labels))
		pm.registry.MustRegister(vec)
		pm.counters[name] = vec
	}

	return &promCounter{counter: vec.With(prometheus.Labels(labels))}
}

func (pm *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	vec, exists := pm.gauges[name]
	if !exists {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: pm.config.Namespace,
			Subsystem: pm.config.Subsystem,
			Name:      name,
			Help:      name,
		}, labelNames(labels))
		pm.registry.MustRegister(vec)
		pm.gauges[name] = vec
	}

	return &promGauge{gauge: vec.With(prometheus.Labels(labels))}
}

func (pm *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	vec, exists := pm.histograms[name]
	if !exists {
		if len(buckets) == 0 {
			buckets = prometheus.DefBuckets
		}
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: pm.config.Namespace,
			Subsystem: pm.config.Subsystem,
			Name:      name,
			Help:      name,
			Buckets:   buckets,
		}, labelNames(labels))
		pm.registry.MustRegister(vec)
		pm.histograms[name] = vec
	}

	return &promHistogram{histogram: vec.With(prometheus.Labels(labels))}
}

// Snapshot flattens the current registry state into plain values, which keeps
// programmatic consumers off the text exposition format.
func (pm *PrometheusMetrics) Snapshot() ([]types.MetricValue, error) {
	families, err := pm.registry.Gather()
	if err != nil {
		return nil, types.WrapError(err, "failed to gather metrics")
	}

	values := make([]types.MetricValue, 0, len(families))
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}

			value := types.MetricValue{
				Name:   family.GetName(),
				Labels: labels,
			}

			switch family.GetType() {
			case dto.MetricType_COUNTER:
				value.Type = "counter"
				value.Value = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value.Type = "gauge"
				value.Value = metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				value.Type = "histogram"
				value.Value = metric.GetHistogram().GetSampleSum()
			default:
				continue
			}

			values = append(values, value)
		}
	}

	return values, nil
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type promCounter struct {
	counter prometheus.Counter
}

func (pc *promCounter) Inc()              { pc.counter.Inc() }
func (pc *promCounter) Add(value float64) { pc.counter.Add(value) }

type promGauge struct {
	gauge prometheus.Gauge
}

func (pg *promGauge) Set(value float64) { pg.gauge.Set(value) }
func (pg *promGauge) Inc()              { pg.gauge.Inc() }
func (pg *promGauge) Dec()              { pg.gauge.Dec() }

type promHistogram struct {
	histogram prometheus.Observer
}

func (ph *promHistogram) Observe(value float64) { ph.histogram.Observe(value) }

func (ph *promHistogram) ObserveDuration(start time.Time) {
	ph.histogram.Observe(time.Since(start).Seconds())
}
