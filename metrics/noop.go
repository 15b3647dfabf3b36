package metrics

import (
	"time"

	"github.com/saiset-co/sai-dispatch/types"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) Start() error    { return nil }
func (n *NoopMetrics) Stop() error     { return nil }
func (n *NoopMetrics) IsRunning() bool { return false }

func (n *NoopMetrics) Counter(name string, labels map[string]string) types.Counter {
	return noopInstrument{}
}

func (n *NoopMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	return noopInstrument{}
}

func (n *NoopMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	return noopInstrument{}
}

func (n *NoopMetrics) Snapshot() ([]types.MetricValue, error) {
	return nil, nil
}

type noopInstrument struct{}

func (noopInstrument) Inc()                          {}
func (noopInstrument) Add(float64)                   {}
func (noopInstrument) Set(float64)                   {}
func (noopInstrument) Dec()                          {}
func (noopInstrument) Observe(float64)               {}
func (noopInstrument) ObserveDuration(start time.Time) {}
