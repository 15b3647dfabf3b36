package metrics

import (
	"context"

	"github.com/saiset-co/sai-dispatch/types"
)

// NewMetricsManager returns the configured implementation, or the noop
// manager when metrics are disabled so callers never need a nil check.
func NewMetricsManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.MetricsManager, error) {
	metricsConfig := config.GetConfig().Metrics

	if metricsConfig == nil || !metricsConfig.Enabled {
		return NewNoopMetrics(), nil
	}

	switch metricsConfig.Type {
	case "prometheus":
		return NewPrometheusMetrics(ctx, logger, metricsConfig)
	case "noop":
		return NewNoopMetrics(), nil
	default:
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", metricsConfig.Type)
	}
}
