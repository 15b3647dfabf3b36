package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-dispatch/types"
)

var customCacheCreators = make(map[string]types.CacheManagerCreator)

func RegisterCacheManager(cacheManagerName string, creator types.CacheManagerCreator) {
	customCacheCreators[cacheManagerName] = creator
}

func NewCacheManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.CacheManager, error) {
	cacheConfig := config.GetConfig().Cache

	if cacheConfig == nil || !cacheConfig.Enabled {
		return nil, types.ErrCacheIsDisabled
	}

	var impl types.CacheManager
	var err error

	switch cacheConfig.Type {
	case "memory":
		impl, err = NewMemoryCache(ctx, logger, cacheConfig)
	case "redis":
		impl, err = NewRedisCache(ctx, logger, cacheConfig)
	default:
		if creator, exists := customCacheCreators[cacheConfig.Type]; exists {
			impl, err = creator(cacheConfig)
		} else {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", cacheConfig.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return impl, nil
	}

	return &instrumentedCacheManager{impl: impl, metrics: metrics}, nil
}

// instrumentedCacheManager records hit/miss and latency around the real
// backend.
type instrumentedCacheManager struct {
	impl    types.CacheManager
	metrics types.MetricsManager
}

func (icm *instrumentedCacheManager) Start() error     { return icm.impl.Start() }
func (icm *instrumentedCacheManager) Stop() error      { return icm.impl.Stop() }
func (icm *instrumentedCacheManager) IsRunning() bool  { return icm.impl.IsRunning() }

func (icm *instrumentedCacheManager) Get(key string) (interface{}, bool) {
	start := time.Now()
	value, exists := icm.impl.Get(key)

	result := "miss"
	if exists {
		result = "hit"
	}
	icm.record("get", result, start)

	return value, exists
}

func (icm *instrumentedCacheManager) Set(key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	err := icm.impl.Set(key, value, ttl)
	icm.record("set", resultOf(err), start)
	return err
}

func (icm *instrumentedCacheManager) Delete(key string) error {
	start := time.Now()
	err := icm.impl.Delete(key)
	icm.record("delete", resultOf(err), start)
	return err
}

func (icm *instrumentedCacheManager) Invalidate(keys ...string) error {
	start := time.Now()
	err := icm.impl.Invalidate(keys...)
	icm.record("invalidate", resultOf(err), start)
	return err
}

func (icm *instrumentedCacheManager) record(op, result string, start time.Time) {
	labels := map[string]string{"operation": op, "result": result}
	icm.metrics.Counter("cache_operations_total", labels).Inc()
	icm.metrics.Histogram("cache_operation_duration_seconds", nil, map[string]string{"operation": op}).ObserveDuration(start)
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
