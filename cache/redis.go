package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type RedisConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	KeyPrefix    string        `json:"key_prefix"`
}

// RedisCache stores values as sonic-encoded JSON; callers get []byte back
// and decode into their own types.
type RedisCache struct {
	ctx        context.Context
	logger     types.Logger
	config     *RedisConfig
	client     *redis.Client
	defaultTTL time.Duration
	running    int32
}

func NewRedisCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheManager, error) {
	redisConfig := &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "sai-dispatch",
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	defaultTTL := config.DefaultTTL
	if defaultTTL == 0 {
		defaultTTL = time.Hour
	}

	rc := &RedisCache{
		ctx:        ctx,
		logger:     logger,
		config:     redisConfig,
		defaultTTL: defaultTTL,
		client: redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
			Password:     redisConfig.Password,
			DB:           redisConfig.DB,
			PoolSize:     redisConfig.PoolSize,
			DialTimeout:  redisConfig.DialTimeout,
			ReadTimeout:  redisConfig.ReadTimeout,
			WriteTimeout: redisConfig.WriteTimeout,
		}),
	}

	return rc, nil
}

func (rc *RedisCache) Start() error {
	if !atomic.CompareAndSwapInt32(&rc.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	pingCtx, cancel := context.WithTimeout(rc.ctx, rc.config.DialTimeout)
	defer cancel()

	if err := rc.client.Ping(pingCtx).Err(); err != nil {
		atomic.StoreInt32(&rc.running, 0)
		return types.WrapError(err, "failed to connect to redis")
	}

	rc.logger.Info("Redis cache connected",
		zap.String("addr", fmt.Sprintf("%s:%d", rc.config.Host, rc.config.Port)),
		zap.Int("db", rc.config.DB))

	return nil
}

func (rc *RedisCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&rc.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	return rc.client.Close()
}

func (rc *RedisCache) IsRunning() bool {
	return atomic.LoadInt32(&rc.running) == 1
}

func (rc *RedisCache) Get(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	result, err := rc.client.Get(rc.ctx, rc.fullKey(key)).Bytes()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			rc.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	return result, true
}

func (rc *RedisCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = rc.defaultTTL
	}

	encoded, err := utils.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to encode cache value")
	}

	if err := rc.client.Set(rc.ctx, rc.fullKey(key), encoded, ttl).Err(); err != nil {
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (rc *RedisCache) Delete(key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if err := rc.client.Del(rc.ctx, rc.fullKey(key)).Err(); err != nil {
		return types.WrapError(err, "failed to delete cache entry")
	}

	return nil
}

func (rc *RedisCache) Invalidate(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = rc.fullKey(key)
	}

	if err := rc.client.Del(rc.ctx, fullKeys...).Err(); err != nil {
		return types.WrapError(err, "failed to invalidate cache entries")
	}

	return nil
}

func (rc *RedisCache) fullKey(key string) string {
	return rc.config.KeyPrefix + ":" + key
}
