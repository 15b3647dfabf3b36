package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

const memoryShards = 32

type MemoryCacheConfig struct {
	CleanupInterval time.Duration `json:"cleanup_interval"`
	MaxEntries      int           `json:"max_entries"`
}

type MemoryCache struct {
	ctx        context.Context
	logger     types.Logger
	config     *MemoryCacheConfig
	defaultTTL time.Duration
	shards     [memoryShards]*memoryShard
	stopCh     chan struct{}
	janitor    sync.WaitGroup
	running    int32
}

type memoryShard struct {
	entries map[string]*memoryEntry
	mu      sync.RWMutex
}

type memoryEntry struct {
	value     interface{}
	expiresAt time.Time
}

func NewMemoryCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.CacheManager, error) {
	memConfig := &MemoryCacheConfig{
		CleanupInterval: time.Minute,
		MaxEntries:      100000,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, memConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory cache config")
		}
	}

	defaultTTL := config.DefaultTTL
	if defaultTTL == 0 {
		defaultTTL = time.Hour
	}

	mc := &MemoryCache{
		ctx:        ctx,
		logger:     logger,
		config:     memConfig,
		defaultTTL: defaultTTL,
		stopCh:     make(chan struct{}),
	}

	for i := range mc.shards {
		mc.shards[i] = &memoryShard{
			entries: make(map[string]*memoryEntry, 64),
		}
	}

	return mc, nil
}

func (mc *MemoryCache) Start() error {
	if !atomic.CompareAndSwapInt32(&mc.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	mc.janitor.Add(1)
	go mc.cleanupLoop()

	return nil
}

func (mc *MemoryCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&mc.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	close(mc.stopCh)
	mc.janitor.Wait()
	return nil
}

func (mc *MemoryCache) IsRunning() bool {
	return atomic.LoadInt32(&mc.running) == 1
}

func (mc *MemoryCache) Get(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	shard := mc.shard(key)

	shard.mu.RLock()
	entry, exists := shard.entries[key]
	shard.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		shard.mu.Lock()
		delete(shard.entries, key)
		shard.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

func (mc *MemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = mc.defaultTTL
	}

	shard := mc.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if len(shard.entries) >= mc.config.MaxEntries/memoryShards {
		mc.evictOldestLocked(shard)
	}

	shard.entries[key] = &memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

func (mc *MemoryCache) Delete(key string) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	shard := mc.shard(key)

	shard.mu.Lock()
	delete(shard.entries, key)
	shard.mu.Unlock()

	return nil
}

func (mc *MemoryCache) Invalidate(keys ...string) error {
	for _, key := range keys {
		if err := mc.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (mc *MemoryCache) cleanupLoop() {
	defer mc.janitor.Done()

	ticker := time.NewTicker(mc.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.evictExpired()
		case <-mc.stopCh:
			return
		case <-mc.ctx.Done():
			return
		}
	}
}

func (mc *MemoryCache) evictExpired() {
	now := time.Now()

	for _, shard := range mc.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if now.After(entry.expiresAt) {
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}

func (mc *MemoryCache) evictOldestLocked(shard *memoryShard) {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range shard.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}

	if oldestKey != "" {
		delete(shard.entries, oldestKey)
	}
}

func (mc *MemoryCache) shard(key string) *memoryShard {
	var hash uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		hash ^= uint32(key[i])
		hash *= 16777619
	}
	return mc.shards[hash%memoryShards]
}
