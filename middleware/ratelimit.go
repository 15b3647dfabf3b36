package middleware

import (
	"hash/fnv"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

const rateLimitShards = 64

type RateLimitMiddleware struct {
	logger          types.Logger
	metrics         types.MetricsManager
	rateLimitConfig *RateLimitConfig
	shards          [rateLimitShards]*rateLimitShard
	stopCleanup     chan struct{}
	cleanupDone     sync.WaitGroup
}

type rateLimitShard struct {
	clients map[string]*clientWindow
	mu      sync.Mutex
}

type clientWindow struct {
	counter     int64
	windowStart int64
	lastAccess  int64
}

type RateLimitConfig struct {
	RequestsPerMinute int64 `json:"requests_per_minute"`
	WindowSeconds     int64 `json:"window_seconds"`
}

func NewRateLimitMiddleware(env Env, params map[string]interface{}) (types.Middleware, error) {
	rateLimitConfig := &RateLimitConfig{
		RequestsPerMinute: 100,
		WindowSeconds:     60,
	}

	if params != nil {
		if err := utils.UnmarshalConfig(params, rateLimitConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal ratelimit middleware config")
		}
	}

	rl := &RateLimitMiddleware{
		logger:          env.Logger,
		metrics:         env.Metrics,
		rateLimitConfig: rateLimitConfig,
		stopCleanup:     make(chan struct{}),
	}

	for i := range rl.shards {
		rl.shards[i] = &rateLimitShard{
			clients: make(map[string]*clientWindow, 64),
		}
	}

	rl.cleanupDone.Add(1)
	go rl.cleanupLoop()

	return rl, nil
}

func (rl *RateLimitMiddleware) Name() string { return "ratelimit" }

func (rl *RateLimitMiddleware) Execute(req *types.Request, res *types.Response, exec types.Executor) error {
	client := clientKey(req)

	if !rl.allow(client) {
		rl.logger.Warn("Rate limit exceeded",
			zap.String("client", client),
			zap.String("path", req.Path))

		if rl.metrics != nil {
			rl.metrics.Counter("http_rate_limited_total", nil).Inc()
		}

		res.SetStatus(types.StatusTooManyRequests)
		res.ResetBody()
		_, err := res.WriteString("Too Many Requests")
		return err
	}

	return exec.Next()
}

func (rl *RateLimitMiddleware) allow(client string) bool {
	shard := rl.shards[shardIndex(client)]
	now := time.Now().Unix()
	windowSize := rl.rateLimitConfig.WindowSeconds

	shard.mu.Lock()
	defer shard.mu.Unlock()

	window, exists := shard.clients[client]
	if !exists {
		window = &clientWindow{windowStart: now}
		shard.clients[client] = window
	}

	if now-window.windowStart >= windowSize {
		window.windowStart = now
		window.counter = 0
	}

	window.counter++
	window.lastAccess = now

	limit := rl.rateLimitConfig.RequestsPerMinute * windowSize / 60
	if limit == 0 {
		limit = 1
	}

	return window.counter <= limit
}

func (rl *RateLimitMiddleware) cleanupLoop() {
	defer rl.cleanupDone.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictStale()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	cutoff := time.Now().Unix() - 10*rl.rateLimitConfig.WindowSeconds

	for _, shard := range rl.shards {
		shard.mu.Lock()
		for client, window := range shard.clients {
			if window.lastAccess < cutoff {
				delete(shard.clients, client)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine; the manager calls it on Clear.
func (rl *RateLimitMiddleware) Close() error {
	close(rl.stopCleanup)
	rl.cleanupDone.Wait()
	return nil
}

func clientKey(req *types.Request) string {
	if forwarded := req.Header("X-Forwarded-For"); forwarded != "" {
		if comma := strings.IndexByte(forwarded, ','); comma > 0 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return forwarded
	}

	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	return req.RemoteAddr
}

func shardIndex(client string) uint32 {
	hasher := fnv.New32a()
	hasher.Write([]byte(client))
	return hasher.Sum32() % rateLimitShards
}
