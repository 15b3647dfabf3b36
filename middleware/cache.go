package middleware

import (
	"time"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type CacheMiddleware struct {
	logger      types.Logger
	cache       types.CacheManager
	cacheConfig *CacheMiddlewareConfig
}

type CacheMiddlewareConfig struct {
	DefaultTTLSeconds int `json:"default_ttl_seconds"`
}

type cachedResponse struct {
	Status  int              `json:"status"`
	Headers []types.HeaderKV `json:"headers"`
	Body    []byte           `json:"body"`
}

func NewCacheMiddleware(env Env, params map[string]interface{}) (types.Middleware, error) {
	if env.Cache == nil {
		return nil, types.ErrCacheIsDisabled
	}

	cacheConfig := &CacheMiddlewareConfig{
		DefaultTTLSeconds: 300,
	}

	if params != nil {
		if err := utils.UnmarshalConfig(params, cacheConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal cache middleware config")
		}
	}

	return &CacheMiddleware{
		logger:      env.Logger,
		cache:       env.Cache,
		cacheConfig: cacheConfig,
	}, nil
}

func (c *CacheMiddleware) Name() string { return "cache" }

// Execute serves cached GET responses without running the rest of the chain
// and stores fresh successful ones on the way back out.
func (c *CacheMiddleware) Execute(req *types.Request, res *types.Response, exec types.Executor) error {
	if req.Method != "GET" {
		return exec.Next()
	}

	key := c.buildKey(req)

	if value, exists := c.cache.Get(key); exists {
		if cached := decodeCached(value); cached != nil {
			c.replay(res, cached)
			return nil
		}
	}

	if err := exec.Next(); err != nil {
		return err
	}

	if res.Status() < 300 && res.BodyLen() > 0 {
		ttl := time.Duration(c.cacheConfig.DefaultTTLSeconds) * time.Second
		if err := c.cache.Set(key, snapshotResponse(res), ttl); err != nil {
			c.logger.Warn("Failed to store cached response",
				zap.String("key", key),
				zap.Error(err))
		}
	}

	return nil
}

func (c *CacheMiddleware) replay(res *types.Response, cached *cachedResponse) {
	res.SetStatus(cached.Status)
	for _, kv := range cached.Headers {
		res.SetHeader(kv.Name, kv.Value)
	}
	res.SetHeader("X-Cache", "HIT")
	res.ResetBody()
	res.Write(cached.Body)
}

func (c *CacheMiddleware) buildKey(req *types.Request) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString(req.Method)
	buf.WriteString(":")
	buf.WriteString(req.RawTarget)

	return buf.String()
}

// decodeCached accepts both backend shapes: the memory cache hands the
// stored value back as-is, the redis cache hands back encoded bytes.
func decodeCached(value interface{}) *cachedResponse {
	switch v := value.(type) {
	case *cachedResponse:
		return v
	case []byte:
		cached := &cachedResponse{}
		if err := utils.Unmarshal(v, cached); err != nil {
			return nil
		}
		return cached
	default:
		return nil
	}
}

func snapshotResponse(res *types.Response) *cachedResponse {
	body := make([]byte, res.BodyLen())
	copy(body, res.BodyBytes())

	headers := make([]types.HeaderKV, len(res.Headers()))
	copy(headers, res.Headers())

	return &cachedResponse{
		Status:  res.Status(),
		Headers: headers,
		Body:    body,
	}
}
