package middleware

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/cache"
	"github.com/saiset-co/sai-dispatch/logger"
	"github.com/saiset-co/sai-dispatch/types"
)

func testEnv() Env {
	return Env{
		Ctx:    context.Background(),
		Logger: logger.NewZapWrapper(zap.NewNop()),
	}
}

func newRequest(method, path string) *types.Request {
	return &types.Request{
		Method:     method,
		RawTarget:  path,
		Path:       path,
		Proto:      "HTTP/1.1",
		Headers:    make(map[string]string),
		RemoteAddr: "10.0.0.1:40000",
	}
}

// runChain pushes a request through a single middleware wrapped around a
// terminal handler and reports whether the handler ran.
func runChain(t *testing.T, mw types.Middleware, handler types.Handler, req *types.Request) (*types.Response, bool, error) {
	t.Helper()

	handlerRan := false
	terminal := func(req *types.Request, res *types.Response) error {
		handlerRan = true
		if handler != nil {
			return handler(req, res)
		}
		return nil
	}

	res := types.NewResponse(io.Discard)
	t.Cleanup(res.Release)

	err := NewExecutor([]types.Middleware{mw}, terminal, req, res).Next()
	return res, handlerRan, err
}

func TestAuthMiddleware_BearerTokenAccepted(t *testing.T) {
	mw, err := NewAuthMiddleware(testEnv(), map[string]interface{}{"token": "s3cret"})
	require.NoError(t, err)

	req := newRequest("GET", "/private")
	req.Headers["Authorization"] = "Bearer s3cret"

	res, handlerRan, err := runChain(t, mw, nil, req)
	require.NoError(t, err)
	assert.True(t, handlerRan)
	assert.Equal(t, types.StatusOK, res.Status())
}

func TestAuthMiddleware_HeaderTokenAccepted(t *testing.T) {
	mw, err := NewAuthMiddleware(testEnv(), map[string]interface{}{"token": "s3cret"})
	require.NoError(t, err)

	req := newRequest("GET", "/private")
	req.Headers["X-Auth-Token"] = "s3cret"

	_, handlerRan, err := runChain(t, mw, nil, req)
	require.NoError(t, err)
	assert.True(t, handlerRan)
}

func TestAuthMiddleware_InvalidTokenShortCircuits(t *testing.T) {
	mw, err := NewAuthMiddleware(testEnv(), map[string]interface{}{"token": "s3cret"})
	require.NoError(t, err)

	req := newRequest("GET", "/private")
	req.Headers["Authorization"] = "Bearer wrong"

	res, handlerRan, err := runChain(t, mw, nil, req)
	require.NoError(t, err)
	assert.False(t, handlerRan)
	assert.Equal(t, types.StatusUnauthorized, res.Status())
	assert.Equal(t, "Unauthorized", string(res.BodyBytes()))
}

func TestCORSMiddleware_PreflightShortCircuits(t *testing.T) {
	mw, err := NewCORSMiddleware(testEnv(), nil)
	require.NoError(t, err)

	req := newRequest("OPTIONS", "/api")
	req.Headers["Origin"] = "https://example.com"

	res, handlerRan, err := runChain(t, mw, nil, req)
	require.NoError(t, err)
	assert.False(t, handlerRan)
	assert.Equal(t, types.StatusNoContent, res.Status())
	assert.Equal(t, "*", res.HeaderValue("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, res.HeaderValue("Access-Control-Allow-Methods"))
	assert.NotEmpty(t, res.HeaderValue("Access-Control-Max-Age"))
}

func TestCORSMiddleware_SpecificOrigin(t *testing.T) {
	mw, err := NewCORSMiddleware(testEnv(), map[string]interface{}{
		"allowed_origins": []string{"https://allowed.test"},
	})
	require.NoError(t, err)

	req := newRequest("GET", "/api")
	req.Headers["Origin"] = "https://allowed.test"

	res, handlerRan, err := runChain(t, mw, nil, req)
	require.NoError(t, err)
	assert.True(t, handlerRan)
	assert.Equal(t, "https://allowed.test", res.HeaderValue("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", res.HeaderValue("Vary"))
}

func TestCORSMiddleware_DisallowedOriginGetsNoHeader(t *testing.T) {
	mw, err := NewCORSMiddleware(testEnv(), map[string]interface{}{
		"allowed_origins": []string{"https://allowed.test"},
	})
	require.NoError(t, err)

	req := newRequest("GET", "/api")
	req.Headers["Origin"] = "https://evil.test"

	res, handlerRan, err := runChain(t, mw, nil, req)
	require.NoError(t, err)
	assert.True(t, handlerRan)
	assert.Empty(t, res.HeaderValue("Access-Control-Allow-Origin"))
}

func TestMetadataMiddleware_GeneratesRequestID(t *testing.T) {
	mw, err := NewMetadataMiddleware(testEnv(), nil)
	require.NoError(t, err)

	req := newRequest("GET", "/anything")

	res, _, err := runChain(t, mw, nil, req)
	require.NoError(t, err)

	generated := req.Header("X-Request-Id")
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, res.HeaderValue("X-Request-Id"))
}

func TestMetadataMiddleware_KeepsExistingRequestID(t *testing.T) {
	mw, err := NewMetadataMiddleware(testEnv(), nil)
	require.NoError(t, err)

	req := newRequest("GET", "/anything")
	req.Headers["X-Request-Id"] = "preset-id"

	res, _, err := runChain(t, mw, nil, req)
	require.NoError(t, err)
	assert.Equal(t, "preset-id", res.HeaderValue("X-Request-Id"))
}

func TestMetadataMiddleware_NilHeadersRequest(t *testing.T) {
	mw, err := NewMetadataMiddleware(testEnv(), nil)
	require.NoError(t, err)

	req := &types.Request{Method: "GET", Path: "/bare"}

	res, _, err := runChain(t, mw, nil, req)
	require.NoError(t, err)

	generated := req.Header("X-Request-Id")
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, res.HeaderValue("X-Request-Id"))
}

func TestRecoveryMiddleware_TurnsPanicIntoError(t *testing.T) {
	mw, err := NewRecoveryMiddleware(testEnv(), nil)
	require.NoError(t, err)

	req := newRequest("GET", "/panic")

	_, _, err = runChain(t, mw, func(req *types.Request, res *types.Response) error {
		panic("kaboom")
	}, req)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPanicRecovered)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestRateLimitMiddleware_LimitShortCircuits(t *testing.T) {
	mw, err := NewRateLimitMiddleware(testEnv(), map[string]interface{}{
		"requests_per_minute": 2,
		"window_seconds":      60,
	})
	require.NoError(t, err)
	defer mw.(io.Closer).Close()

	req := newRequest("GET", "/limited")

	for i := 0; i < 2; i++ {
		res, handlerRan, err := runChain(t, mw, nil, req)
		require.NoError(t, err)
		assert.True(t, handlerRan, "request %d should pass", i+1)
		assert.Equal(t, types.StatusOK, res.Status())
	}

	res, handlerRan, err := runChain(t, mw, nil, req)
	require.NoError(t, err)
	assert.False(t, handlerRan)
	assert.Equal(t, types.StatusTooManyRequests, res.Status())
}

func TestRateLimitMiddleware_ClientsAreIndependent(t *testing.T) {
	mw, err := NewRateLimitMiddleware(testEnv(), map[string]interface{}{
		"requests_per_minute": 1,
		"window_seconds":      60,
	})
	require.NoError(t, err)
	defer mw.(io.Closer).Close()

	first := newRequest("GET", "/limited")
	first.Headers["X-Forwarded-For"] = "198.51.100.1"

	second := newRequest("GET", "/limited")
	second.Headers["X-Forwarded-For"] = "198.51.100.2"

	_, ran, err := runChain(t, mw, nil, first)
	require.NoError(t, err)
	assert.True(t, ran)

	_, ran, err = runChain(t, mw, nil, second)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestCompressionMiddleware_GzipLargeBody(t *testing.T) {
	mw, err := NewCompressionMiddleware(testEnv(), map[string]interface{}{"min_size": 10})
	require.NoError(t, err)

	payload := strings.Repeat("compress me ", 50)

	req := newRequest("GET", "/big")
	req.Headers["Accept-Encoding"] = "gzip"

	res, _, err := runChain(t, mw, func(req *types.Request, res *types.Response) error {
		_, err := res.WriteString(payload)
		return err
	}, req)
	require.NoError(t, err)

	assert.Equal(t, "gzip", res.HeaderValue("Content-Encoding"))

	reader, err := gzip.NewReader(bytes.NewReader(res.BodyBytes()))
	require.NoError(t, err)
	decoded, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, string(decoded))
}

func TestCompressionMiddleware_BrotliPreferred(t *testing.T) {
	mw, err := NewCompressionMiddleware(testEnv(), map[string]interface{}{"min_size": 10})
	require.NoError(t, err)

	payload := strings.Repeat("compress me ", 50)

	req := newRequest("GET", "/big")
	req.Headers["Accept-Encoding"] = "br, gzip"

	res, _, err := runChain(t, mw, func(req *types.Request, res *types.Response) error {
		_, err := res.WriteString(payload)
		return err
	}, req)
	require.NoError(t, err)

	assert.Equal(t, "br", res.HeaderValue("Content-Encoding"))

	decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(res.BodyBytes())))
	require.NoError(t, err)
	assert.Equal(t, payload, string(decoded))
}

func TestCompressionMiddleware_GzipLevelClamped(t *testing.T) {
	// Level 11 is valid for brotli but out of range for gzip; the gzip path
	// must clamp instead of failing and leaving the body unencoded.
	mw, err := NewCompressionMiddleware(testEnv(), map[string]interface{}{
		"min_size": 10,
		"level":    11,
	})
	require.NoError(t, err)

	payload := strings.Repeat("compress me ", 50)

	req := newRequest("GET", "/big")
	req.Headers["Accept-Encoding"] = "gzip"

	res, _, err := runChain(t, mw, func(req *types.Request, res *types.Response) error {
		_, err := res.WriteString(payload)
		return err
	}, req)
	require.NoError(t, err)

	assert.Equal(t, "gzip", res.HeaderValue("Content-Encoding"))

	reader, err := gzip.NewReader(bytes.NewReader(res.BodyBytes()))
	require.NoError(t, err)
	decoded, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, string(decoded))
}

func TestCompressionMiddleware_SmallBodyUntouched(t *testing.T) {
	mw, err := NewCompressionMiddleware(testEnv(), nil)
	require.NoError(t, err)

	req := newRequest("GET", "/small")
	req.Headers["Accept-Encoding"] = "gzip"

	res, _, err := runChain(t, mw, func(req *types.Request, res *types.Response) error {
		_, err := res.WriteString("tiny")
		return err
	}, req)
	require.NoError(t, err)

	assert.Empty(t, res.HeaderValue("Content-Encoding"))
	assert.Equal(t, "tiny", string(res.BodyBytes()))
}

func TestCacheMiddleware_StoresAndReplays(t *testing.T) {
	env := testEnv()

	memCache, err := cache.NewMemoryCache(context.Background(), env.Logger, &types.CacheConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)
	env.Cache = memCache

	mw, err := NewCacheMiddleware(env, nil)
	require.NoError(t, err)

	handlerCalls := 0
	handler := func(req *types.Request, res *types.Response) error {
		handlerCalls++
		res.SetContentType("text/plain")
		_, err := res.WriteString("cached body")
		return err
	}

	first := newRequest("GET", "/cacheable")
	res, _, err := runChain(t, mw, handler, first)
	require.NoError(t, err)
	assert.Equal(t, 1, handlerCalls)
	assert.Empty(t, res.HeaderValue("X-Cache"))

	second := newRequest("GET", "/cacheable")
	res, handlerRan, err := runChain(t, mw, handler, second)
	require.NoError(t, err)
	assert.False(t, handlerRan)
	assert.Equal(t, 1, handlerCalls)
	assert.Equal(t, "HIT", res.HeaderValue("X-Cache"))
	assert.Equal(t, "cached body", string(res.BodyBytes()))
	assert.Equal(t, "text/plain", res.HeaderValue("Content-Type"))
}

func TestCacheMiddleware_SkipsNonGET(t *testing.T) {
	env := testEnv()

	memCache, err := cache.NewMemoryCache(context.Background(), env.Logger, &types.CacheConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)
	env.Cache = memCache

	mw, err := NewCacheMiddleware(env, nil)
	require.NoError(t, err)

	handlerCalls := 0
	handler := func(req *types.Request, res *types.Response) error {
		handlerCalls++
		_, err := res.WriteString("response")
		return err
	}

	for i := 0; i < 2; i++ {
		req := newRequest("POST", "/mutating")
		_, _, err := runChain(t, mw, handler, req)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, handlerCalls)
}
