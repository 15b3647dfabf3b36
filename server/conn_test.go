package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/config"
	"github.com/saiset-co/sai-dispatch/logger"
	"github.com/saiset-co/sai-dispatch/metrics"
	"github.com/saiset-co/sai-dispatch/middleware"
	"github.com/saiset-co/sai-dispatch/router"
	"github.com/saiset-co/sai-dispatch/types"
)

func newTestServer(t *testing.T, setup func(r *router.Router, mw *middleware.Manager)) *HTTPServer {
	t.Helper()

	cfg := &types.ServiceConfig{
		Name: "conn-test",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:           "127.0.0.1",
				Port:           5882,
				MaxConnections: 4,
			},
		},
	}

	configManager, err := config.NewManagerFromConfig(cfg)
	require.NoError(t, err)

	log := logger.NewZapWrapper(zap.NewNop())
	noop := metrics.NewNoopMetrics()

	rt := router.New(false)
	mw, err := middleware.NewManager(context.Background(), configManager, log, noop, nil)
	require.NoError(t, err)

	if setup != nil {
		setup(rt, mw)
	}

	s, err := NewHTTPServer(context.Background(), configManager, log, noop, mw, rt, nil)
	require.NoError(t, err)

	rt.Seal()
	require.NoError(t, mw.Seal())
	s.chain = mw.Chain()

	return s
}

// driveRequest pushes raw request bytes through an in-memory connection and
// returns whatever the server wrote back before closing.
func driveRequest(t *testing.T, s *HTTPServer, raw string) string {
	t.Helper()

	client, serverSide := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		s.handleConnection(serverSide)
		close(done)
	}()

	_, err := client.Write([]byte(raw))
	require.NoError(t, err)

	response, _ := io.ReadAll(client)
	<-done

	return string(response)
}

func TestHandleConnection_ExactRoute(t *testing.T) {
	s := newTestServer(t, func(r *router.Router, mw *middleware.Manager) {
		require.NoError(t, r.GET("/hello", func(req *types.Request, res *types.Response) error {
			res.SetContentType("text/plain")
			res.WriteString("hi there")
			return nil
		}))
	})

	response := driveRequest(t, s, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")

	assert.True(t, strings.HasPrefix(response, "HTTP/1.1 200 OK\r\n"), response)
	assert.Contains(t, response, "Content-Length: 8\r\n")
	assert.Contains(t, response, "Connection: close\r\n")
	assert.True(t, strings.HasSuffix(response, "\r\n\r\nhi there"), response)
}

func TestHandleConnection_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	response := driveRequest(t, s, "GET /missing HTTP/1.1\r\n\r\n")

	assert.True(t, strings.HasPrefix(response, "HTTP/1.1 404 Not Found\r\n"), response)
	assert.True(t, strings.HasSuffix(response, "\r\n\r\nNot Found"), response)
}

func TestHandleConnection_PathParams(t *testing.T) {
	s := newTestServer(t, func(r *router.Router, mw *middleware.Manager) {
		require.NoError(t, r.GET("/users/:id", func(req *types.Request, res *types.Response) error {
			id, err := req.Param("id")
			if err != nil {
				return err
			}
			res.WriteString("user=" + id)
			return nil
		}))
	})

	response := driveRequest(t, s, "GET /users/42 HTTP/1.1\r\n\r\n")

	assert.True(t, strings.HasSuffix(response, "user=42"), response)
}

func TestHandleConnection_QueryReachesHandler(t *testing.T) {
	s := newTestServer(t, func(r *router.Router, mw *middleware.Manager) {
		require.NoError(t, r.GET("/search", func(req *types.Request, res *types.Response) error {
			res.WriteString(req.QueryValue("q"))
			return nil
		}))
	})

	response := driveRequest(t, s, "GET /search?q=golang HTTP/1.1\r\n\r\n")

	assert.True(t, strings.HasSuffix(response, "golang"), response)
}

func TestHandleConnection_HandlerError(t *testing.T) {
	s := newTestServer(t, func(r *router.Router, mw *middleware.Manager) {
		require.NoError(t, r.GET("/boom", func(req *types.Request, res *types.Response) error {
			return types.WrapError(types.ErrInternalError, "loading profile")
		}))
	})

	response := driveRequest(t, s, "GET /boom HTTP/1.1\r\n\r\n")

	assert.True(t, strings.HasPrefix(response, "HTTP/1.1 500 Internal Server Error\r\n"), response)
	assert.True(t, strings.HasSuffix(response, "Internal Server Error: internal error"), response)
}

func TestHandleConnection_ErrorDiscardsPartialBody(t *testing.T) {
	s := newTestServer(t, func(r *router.Router, mw *middleware.Manager) {
		require.NoError(t, r.GET("/partial", func(req *types.Request, res *types.Response) error {
			res.WriteString("half-written")
			return types.ErrInvalidState
		}))
	})

	response := driveRequest(t, s, "GET /partial HTTP/1.1\r\n\r\n")

	assert.NotContains(t, response, "half-written")
	assert.True(t, strings.HasSuffix(response, "Internal Server Error: invalid state"), response)
}

func TestHandleConnection_MalformedRequestClosesSilently(t *testing.T) {
	s := newTestServer(t, nil)

	response := driveRequest(t, s, "NONSENSE\r\n\r\n")

	assert.Empty(t, response)
}

func TestHandleConnection_PostBody(t *testing.T) {
	s := newTestServer(t, func(r *router.Router, mw *middleware.Manager) {
		require.NoError(t, r.POST("/echo", func(req *types.Request, res *types.Response) error {
			res.Write(req.Body)
			return nil
		}))
	})

	response := driveRequest(t, s, "POST /echo HTTP/1.1\r\nContent-Length: 7\r\n\r\npayload")

	assert.True(t, strings.HasSuffix(response, "payload"), response)
}

type traceMiddleware struct {
	name  string
	trace *[]string
}

func (m *traceMiddleware) Name() string { return m.name }

func (m *traceMiddleware) Execute(req *types.Request, res *types.Response, exec types.Executor) error {
	*m.trace = append(*m.trace, m.name+"-before")
	err := exec.Next()
	*m.trace = append(*m.trace, m.name+"-after")
	return err
}

func TestHandleConnection_MiddlewareOrdering(t *testing.T) {
	var trace []string

	s := newTestServer(t, func(r *router.Router, mw *middleware.Manager) {
		require.NoError(t, mw.Register(&traceMiddleware{name: "outer", trace: &trace}))
		require.NoError(t, mw.Register(&traceMiddleware{name: "inner", trace: &trace}))
		require.NoError(t, r.GET("/traced", func(req *types.Request, res *types.Response) error {
			trace = append(trace, "handler")
			res.WriteString("ok")
			return nil
		}))
	})

	response := driveRequest(t, s, "GET /traced HTTP/1.1\r\n\r\n")

	assert.True(t, strings.HasSuffix(response, "ok"), response)
	assert.Equal(t, []string{
		"outer-before", "inner-before", "handler", "inner-after", "outer-after",
	}, trace)
}

func TestHandleConnection_PanicRecovered(t *testing.T) {
	s := newTestServer(t, func(r *router.Router, mw *middleware.Manager) {
		require.NoError(t, mw.Use("recovery", nil))
		require.NoError(t, r.GET("/panic", func(req *types.Request, res *types.Response) error {
			panic("boom")
		}))
	})

	response := driveRequest(t, s, "GET /panic HTTP/1.1\r\n\r\n")

	assert.True(t, strings.HasPrefix(response, "HTTP/1.1 500 Internal Server Error\r\n"), response)
	assert.Contains(t, response, "panic recovered")
}

func TestHandleConnection_AppContext(t *testing.T) {
	type appDeps struct {
		Greeting string
	}

	s := newTestServer(t, func(r *router.Router, mw *middleware.Manager) {
		require.NoError(t, r.GET("/app", func(req *types.Request, res *types.Response) error {
			deps, err := types.AppOf[*appDeps](req)
			if err != nil {
				return err
			}
			res.WriteString(deps.Greeting)
			return nil
		}))
	})
	s.app = &appDeps{Greeting: "from-app"}

	response := driveRequest(t, s, "GET /app HTTP/1.1\r\n\r\n")

	assert.True(t, strings.HasSuffix(response, "from-app"), response)
}

func TestRootCause_MixedWrapping(t *testing.T) {
	base := types.ErrRouteNotFound
	wrapped := pkgerrors.Wrap(fmt.Errorf("lookup failed: %w", base), "dispatching")

	assert.Equal(t, base, rootCause(wrapped))
	assert.Equal(t, base, rootCause(base))
}
