package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/saiset-co/sai-dispatch/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const readerBufferSize = 4096

// HTTPServer accepts raw TCP connections and runs each through the request
// lifecycle on its own goroutine. Admission is gated by a weighted semaphore
// sized to max_connections, so accepts beyond the limit wait instead of
// spawning unbounded workers.
type HTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	middlewares     types.MiddlewareManager
	router          types.Router
	app             interface{}
	httpConfig      *types.HTTPConfig
	listener        net.Listener
	gate            *semaphore.Weighted
	chain           []types.Middleware
	readerPool      sync.Pool
	active          sync.WaitGroup
	state           atomic.Value
	fatal           atomic.Value
	shutdownTimeout time.Duration
}

func NewHTTPServer(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	middlewares types.MiddlewareManager,
	router types.Router,
	app interface{}) (*HTTPServer, error) {
	serverCtx, cancel := context.WithCancel(ctx)

	httpConfig := config.GetConfig().Server.HTTP

	s := &HTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		config:          config,
		logger:          logger,
		metrics:         metrics,
		middlewares:     middlewares,
		router:          router,
		app:             app,
		httpConfig:      httpConfig,
		gate:            semaphore.NewWeighted(httpConfig.MaxConnections),
		shutdownTimeout: 5 * time.Second,
	}

	s.readerPool.New = func() interface{} {
		return bufio.NewReaderSize(nil, readerBufferSize)
	}

	s.state.Store(StateStopped)

	return s, nil
}

// Start seals the router and middleware chain, binds the listener and begins
// accepting. After Start returns no further route or middleware registration
// takes effect.
func (s *HTTPServer) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	s.router.Seal()
	if err := s.middlewares.Seal(); err != nil && !types.IsError(err, types.ErrMiddlewareChainSealed) {
		s.setState(StateStopped)
		return err
	}
	s.chain = s.middlewares.Chain()

	addr := fmt.Sprintf("%s:%d", s.httpConfig.Host, s.httpConfig.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(StateStopped)
		return types.Errorf(types.ErrListenerFailed, "addr %s: %v", addr, err)
	}
	s.listener = listener

	s.setState(StateRunning)

	s.logger.Info("HTTP server listening",
		zap.String("addr", addr),
		zap.Int64("max_connections", s.httpConfig.MaxConnections),
		zap.Int("middlewares", len(s.chain)))

	go s.acceptLoop()

	return nil
}

func (s *HTTPServer) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	s.cancel()

	if err := s.listener.Close(); err != nil {
		s.logger.Warn("Failed to close listener", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("Shutdown timeout expired with connections still active")
	}

	s.setState(StateStopped)
	s.logger.Info("HTTP server stopped")

	return nil
}

func (s *HTTPServer) IsRunning() bool {
	return s.getState() == StateRunning
}

// Done is closed once the server has stopped for any reason, including a
// fatal listener failure.
func (s *HTTPServer) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Err reports the accept failure that killed the server, or nil after a
// clean stop.
func (s *HTTPServer) Err() error {
	if err, ok := s.fatal.Load().(error); ok {
		return err
	}
	return nil
}

func (s *HTTPServer) acceptLoop() {
	activeGauge := s.metrics.Gauge("http_active_connections", nil)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.getState() != StateRunning {
				return
			}
			// A failed accept while running is fatal: nothing is listening
			// anymore, so the server must not keep reporting itself healthy.
			s.fatal.Store(err)
			s.setState(StateStopped)
			s.cancel()
			s.logger.Error("Accept failed, server terminating", zap.Error(err))
			return
		}

		if err := s.gate.Acquire(s.ctx, 1); err != nil {
			conn.Close()
			return
		}

		s.active.Add(1)
		activeGauge.Inc()

		go func(c net.Conn) {
			defer func() {
				activeGauge.Dec()
				s.active.Done()
				s.gate.Release(1)
			}()
			s.handleConnection(c)
		}(conn)
	}
}

func (s *HTTPServer) getState() State {
	return s.state.Load().(State)
}

func (s *HTTPServer) setState(state State) {
	s.state.Store(state)
}

func (s *HTTPServer) transitionState(from, to State) bool {
	if s.getState() != from {
		return false
	}
	s.state.Store(to)
	return true
}
