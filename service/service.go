package service

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-dispatch/cache"
	"github.com/saiset-co/sai-dispatch/config"
	"github.com/saiset-co/sai-dispatch/logger"
	"github.com/saiset-co/sai-dispatch/metrics"
	"github.com/saiset-co/sai-dispatch/middleware"
	"github.com/saiset-co/sai-dispatch/router"
	"github.com/saiset-co/sai-dispatch/server"
	"github.com/saiset-co/sai-dispatch/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Service wires the dispatcher components together: config, logger, metrics,
// cache, middleware chain, route table and the HTTP server. Routes and
// middleware are registered between New and Start; Start seals both.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	configManager   types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	cache           types.CacheManager
	middlewares     *middleware.Manager
	router          *router.Router
	server          *server.HTTPServer
	app             interface{}
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
}

// New loads configuration from a YAML file and builds every component. The
// middleware chain declared in config is registered immediately, so chain
// entries added afterwards with Use run after the configured ones.
func New(ctx context.Context, configPath string) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	configManager, err := config.NewManager(configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to load configuration")
	}

	return build(ctx, configManager)
}

// NewWithConfig builds a service from an in-memory configuration, merged over
// defaults. Intended for embedding and tests.
func NewWithConfig(ctx context.Context, cfg *types.ServiceConfig) (*Service, error) {
	configManager, err := config.NewManagerFromConfig(cfg)
	if err != nil {
		return nil, types.WrapError(err, "failed to prepare configuration")
	}

	return build(ctx, configManager)
}

func build(ctx context.Context, configManager types.ConfigManager) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	cfg := configManager.GetConfig()

	log, err := logger.NewDefaultLogger(cfg.Logger)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build logger")
	}

	metricsManager, err := metrics.NewMetricsManager(serviceCtx, configManager, log)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build metrics manager")
	}

	var cacheManager types.CacheManager
	if cfg.Cache != nil && cfg.Cache.Enabled {
		cacheManager, err = cache.NewCacheManager(serviceCtx, configManager, log, metricsManager)
		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to build cache manager")
		}
	}

	middlewareManager, err := middleware.NewManager(serviceCtx, configManager, log, metricsManager, cacheManager)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build middleware manager")
	}

	if err := middlewareManager.RegisterMiddlewares(); err != nil {
		cancel()
		return nil, err
	}

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		configManager:   configManager,
		logger:          log,
		metrics:         metricsManager,
		cache:           cacheManager,
		middlewares:     middlewareManager,
		router:          router.New(cfg.Server.HTTP.StrictRoutes),
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
	}

	s.state.Store(StateStopped)

	return s, nil
}

// WithApp attaches a shared application context that handlers retrieve with
// types.AppOf. Must be called before Start.
func WithApp[T any](s *Service, app T) *Service {
	s.app = app
	return s
}

func (s *Service) Router() *router.Router { return s.router }

func (s *Service) Middlewares() types.MiddlewareManager { return s.middlewares }

// Use appends a middleware by name after the configured chain.
func (s *Service) Use(name string, params map[string]interface{}) error {
	return s.middlewares.Use(name, params)
}

func (s *Service) Logger() types.Logger { return s.logger }

func (s *Service) Metrics() types.MetricsManager { return s.metrics }

func (s *Service) Cache() types.CacheManager { return s.cache }

func (s *Service) Config() types.ConfigManager { return s.configManager }

// Start brings the components up and begins serving. It returns once the
// listener is accepting; use Wait or Done to block until shutdown.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServiceIsRunning
	}

	httpServer, err := server.NewHTTPServer(
		s.ctx, s.configManager, s.logger, s.metrics, s.middlewares, s.router, s.app)
	if err != nil {
		s.setState(StateStopped)
		return err
	}
	s.server = httpServer

	if err := s.startComponents(); err != nil {
		s.setState(StateStopped)
		return types.Errorf(types.ErrComponentStartFailed, "%v", err)
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	s.wg.Add(1)
	go s.serverMonitor()

	s.logger.Info("Service started",
		zap.String("name", s.configManager.GetConfig().Name),
		zap.String("version", s.configManager.GetConfig().Version))

	return nil
}

func (s *Service) startComponents() error {
	g, _ := errgroup.WithContext(s.ctx)

	g.Go(func() error {
		if err := s.metrics.Start(); err != nil {
			return types.WrapError(err, "failed to start metrics manager")
		}
		return nil
	})

	if s.cache != nil {
		g.Go(func() error {
			if err := s.cache.Start(); err != nil {
				return types.WrapError(err, "failed to start cache manager")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return s.server.Start()
}

// Stop shuts the service down. Safe to call once from any goroutine; the
// signal handler calls it on SIGINT/SIGTERM.
func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping service")
	s.cancel()

	err := s.stopComponents()

	s.wg.Wait()
	s.setState(StateStopped)

	if err != nil {
		return err
	}

	s.logger.Info("Service stopped")
	return nil
}

// Wait blocks until the service has shut down, whether through Stop, a
// signal or context cancellation.
func (s *Service) Wait() {
	<-s.done
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) stopComponents() error {
	var stopErrors []error

	if err := s.server.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
		s.logger.Error("Failed to stop HTTP server", zap.Error(err))
		stopErrors = append(stopErrors, err)
	}

	s.middlewares.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)

	if s.cache != nil {
		g.Go(func() error {
			if err := s.cache.Stop(); err != nil {
				s.logger.Error("Failed to stop cache manager", zap.Error(err))
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := s.metrics.Stop(); err != nil {
			s.logger.Error("Failed to stop metrics manager", zap.Error(err))
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		stopErrors = append(stopErrors, err)
	}

	if len(stopErrors) > 0 {
		return types.Errorf(types.ErrComponentStopFailed, "%v", stopErrors)
	}

	return nil
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			s.cancel()
		case <-s.ctx.Done():
		}

		signal.Stop(sigChan)
	}()
}

// serverMonitor escalates a fatal listener failure into full service
// shutdown, so a dead accept loop cannot leave the service looking healthy.
func (s *Service) serverMonitor() {
	defer s.wg.Done()

	select {
	case <-s.server.Done():
		if err := s.server.Err(); err != nil {
			s.logger.Error("HTTP server failed", zap.Error(err))
			s.cancel()
		}
	case <-s.ctx.Done():
	}
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	if s.transitionState(StateRunning, StateStopping) {
		if err := s.stopComponents(); err != nil {
			s.logger.Error("Error during shutdown", zap.Error(err))
		}
		s.setState(StateStopped)
	}
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(state State) {
	s.state.Store(state)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
