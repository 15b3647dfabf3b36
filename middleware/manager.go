package middleware

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
)

const MaxMiddlewares = 64

// Env is handed to middleware creators so a middleware can reach the
// process-wide collaborators without depending on the manager itself.
type Env struct {
	Ctx     context.Context
	Config  types.ConfigManager
	Logger  types.Logger
	Metrics types.MetricsManager
	Cache   types.CacheManager
}

// Creator covers the recognized initializer shapes: ignore both arguments
// (no-arg), read params only (config-only), or use the environment too.
type Creator func(env Env, params map[string]interface{}) (types.Middleware, error)

var customCreators = make(map[string]Creator)

// RegisterCreator makes a custom middleware constructible by name from the
// config chain. Built-in names cannot be overridden.
func RegisterCreator(name string, creator Creator) {
	customCreators[name] = creator
}

var builtinCreators = map[string]Creator{
	"recovery":    NewRecoveryMiddleware,
	"logging":     NewLoggingMiddleware,
	"metadata":    NewMetadataMiddleware,
	"ratelimit":   NewRateLimitMiddleware,
	"cors":        NewCORSMiddleware,
	"auth":        NewAuthMiddleware,
	"cache":       NewCacheMiddleware,
	"compression": NewCompressionMiddleware,
}

// Manager owns the process-wide ordered middleware list. The list is built
// during setup, sealed before serving, and from then on shared read-only by
// every connection worker.
type Manager struct {
	env    Env
	chain  []types.Middleware
	sealed int32
	mu     sync.Mutex
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, cache types.CacheManager) (*Manager, error) {
	return &Manager{
		env: Env{
			Ctx:     ctx,
			Config:  config,
			Logger:  logger,
			Metrics: metrics,
			Cache:   cache,
		},
		chain: make([]types.Middleware, 0, 8),
	}, nil
}

// RegisterMiddlewares builds the chain from config in declaration order: the
// first configured entry is the outermost middleware.
func (m *Manager) RegisterMiddlewares() error {
	mwConfig := m.env.Config.GetConfig().Middlewares
	if mwConfig == nil || !mwConfig.Enabled {
		return nil
	}

	for _, item := range mwConfig.Chain {
		if err := m.Use(item.Name, item.Params); err != nil {
			return types.WrapError(err, "failed to register middleware "+item.Name)
		}
		m.env.Logger.Info("Middleware registered", zap.String("name", item.Name))
	}

	return nil
}

// Use constructs a middleware by name and appends it in execution order.
func (m *Manager) Use(name string, params map[string]interface{}) error {
	creator, exists := builtinCreators[name]
	if !exists {
		creator, exists = customCreators[name]
	}
	if !exists {
		return types.Errorf(types.ErrMiddlewareNotFound, "name: %s", name)
	}

	mw, err := creator(m.env, params)
	if err != nil {
		return err
	}

	return m.Register(mw)
}

// Register appends an already constructed middleware.
func (m *Manager) Register(middleware types.Middleware) error {
	if middleware == nil {
		return types.ErrMiddlewareInvalidType
	}

	if atomic.LoadInt32(&m.sealed) == 1 {
		return types.ErrMiddlewareChainSealed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.chain) >= MaxMiddlewares {
		return types.NewErrorf("maximum middleware count exceeded: %d", MaxMiddlewares)
	}

	m.chain = append(m.chain, middleware)
	return nil
}

// Seal freezes the chain; Chain then returns an immutable snapshot.
func (m *Manager) Seal() error {
	if !atomic.CompareAndSwapInt32(&m.sealed, 0, 1) {
		return types.ErrMiddlewareChainSealed
	}
	return nil
}

func (m *Manager) Sealed() bool {
	return atomic.LoadInt32(&m.sealed) == 1
}

// Chain returns a copy of the ordered list; the server takes one snapshot at
// start and reuses it for every request.
func (m *Manager) Chain() []types.Middleware {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]types.Middleware, len(m.chain))
	copy(snapshot, m.chain)
	return snapshot
}

// Clear tears the chain down, closing every middleware that carries a
// teardown operation.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mw := range m.chain {
		if closer, hasCloser := mw.(io.Closer); hasCloser {
			if err := closer.Close(); err != nil {
				m.env.Logger.Warn("Middleware teardown failed",
					zap.String("name", mw.Name()),
					zap.Error(err))
			}
		}
	}

	m.chain = nil
	atomic.StoreInt32(&m.sealed, 0)
}
