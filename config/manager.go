package config

import (
	"sync/atomic"

	"github.com/saiset-co/sai-dispatch/types"
)

type Manager struct {
	configPath string
	loader     *Loader
	config     atomic.Pointer[types.ServiceConfig]
	parser     atomic.Pointer[Parser]
}

func NewManager(configPath string) (*Manager, error) {
	m := &Manager{
		configPath: configPath,
		loader:     NewLoader(),
	}

	if err := m.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return m, nil
}

// NewManagerFromConfig wraps an in-memory config, for embedders that do not
// carry a config file.
func NewManagerFromConfig(config *types.ServiceConfig) (*Manager, error) {
	if config == nil {
		return nil, types.ErrConfigNotFound
	}

	m := &Manager{
		loader: NewLoader(),
	}

	merged := m.loader.Defaults()
	if err := mergeConfig(merged, config); err != nil {
		return nil, err
	}

	m.config.Store(merged)
	m.parser.Store(NewParser(merged))
	return m, nil
}

func (m *Manager) Load() error {
	config, err := m.loader.LoadFromFile(m.configPath)
	if err != nil {
		return err
	}

	m.config.Store(config)
	m.parser.Store(NewParser(config))
	return nil
}

func (m *Manager) GetConfig() *types.ServiceConfig {
	return m.config.Load()
}

func (m *Manager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := m.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (m *Manager) GetAs(path string, target interface{}) error {
	parser := m.parser.Load()
	if parser == nil {
		return types.ErrConfigNotFound
	}
	return parser.GetAs(path, target)
}

func mergeConfig(dst, src *types.ServiceConfig) error {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Version != "" {
		dst.Version = src.Version
	}
	if src.Server != nil && src.Server.HTTP != nil {
		mergeHTTPConfig(dst.Server.HTTP, src.Server.HTTP)
	}
	if src.Logger != nil {
		dst.Logger = src.Logger
	}
	if src.Cache != nil {
		dst.Cache = src.Cache
	}
	if src.Metrics != nil {
		dst.Metrics = src.Metrics
	}
	if src.Middlewares != nil {
		dst.Middlewares = src.Middlewares
	}
	return nil
}

// mergeHTTPConfig keeps defaults for fields the caller left at zero, so a
// partial override cannot disable the connection gate.
func mergeHTTPConfig(dst, src *types.HTTPConfig) {
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.MaxConnections != 0 {
		dst.MaxConnections = src.MaxConnections
	}
	if src.ReadTimeout != 0 {
		dst.ReadTimeout = src.ReadTimeout
	}
	if src.WriteTimeout != 0 {
		dst.WriteTimeout = src.WriteTimeout
	}
	if src.StrictRoutes {
		dst.StrictRoutes = true
	}
}
