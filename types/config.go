package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version"`
	Server      *ServerConfig      `yaml:"server" json:"server"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Middlewares *MiddlewaresConfig `yaml:"middlewares" json:"middlewares"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
}

type HTTPConfig struct {
	Host           string `yaml:"host" json:"host"`
	Port           int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	MaxConnections int64  `yaml:"max_connections" json:"max_connections" validate:"min=1"`
	ReadTimeout    int    `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout   int    `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	StrictRoutes   bool   `yaml:"strict_routes" json:"strict_routes"`
}

type LoggerConfig struct {
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Type       string        `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config     interface{}   `yaml:"config" json:"config"`
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{} `yaml:"config" json:"config"`
}

// MiddlewaresConfig carries the chain in execution order: the first entry is
// the outermost middleware.
type MiddlewaresConfig struct {
	Enabled bool                    `yaml:"enabled" json:"enabled"`
	Chain   []*MiddlewareItemConfig `yaml:"chain" json:"chain" validate:"dive"`
}

type MiddlewareItemConfig struct {
	Name   string                 `yaml:"name" json:"name" validate:"required"`
	Params map[string]interface{} `yaml:"params" json:"params"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildInfo string `json:"build_info"`
}
