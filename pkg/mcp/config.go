package mcp

import (
	"time"
)

// Config represents the MCP server configuration. The mapstructure tags
// let the CLI bind the same keys through viper.
type Config struct {
	Server      ServerConfig      `yaml:"server"      mapstructure:"server"`
	Performance PerformanceConfig `yaml:"performance" mapstructure:"performance"`
	Security    SecurityConfig    `yaml:"security"    mapstructure:"security"`
	Features    FeaturesConfig    `yaml:"features"    mapstructure:"features"`
}

// ServerConfig defines the identity the server reports during the
// MCP initialize handshake
type ServerConfig struct {
	Name    string `yaml:"name"    mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
}

// PerformanceConfig defines performance settings
type PerformanceConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"  mapstructure:"request_timeout"`
	MaxResults     int           `yaml:"max_results"      mapstructure:"max_results"`
	SchemaCacheTTL time.Duration `yaml:"schema_cache_ttl" mapstructure:"schema_cache_ttl"`
}

// SecurityConfig defines security settings
type SecurityConfig struct {
	ReadOnly     bool `yaml:"read_only"      mapstructure:"read_only"`
	MaxQueryTime int  `yaml:"max_query_time" mapstructure:"max_query_time"`
}

// FeaturesConfig defines feature toggles
type FeaturesConfig struct {
	EnableTemplates  bool `yaml:"enable_templates"  mapstructure:"enable_templates"`
	EnableValidation bool `yaml:"enable_validation" mapstructure:"enable_validation"`
	EnableResources  bool `yaml:"enable_resources"  mapstructure:"enable_resources"`
	EnablePrompts    bool `yaml:"enable_prompts"    mapstructure:"enable_prompts"`
}

// DefaultConfig returns default MCP configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "mnemo",
			Version: "0.1.0",
		},
		Performance: PerformanceConfig{
			RequestTimeout: 30 * time.Second,
			MaxResults:     1000,
			SchemaCacheTTL: 60 * time.Second,
		},
		Security: SecurityConfig{
			ReadOnly:     false,
			MaxQueryTime: 30,
		},
		Features: FeaturesConfig{
			EnableTemplates:  true,
			EnableValidation: true,
			EnableResources:  true,
			EnablePrompts:    true,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return &ConfigError{Field: "server.name", Message: "name cannot be empty"}
	}
	if c.Server.Version == "" {
		return &ConfigError{Field: "server.version", Message: "version cannot be empty"}
	}
	if c.Performance.RequestTimeout <= 0 {
		return &ConfigError{Field: "performance.request_timeout", Message: "request_timeout must be positive"}
	}
	if c.Performance.MaxResults <= 0 {
		return &ConfigError{Field: "performance.max_results", Message: "max_results must be positive"}
	}
	if c.Performance.SchemaCacheTTL < 0 {
		return &ConfigError{Field: "performance.schema_cache_ttl", Message: "schema_cache_ttl cannot be negative"}
	}
	if c.Security.MaxQueryTime <= 0 {
		return &ConfigError{Field: "security.max_query_time", Message: "max_query_time must be positive"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config validation error: " + e.Field + " - " + e.Message
}
