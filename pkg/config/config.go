package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigFileName = ".mnemo"
	defaultConfigType     = "yaml"
	defaultNeo4jURI       = "neo4j://localhost:7687"
	defaultNeo4jUser      = "neo4j"
	defaultNeo4jDatabase  = "neo4j"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	Templates TemplatesConfig `mapstructure:"templates"`
}

// ServerConfig represents server-wide settings
type ServerConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

// Neo4jConfig represents Neo4j connection configuration
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// TemplatesConfig represents query template catalog configuration
type TemplatesConfig struct {
	// Dir is an optional directory of user-supplied template YAML files
	// merged over the built-in catalog.
	Dir string `mapstructure:"dir"`
	// SetupSchema applies the entity constraints/indexes at server start.
	SetupSchema bool `mapstructure:"setup_schema"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:     "mnemo",
			LogLevel: "info",
		},
		Neo4j: Neo4jConfig{
			URI:      defaultNeo4jURI,
			Username: defaultNeo4jUser,
			Password: "",
			Database: defaultNeo4jDatabase,
		},
		Templates: TemplatesConfig{
			Dir:         "",
			SetupSchema: true,
		},
	}
}

// InitEnv loads a .env file from the working directory when present.
// Missing files are not an error; explicit environment always wins.
func InitEnv() {
	_ = godotenv.Load()
}

// Load loads configuration from a file
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		// Look for config file in current directory - try both formats
		possiblePaths := []string{
			filepath.Join(".", "mnemo.yaml"),
			filepath.Join(".", defaultConfigFileName+"."+defaultConfigType),
		}

		configPath = ""
		for _, path := range possiblePaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}

		if configPath == "" {
			cfg.applyEnvOverrides()
			return cfg, nil // Return default config if no config file found
		}
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.applyEnvOverrides()
		return cfg, nil // Return default config
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(defaultConfigType)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a file
func Save(cfg *Config, configPath string) error {
	if configPath == "" {
		configPath = filepath.Join(".", defaultConfigFileName+"."+defaultConfigType)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(defaultConfigType)

	// Set all values
	v.Set("server", cfg.Server)
	v.Set("neo4j", cfg.Neo4j)
	v.Set("templates", cfg.Templates)

	// Write config file
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvOverrides lets environment variables win over file-provided
// values, so deployments never need credentials on disk. The connection
// settings use the standard Neo4j variable names.
func (c *Config) applyEnvOverrides() {
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		c.Neo4j.URI = uri
	}
	if user := os.Getenv("NEO4J_USERNAME"); user != "" {
		c.Neo4j.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		c.Neo4j.Password = pass
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		c.Neo4j.Database = db
	}
	if level := os.Getenv("MNEMO_SERVER_LOG_LEVEL"); level != "" {
		c.Server.LogLevel = level
	}
	if dir := os.Getenv("MNEMO_TEMPLATES_DIR"); dir != "" {
		c.Templates.Dir = dir
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.Neo4j.URI == "" {
		return fmt.Errorf("neo4j.uri is required - set it in mnemo.yaml or via NEO4J_URI")
	}

	if c.Neo4j.Username == "" {
		return fmt.Errorf("neo4j.username is required - set it in mnemo.yaml or via NEO4J_USERNAME")
	}

	// Set defaults for optional fields
	if c.Server.Name == "" {
		c.Server.Name = "mnemo"
	}

	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	switch c.Server.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("server.log_level must be one of debug, info, warn, error (got %q)", c.Server.LogLevel)
	}

	if c.Neo4j.Database == "" {
		c.Neo4j.Database = defaultNeo4jDatabase
	}

	return nil
}
