package config

import (
	"fmt"
)

// LoadNeo4j loads the configuration from the given path and returns the
// Neo4j connection settings, with environment overrides already applied.
func LoadNeo4j(configPath string) (*Neo4jConfig, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Neo4j.Password == "" {
		return nil, fmt.Errorf("neo4j password not configured - set NEO4J_PASSWORD or neo4j.password")
	}

	return &cfg.Neo4j, nil
}

// EnsureDatabase returns the provided database name if it's not empty,
// otherwise falls back to the configured default.
func EnsureDatabase(provided string, cfg *Neo4jConfig) string {
	if provided != "" {
		return provided
	}
	if cfg != nil && cfg.Database != "" {
		return cfg.Database
	}
	return defaultNeo4jDatabase
}
