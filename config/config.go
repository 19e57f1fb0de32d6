// Copyright 2025 SQL Studio Contributors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads service configuration from environment variables,
// optionally overlaid with a YAML file pointed at by CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for the query execution core.
const (
	DefaultPort            = "3001"
	DefaultMaxQueryTimeout = 30000 // milliseconds
	DefaultMaxResultRows   = 10000
)

// Config holds the runtime configuration for the backend service
type Config struct {
	Port            string   `yaml:"port"`
	MaxQueryTimeout int      `yaml:"max_query_timeout_ms"` // default execution timeout in ms
	MaxResultRows   int      `yaml:"max_result_rows"`      // default result row cap
	CORSOrigins     []string `yaml:"cors_origins"`
	RedisURL        string   `yaml:"redis_url"`
	JWTSecret       string   `yaml:"jwt_secret"`
}

// Load builds a Config from environment variables, then overlays values
// from the YAML file named by CONFIG_FILE when the variable is set.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnvOrDefault("PORT", DefaultPort),
		MaxQueryTimeout: getEnvIntOrDefault("MAX_QUERY_TIMEOUT", DefaultMaxQueryTimeout),
		MaxResultRows:   getEnvIntOrDefault("MAX_RESULT_ROWS", DefaultMaxResultRows),
		RedisURL:        os.Getenv("REDIS_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, trimmed)
			}
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.MaxQueryTimeout <= 0 {
		return nil, fmt.Errorf("MAX_QUERY_TIMEOUT must be positive, got %d", cfg.MaxQueryTimeout)
	}
	if cfg.MaxResultRows <= 0 {
		return nil, fmt.Errorf("MAX_RESULT_ROWS must be positive, got %d", cfg.MaxResultRows)
	}

	return cfg, nil
}

// overlayFile applies non-zero values from a YAML config file on top of
// the environment-derived configuration. Environment variables referenced
// as ${VAR} inside the file are expanded before parsing.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var file Config
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if file.Port != "" {
		c.Port = file.Port
	}
	if file.MaxQueryTimeout != 0 {
		c.MaxQueryTimeout = file.MaxQueryTimeout
	}
	if file.MaxResultRows != 0 {
		c.MaxResultRows = file.MaxResultRows
	}
	if len(file.CORSOrigins) > 0 {
		c.CORSOrigins = file.CORSOrigins
	}
	if file.RedisURL != "" {
		c.RedisURL = file.RedisURL
	}
	if file.JWTSecret != "" {
		c.JWTSecret = file.JWTSecret
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
