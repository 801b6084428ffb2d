// Copyright (c) 2026 John Earle
//
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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	// Postgres
	DatabaseURL string

	// Redis
	RedisURL     string
	ControlQueue string // start-job envelopes
	ParseQueue   string // parse-task envelopes

	// Worker pool width for the consumer.
	Workers int

	// StagingDir is where uploaded archives are extracted.
	StagingDir string

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Control string `yaml:"control"`
			Parse   string `yaml:"parse"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Staging struct {
		Dir string `yaml:"dir"`
	} `yaml:"staging"`
	Workers int `yaml:"workers"`
	Port    int `yaml:"port"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables. A missing config file is not an error unless
// CONFIG_PATH points at it explicitly; everything has an env fallback.
func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	explicit := configPath != ""
	if !explicit {
		configPath = "config.yaml"
	}

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case explicit:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		DatabaseURL:  firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/mailstore")),
		RedisURL:     firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		ControlQueue: firstNonEmpty(raw.Redis.Queues.Control, envOrDefault("CONTROL_QUEUE", "ingest:jobs")),
		ParseQueue:   firstNonEmpty(raw.Redis.Queues.Parse, envOrDefault("PARSE_QUEUE", "ingest:parse")),
		StagingDir:   firstNonEmpty(raw.Staging.Dir, envOrDefault("STAGING_DIR", filepath.Join(os.TempDir(), "mailstore-staging"))),
		Workers:      firstPositive(raw.Workers, envOrDefaultInt("WORKERS", 8)),
		Port:         firstPositive(raw.Port, envOrDefaultInt("PORT", 8080)),
	}

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
