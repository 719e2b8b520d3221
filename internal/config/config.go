// Package config loads the evolab server configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/logging"
)

// ProcessConfig defines how to launch an engine process.
type ProcessConfig struct {
	Command    string            `json:"command" toml:"command"`
	Args       []string          `json:"args" toml:"args"`
	Env        map[string]string `json:"env" toml:"env"`
	TimeoutSec int               `json:"timeout_sec" toml:"timeout_sec"`
}

// Timeout returns the configured timeout, zero meaning none.
func (p ProcessConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// EngineConfig binds a model to a coder process and an evaluator process.
type EngineConfig struct {
	Model     string        `json:"model" toml:"model"`
	Coder     ProcessConfig `json:"coder" toml:"coder"`
	Evaluator ProcessConfig `json:"evaluator" toml:"evaluator"`
}

// ImportConfig tunes the project importer.
type ImportConfig struct {
	GitHubAPI       string `json:"github_api" toml:"github_api"`
	Ref             string `json:"ref" toml:"ref"`
	MaxFileBytes    int64  `json:"max_file_bytes" toml:"max_file_bytes"`
	MaxArchiveBytes int64  `json:"max_archive_bytes" toml:"max_archive_bytes"`
}

// Config holds the server's runtime configuration.
type Config struct {
	DBPath      string `json:"db_path" toml:"db_path"`
	ListenAddr  string `json:"listen_addr" toml:"listen_addr"`
	LogLevel    string `json:"log_level" toml:"log_level"`
	LogFormat   string `json:"log_format" toml:"log_format"`
	CatalogPath string `json:"catalog_path" toml:"catalog_path"`

	Engines                []EngineConfig `json:"engines" toml:"engines"`
	MaxParallelEvaluations int            `json:"max_parallel_evaluations" toml:"max_parallel_evaluations"`
	EngineRatePerMinute    int            `json:"engine_rate_per_minute" toml:"engine_rate_per_minute"`

	// MaxAPICallsPerRun caps engine API calls per run; zero is unlimited.
	MaxAPICallsPerRun int     `json:"max_api_calls_per_run" toml:"max_api_calls_per_run"`
	APIWarnRatio      float64 `json:"api_warn_ratio" toml:"api_warn_ratio"`

	Import ImportConfig `json:"import" toml:"import"`
}

// Load reads a config file, applies defaults, and validates. Files ending in
// .toml are parsed as TOML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config TOML: %w", err)
		}
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{DBPath: "evolab.db"}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9800"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.MaxParallelEvaluations == 0 {
		c.MaxParallelEvaluations = 4
	}
	if c.EngineRatePerMinute == 0 {
		c.EngineRatePerMinute = 60
	}
	if c.APIWarnRatio == 0 {
		c.APIWarnRatio = 0.8
	}
	if c.Import.GitHubAPI == "" {
		c.Import.GitHubAPI = "https://api.github.com"
	}
	if c.Import.Ref == "" {
		c.Import.Ref = "main"
	}
	if c.Import.MaxFileBytes == 0 {
		c.Import.MaxFileBytes = 256 << 10
	}
	if c.Import.MaxArchiveBytes == 0 {
		c.Import.MaxArchiveBytes = 64 << 20
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.MaxParallelEvaluations < 0 {
		problems = append(problems, "max_parallel_evaluations must not be negative")
	}
	if c.EngineRatePerMinute < 0 {
		problems = append(problems, "engine_rate_per_minute must not be negative")
	}
	if c.MaxAPICallsPerRun < 0 {
		problems = append(problems, "max_api_calls_per_run must not be negative")
	}
	if c.APIWarnRatio <= 0 || c.APIWarnRatio > 1 {
		problems = append(problems, "api_warn_ratio must be in (0, 1]")
	}

	seen := make(map[string]bool, len(c.Engines))
	for i, e := range c.Engines {
		if !slices.Contains(domain.SupportedModels, domain.Model(e.Model)) {
			problems = append(problems, fmt.Sprintf("engines[%d]: unsupported model %q", i, e.Model))
		}
		if seen[e.Model] {
			problems = append(problems, fmt.Sprintf("engines[%d]: duplicate model %q", i, e.Model))
		}
		seen[e.Model] = true
		if e.Coder.Command == "" {
			problems = append(problems, fmt.Sprintf("engines[%d]: coder.command is required", i))
		}
		if e.Evaluator.Command == "" {
			problems = append(problems, fmt.Sprintf("engines[%d]: evaluator.command is required", i))
		}
		if e.Coder.TimeoutSec < 0 || e.Evaluator.TimeoutSec < 0 {
			problems = append(problems, fmt.Sprintf("engines[%d]: timeout_sec must not be negative", i))
		}
	}

	if len(problems) > 0 {
		return &domain.Error{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
