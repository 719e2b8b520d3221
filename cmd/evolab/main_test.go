package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/evolab/evolab/internal/config"
	"github.com/evolab/evolab/internal/domain"
)

func TestResolveConfig_FlagWins(t *testing.T) {
	t.Setenv("EVOLAB_CONFIG", "/from/env.toml")
	configPath = "/from/flag.toml"
	t.Cleanup(func() { configPath = "" })

	if got := resolveConfig(); got != "/from/flag.toml" {
		t.Errorf("expected flag path, got %q", got)
	}
	configPath = ""
	if got := resolveConfig(); got != "/from/env.toml" {
		t.Errorf("expected env path, got %q", got)
	}
}

func TestResolveConfig_DiscoversWorkingDir(t *testing.T) {
	t.Setenv("EVOLAB_CONFIG", "")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "evolab.toml"), []byte("db_path = \"x.db\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	if got := resolveConfig(); got != "evolab.toml" {
		t.Errorf("expected evolab.toml, got %q", got)
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg := config.Default()
	cfg.Engines = []config.EngineConfig{
		{Model: "gemini-1.5-pro", Coder: config.ProcessConfig{Command: "coder"}, Evaluator: config.ProcessConfig{Command: "eval", TimeoutSec: 5}},
	}

	registry, err := buildRegistry(cfg, slog.Default())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if models := registry.Models(); len(models) != 1 || models[0] != domain.ModelGeminiPro {
		t.Errorf("unexpected models %v", models)
	}

	cfg.Engines = append(cfg.Engines, cfg.Engines[0])
	if _, err := buildRegistry(cfg, slog.Default()); !errors.Is(err, domain.ErrEngineRegistered) {
		t.Errorf("expected ErrEngineRegistered, got %v", err)
	}
}

func TestProcessSpec(t *testing.T) {
	spec := processSpec(config.ProcessConfig{Command: "python3", Args: []string{"eval.py"}, TimeoutSec: 30})
	if spec.Command != "python3" || len(spec.Args) != 1 || spec.Timeout.Seconds() != 30 {
		t.Errorf("unexpected spec %+v", spec)
	}
}
