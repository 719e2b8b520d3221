package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evolab/evolab/internal/catalog"
	"github.com/evolab/evolab/internal/config"
	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/engine"
	"github.com/evolab/evolab/internal/importer"
	"github.com/evolab/evolab/internal/ipc"
	"github.com/evolab/evolab/internal/logging"
	"github.com/evolab/evolab/internal/population"
	"github.com/evolab/evolab/internal/store"
	"github.com/evolab/evolab/internal/telemetry"
	"github.com/evolab/evolab/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the evolution engines",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func loadConfig() (*config.Config, error) {
	path := resolveConfig()
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cat := catalog.New(db, logger)
	if cfg.CatalogPath != "" {
		n, err := cat.LoadSeed(ctx, cfg.CatalogPath)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		logger.Info("catalog loaded", "path", cfg.CatalogPath, "added", n)
	}

	// Wire the run controller.
	var gov *workflow.UsageGovernor
	if cfg.MaxAPICallsPerRun > 0 {
		gov = workflow.NewUsageGovernor(cfg.MaxAPICallsPerRun)
		gov.WarnRatio = cfg.APIWarnRatio
	}
	ctrl := workflow.NewController(db, gov, logger)

	metrics := telemetry.New()
	ctrl.Subscribe(metrics)

	// Wire engines.
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	runner := engine.NewRunner(ctrl, registry, cfg.EngineRatePerMinute, logger)
	runner.Recorder = metrics
	defer runner.Close()

	imp := importer.New(logger)
	imp.APIBase = cfg.Import.GitHubAPI
	imp.Ref = cfg.Import.Ref
	imp.MaxFileBytes = cfg.Import.MaxFileBytes
	imp.MaxArchiveBytes = cfg.Import.MaxArchiveBytes

	handler := &ipc.Handler{
		Controller: ctrl,
		Catalog:    cat,
		Query:      population.NewQuery(db),
		Importer:   imp,
		Logger:     logger,
	}
	srv := ipc.NewServer(handler, cfg.ListenAddr, metrics.Handler())

	// Graceful shutdown on interrupt.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("evolab listening", "addr", cfg.ListenAddr, "engines", registry.Models())
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// buildRegistry registers one Evolver per configured model, each driving a
// coder process and an evaluator process.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*engine.Registry, error) {
	registry := engine.NewRegistry()
	for _, ec := range cfg.Engines {
		coder := &engine.ProcessCoder{Spec: processSpec(ec.Coder), Logger: logger}
		evaluator := &engine.ProcessEvaluator{Spec: processSpec(ec.Evaluator), Logger: logger}
		evolver := engine.NewEvolver(coder, evaluator, logger.With("model", ec.Model))
		evolver.Parallelism = cfg.MaxParallelEvaluations
		if err := registry.Register(domain.Model(ec.Model), evolver); err != nil {
			return nil, fmt.Errorf("register engine %s: %w", ec.Model, err)
		}
	}
	return registry, nil
}

func processSpec(pc config.ProcessConfig) engine.ProcessSpec {
	return engine.ProcessSpec{
		Command: pc.Command,
		Args:    pc.Args,
		Env:     pc.Env,
		Timeout: pc.Timeout(),
	}
}
