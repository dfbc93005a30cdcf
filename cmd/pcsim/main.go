// Command pcsim runs one bounded producer/consumer message queue
// simulation and reports its results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pcsim/internal/config"
	"pcsim/internal/metrics"
	"pcsim/internal/outputs/azureblob"
	"pcsim/internal/platform/logger"
	"pcsim/internal/secrets"
	"pcsim/internal/secrets/vault"
	"pcsim/internal/supervisor"
	"pcsim/internal/telemetry"
	"pcsim/internal/version"
	"pcsim/pkg/outputs/azureloganalytics"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		fmt.Fprintln(os.Stderr, "usage: pcsim [options] producers consumers capacity timeout_seconds")
		return 2
	}

	if errs, warns := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config error: %s\n", e)
		}
		return 2
	} else if len(warns) > 0 {
		for _, w := range warns {
			fmt.Fprintf(os.Stderr, "config warning: %s\n", w)
		}
	}

	level := cfg.Logging.Level
	if cfg.Debug > 0 {
		level = logger.LevelFromVerbosity(cfg.Debug)
	}
	logger.Init(logger.Config{Level: level, Format: cfg.Logging.Format})
	log := logger.Zap()
	log.Info("starting pcsim", zap.String("version", version.Version), zap.Int("producers", cfg.Producers),
		zap.Int("consumers", cfg.Consumers), zap.Int("capacity", cfg.Capacity), zap.Int("timeout_seconds", cfg.TimeoutSeconds))

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer func() {
		sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(sdCtx)
	}()

	deps, err := buildDeps(ctx, cfg, log)
	if err != nil {
		log.Error("dependency setup failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "dependency setup failed: %v\n", err)
		return 1
	}

	sup := supervisor.New(cfg, deps)
	code := sup.Run(ctx)
	log.Info("pcsim finished", zap.Int("exit_code", code))
	return code
}

// buildDeps constructs the optional collaborators the supervisor
// needs: a Vault client (if enabled, used both for the pre-flight
// health check and to hydrate any vault:// placeholders elsewhere in
// cfg), and the Azure Blob / Log Analytics exporters.
func buildDeps(ctx context.Context, cfg *config.Config, log *zap.Logger) (supervisor.Deps, error) {
	var deps supervisor.Deps

	var vaultClient *vault.Client
	if cfg.Vault.Enabled {
		var err error
		vaultClient, err = vault.NewClient(cfg.Vault)
		if err != nil {
			return deps, fmt.Errorf("vault client: %w", err)
		}
		if err := secrets.ReplacePlaceholders(ctx, cfg, vaultClient); err != nil {
			return deps, fmt.Errorf("resolve vault placeholders: %w", err)
		}
		deps.Vault = vaultClient
	}

	blobExporter, err := azureblob.New(cfg.AzureBlob, log)
	if err != nil {
		return deps, fmt.Errorf("azure blob exporter: %w", err)
	}
	if blobExporter != nil {
		deps.Exporters.AzureBlob = blobExporter
	}

	laExporter, err := azureloganalytics.New(cfg.LogAnalytics, log)
	if err != nil {
		return deps, fmt.Errorf("log analytics exporter: %w", err)
	}
	if laExporter != nil {
		deps.Exporters.LogAnalytics = laExporter
	}

	return deps, nil
}
