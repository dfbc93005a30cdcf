package selfcheck

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pcsim/internal/config"
)

// Dependencies surfaces optional clients required for checks.
type Dependencies struct {
	Vault interface{ HealthCheck(context.Context) error }
}

// Run executes the supervisor's pre-flight validation before a single
// producer or consumer is started: the CSV output directory must be
// writable, Vault (when enabled) must pass its health check, the Log
// Analytics endpoint (when enabled) must accept a TCP connection, and
// each enabled exporter's spill directory must be writable. For Azure
// Blob only the container name and spill directory are checked; the
// blob endpoint's reachability is not probed.
func Run(ctx context.Context, cfg *config.Config, deps Dependencies) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := ensureWritableDir(cfg.CSVDir); err != nil {
		return fmt.Errorf("csv output directory: %w", err)
	}
	if cfg.Vault.Enabled {
		if deps.Vault == nil {
			return fmt.Errorf("vault enabled but no client available for health check")
		}
		if err := deps.Vault.HealthCheck(ctx); err != nil {
			return fmt.Errorf("vault health check failed: %w", err)
		}
	}
	if cfg.LogAnalytics.Enabled {
		if err := checkAzureEndpoint(ctx, cfg.LogAnalytics.WorkspaceID); err != nil {
			return err
		}
		if cfg.LogAnalytics.Spill.Enabled {
			if err := ensureWritableDir(cfg.LogAnalytics.Spill.Directory); err != nil {
				return err
			}
		}
	}
	if cfg.AzureBlob.Enabled {
		if strings.TrimSpace(cfg.AzureBlob.Container) == "" {
			return fmt.Errorf("azure_blob.container required when enabled")
		}
		if cfg.AzureBlob.Spill.Enabled {
			if err := ensureWritableDir(cfg.AzureBlob.Spill.Directory); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkAzureEndpoint(ctx context.Context, workspaceID string) error {
	ws := strings.TrimSpace(workspaceID)
	if ws == "" {
		return fmt.Errorf("log_analytics.workspace_id required when enabled")
	}
	host := fmt.Sprintf("%s.ods.opinsights.azure.com:443", ws)
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("azure log analytics connectivity (%s) failed: %w", host, err)
	}
	_ = conn.Close()
	return nil
}

func ensureWritableDir(dir string) error {
	path := strings.TrimSpace(dir)
	if path == "" {
		return fmt.Errorf("directory not configured")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(path, ".probe-*")
	if err != nil {
		return fmt.Errorf("write probe file in %s: %w", path, err)
	}
	tmp.Close()
	os.Remove(tmp.Name())
	// ensure we can resolve absolute path for metrics/logging
	_, err = filepath.Abs(path)
	return err
}
