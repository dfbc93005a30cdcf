// Package azureblob uploads a completed run's CSV trace and JSON
// report as two block blobs. It is a single-shot exporter: one run
// produces one upload, not a streaming pipeline.
package azureblob

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.uber.org/zap"

	"pcsim/internal/config"
	"pcsim/internal/metrics"
	"pcsim/pkg/buffer/spill"
	"pcsim/pkg/pipeline"
)

const sinkName = "azure_blob"

// Exporter uploads run artifacts to Azure Blob Storage, gated by a
// circuit breaker and backed by an on-disk spool for any upload that
// fails or is rejected by an open breaker.
type Exporter struct {
	cfg     config.AzureBlobConfig
	client  *azblob.Client
	spill   *spill.Queue
	breaker *pipeline.CircuitBreaker
	logger  *zap.Logger
}

// New builds an exporter from configuration. Returns a nil *Exporter
// (and nil error) when the output is disabled, so callers can invoke
// ExportRun unconditionally.
func New(cfg config.AzureBlobConfig, logger *zap.Logger) (*Exporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := newClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}

	var sp *spill.Queue
	if cfg.Spill.Enabled {
		sp, err = spill.NewQueue(spill.Config{
			Directory:   cfg.Spill.Directory,
			MaxBytes:    cfg.Spill.MaxBytes,
			SegmentSize: cfg.Spill.SegmentSize,
		})
		if err != nil {
			return nil, fmt.Errorf("azure blob spill queue: %w", err)
		}
	}

	return &Exporter{
		cfg:     cfg,
		client:  client,
		spill:   sp,
		breaker: pipeline.NewCircuitBreaker("azure-blob", 3, 30*time.Second, 1),
		logger:  logger,
	}, nil
}

func newClient(cfg config.AzureBlobConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}
	if cfg.AccountURL == "" {
		return nil, fmt.Errorf("azure_blob.account_url or connection_string required")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("default azure credential: %w", err)
	}
	return azblob.NewClient(cfg.AccountURL, cred, nil)
}

// ExportRun uploads the run's CSV trace and JSON report under
// blob names derived from runID. On upload failure it spools both
// artifacts to disk (when spill is enabled) for a later retry.
func (e *Exporter) ExportRun(ctx context.Context, runID string, csvData, reportData []byte) error {
	if e == nil {
		return nil
	}

	err := e.breaker.Execute(func() error {
		return e.uploadAll(ctx, runID, csvData, reportData)
	})
	if err != nil {
		metrics.ExporterAttempts.WithLabelValues(sinkName, "failure").Inc()
		e.logger.Error("azure blob upload failed", zap.String("run_id", runID), zap.Error(err))
		if e.spill != nil {
			if spillErr := e.spillArtifacts(runID, csvData, reportData); spillErr != nil {
				e.logger.Error("azure blob spill failed", zap.Error(spillErr))
			}
		}
		return err
	}
	metrics.ExporterAttempts.WithLabelValues(sinkName, "success").Inc()

	if e.spill != nil {
		e.replaySpilled(ctx)
	}
	return nil
}

func (e *Exporter) uploadAll(ctx context.Context, runID string, csvData, reportData []byte) error {
	uctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	if _, err := e.client.UploadBuffer(uctx, e.cfg.Container, runID+".csv", csvData, nil); err != nil {
		return fmt.Errorf("upload csv: %w", err)
	}
	if _, err := e.client.UploadBuffer(uctx, e.cfg.Container, runID+"-report.json", reportData, nil); err != nil {
		return fmt.Errorf("upload report: %w", err)
	}
	return nil
}

func (e *Exporter) spillArtifacts(runID string, csvData, reportData []byte) error {
	return e.spill.Append([]map[string]interface{}{
		{
			"run_id": runID,
			"name":   runID + ".csv",
			"data":   base64.StdEncoding.EncodeToString(csvData),
		},
		{
			"run_id": runID,
			"name":   runID + "-report.json",
			"data":   base64.StdEncoding.EncodeToString(reportData),
		},
	})
}

// replaySpilled opportunistically retries previously spooled uploads.
// Failures are left on disk for the next attempt.
func (e *Exporter) replaySpilled(ctx context.Context) {
	err := e.spill.Replay(func(batch []map[string]interface{}) error {
		uctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		for _, item := range batch {
			name, _ := item["name"].(string)
			encoded, _ := item["data"].(string)
			data, decErr := base64.StdEncoding.DecodeString(encoded)
			if decErr != nil {
				return fmt.Errorf("decode spooled artifact %s: %w", name, decErr)
			}
			if _, err := e.client.UploadBuffer(uctx, e.cfg.Container, name, data, nil); err != nil {
				return fmt.Errorf("replay upload %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("azure blob spill replay incomplete", zap.Error(err))
	}
}

