// Package azureloganalytics posts one run's summary record to an
// Azure Log Analytics workspace via the HTTP Data Collector API. Each
// completed run posts one summary record (retried up to maxAttempts
// times on failure), not a streaming batch.
package azureloganalytics

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"pcsim/internal/config"
	"pcsim/internal/metrics"
	"pcsim/pkg/buffer/spill"
	"pcsim/pkg/pipeline"
)

const (
	apiVersion = "2016-04-01"
	maxAttempts = 3
	retryBaseDelay = 2 * time.Second
	sinkName = "log_analytics"
)

// Exporter posts run summary records to Log Analytics, gated by a
// circuit breaker and backed by an on-disk spool for any post that
// fails or is rejected by an open breaker.
type Exporter struct {
	workspaceID string
	sharedKey   string
	logType     string

	client  *http.Client
	spill   *spill.Queue
	breaker *pipeline.CircuitBreaker
	logger  *zap.Logger
}

// New builds an exporter from configuration. Returns a nil *Exporter
// (and nil error) when the output is disabled.
func New(cfg config.LogAnalyticsConfig, logger *zap.Logger) (*Exporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.WorkspaceID == "" {
		return nil, fmt.Errorf("log_analytics.workspace_id is required")
	}
	if cfg.SharedKey == "" {
		return nil, fmt.Errorf("log_analytics.shared_key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logType := strings.TrimSuffix(cfg.LogType, "_CL")
	if logType == "" {
		logType = "PcsimRun"
	}

	var sp *spill.Queue
	if cfg.Spill.Enabled {
		var err error
		sp, err = spill.NewQueue(spill.Config{
			Directory:   cfg.Spill.Directory,
			MaxBytes:    cfg.Spill.MaxBytes,
			SegmentSize: cfg.Spill.SegmentSize,
		})
		if err != nil {
			return nil, fmt.Errorf("log analytics spill queue: %w", err)
		}
	}

	return &Exporter{
		workspaceID: cfg.WorkspaceID,
		sharedKey:   cfg.SharedKey,
		logType:     logType,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		spill:   sp,
		breaker: pipeline.NewCircuitBreaker("log-analytics", 3, 30*time.Second, 1),
		logger:  logger,
	}, nil
}

// ExportRun posts the run's summary record. On failure it spools the
// record to disk (when spill is enabled) for a later retry.
func (e *Exporter) ExportRun(ctx context.Context, runID string, summary map[string]interface{}) error {
	if e == nil {
		return nil
	}

	record := make(map[string]interface{}, len(summary)+2)
	for k, v := range summary {
		record[k] = v
	}
	record["run_id"] = runID
	record["reported_at"] = time.Now().UTC().Format(time.RFC3339)

	err := e.breaker.Execute(func() error {
		return e.post(ctx, []map[string]interface{}{record})
	})
	if err != nil {
		metrics.ExporterAttempts.WithLabelValues(sinkName, "failure").Inc()
		e.logger.Error("log analytics post failed", zap.String("run_id", runID), zap.Error(err))
		if e.spill != nil {
			if spillErr := e.spill.Append([]map[string]interface{}{record}); spillErr != nil {
				e.logger.Error("log analytics spill failed", zap.Error(spillErr))
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

func (e *Exporter) replaySpilled(ctx context.Context) {
	err := e.spill.Replay(func(batch []map[string]interface{}) error {
		return e.post(ctx, batch)
	})
	if err != nil {
		e.logger.Warn("log analytics spill replay incomplete", zap.Error(err))
	}
}

// post sends one batch to the Data Collector API with a bounded
// number of attempts, skipping retry on non-retryable 4xx responses.
func (e *Exporter) post(ctx context.Context, records []map[string]interface{}) error {
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	resource := "/api/logs"
	url := fmt.Sprintf("https://%s.ods.opinsights.azure.com%s?api-version=%s", e.workspaceID, resource, apiVersion)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseDelay * time.Duration(attempt))
		}

		rfc1123date := time.Now().UTC().Format(time.RFC1123)
		signature, err := e.signature(rfc1123date, len(body), resource)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", signature)
		req.Header.Set("Log-Type", e.logType)
		req.Header.Set("x-ms-date", rfc1123date)

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("log analytics returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return lastErr
		}
	}
	return fmt.Errorf("post failed after %d attempts: %w", maxAttempts, lastErr)
}

// signature builds the HMAC-SHA256 Authorization header value the
// Data Collector API expects for a POST of bodyLen bytes.
func (e *Exporter) signature(rfc1123date string, bodyLen int, resource string) (string, error) {
	stringToSign := fmt.Sprintf("POST\n%d\napplication/json\nx-ms-date:%s\n%s", bodyLen, rfc1123date, resource)

	keyBytes, err := base64.StdEncoding.DecodeString(e.sharedKey)
	if err != nil {
		return "", fmt.Errorf("decode shared key: %w", err)
	}
	mac := hmac.New(sha256.New, keyBytes)
	mac.Write([]byte(stringToSign))
	encoded := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedKey %s:%s", e.workspaceID, encoded), nil
}
