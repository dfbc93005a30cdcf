// Package supervisor owns one simulation run end to end: pre-flight
// validation, worker/sampler/dashboard lifecycle, the shutdown race
// between timeout and interrupt, and the final report/CSV/export
// emission. It is the one stateful object the rest of the program
// hands parameters to, rather than spreading run state across package
// globals.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pcsim/internal/analytics"
	"pcsim/internal/config"
	"pcsim/internal/diagnostics/selfcheck"
	"pcsim/internal/metrics"
	"pcsim/internal/platform/logger"
	"pcsim/internal/web"
	"pcsim/pkg/pipeline"
	"pcsim/pkg/queue"
)

// BlobExporter is the subset of azureblob.Exporter the supervisor
// depends on. Satisfied by a nil *azureblob.Exporter too, since its
// ExportRun is nil-safe.
type BlobExporter interface {
	ExportRun(ctx context.Context, runID string, csvData, reportData []byte) error
}

// LogAnalyticsExporter is the subset of azureloganalytics.Exporter the
// supervisor depends on.
type LogAnalyticsExporter interface {
	ExportRun(ctx context.Context, runID string, summary map[string]interface{}) error
}

// VaultHealthChecker is satisfied by *vault.Client (including its
// nil-safe zero value when Vault is disabled).
type VaultHealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Exporters groups the optional run-artifact sinks invoked once a run
// finishes. Either field may be nil.
type Exporters struct {
	AzureBlob    BlobExporter
	LogAnalytics LogAnalyticsExporter
}

// Deps bundles the optional collaborators main constructs before
// handing control to the supervisor.
type Deps struct {
	Vault     VaultHealthChecker
	Exporters Exporters
}

// Supervisor runs exactly one simulation for the lifetime of a Run call.
type Supervisor struct {
	cfg  *config.Config
	deps Deps
	log  *zap.Logger

	q  *queue.Queue
	an *analytics.Analytics

	running      atomic.Bool
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	producerCounters []*pipeline.WorkerCounters
	consumerCounters []*pipeline.WorkerCounters

	dashboard *web.Dashboard

	runID     string
	startedAt time.Time
}

// New builds a supervisor for cfg. deps may be the zero value when no
// optional collaborator is configured.
func New(cfg *config.Config, deps Deps) *Supervisor {
	return &Supervisor{cfg: cfg, deps: deps, log: logger.Zap()}
}

// Run executes one complete simulation and returns the process exit
// code: 0 on a clean run, 1 if pre-flight validation or queue
// construction fails. Config validation failures (exit 2) are the
// caller's responsibility, before Run is ever invoked.
func (s *Supervisor) Run(ctx context.Context) int {
	s.runID = fmt.Sprintf("pcsim_p%d_c%d_q%d_%d", s.cfg.Producers, s.cfg.Consumers, s.cfg.Capacity, time.Now().UnixNano())

	if err := selfcheck.Run(ctx, s.cfg, selfcheck.Dependencies{Vault: s.deps.Vault}); err != nil {
		s.log.Error("pre-flight check failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "pre-flight check failed: %v\n", err)
		return 1
	}

	q, err := queue.New(s.cfg.Capacity, s.cfg.AgingIntervalMs)
	if err != nil {
		s.log.Error("queue construction failed", zap.Error(err))
		return 1
	}
	s.q = q

	metrics.QueueCapacity.Set(float64(s.cfg.Capacity))
	metrics.RunInfo.WithLabelValues(
		fmt.Sprintf("%d", s.cfg.Producers),
		fmt.Sprintf("%d", s.cfg.Consumers),
		fmt.Sprintf("%d", s.cfg.Capacity),
		fmt.Sprintf("%d", s.cfg.TimeoutSeconds),
	).Set(1)

	s.an = analytics.New(q, s.cfg.Producers, s.cfg.Consumers)
	s.an.StartSampling()

	s.startedAt = time.Now()
	s.running.Store(true)
	s.spawnWorkers()

	if s.cfg.Dashboard.Enabled {
		s.startDashboard()
	}

	s.awaitShutdownTrigger(ctx)

	s.wg.Wait()
	s.an.Finalise()
	s.stopDashboard()

	summary := s.an.Summarize()
	recommendation := s.an.Recommend()
	fmt.Println(s.buildReport(summary, recommendation))

	if err := s.an.ExportCSV(s.cfg.CSVPath()); err != nil {
		s.log.Error("csv export failed", zap.Error(err))
	}

	reportJSON, err := s.writeJSONReport(summary, recommendation)
	if err != nil {
		s.log.Error("json report write failed", zap.Error(err))
	}

	s.exportArtifacts(summary, recommendation, reportJSON)

	s.q.Destroy()
	return 0
}

// writeJSONReport marshals the run's JSON report and writes it to
// cfg.ReportPath(). The marshaled bytes are also handed to
// exportArtifacts, so the file on disk and the object shipped to
// Azure Blob are byte-identical.
func (s *Supervisor) writeJSONReport(summary analytics.Summary, rec analytics.Recommendation) ([]byte, error) {
	data, err := json.MarshalIndent(s.buildReportRecord(summary, rec), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(s.cfg.ReportPath(), data, 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	return data, nil
}

// spawnWorkers starts every producer and consumer goroutine and
// records exactly how many were created, so join discipline in Run
// waits for precisely that many.
func (s *Supervisor) spawnWorkers() {
	s.producerCounters = make([]*pipeline.WorkerCounters, s.cfg.Producers)
	s.consumerCounters = make([]*pipeline.WorkerCounters, s.cfg.Consumers)

	for i := 0; i < s.cfg.Producers; i++ {
		id := i + 1
		counters := &pipeline.WorkerCounters{}
		s.producerCounters[i] = counters
		rng := s.newRNG(i)

		s.wg.Add(1)
		go func(id int, counters *pipeline.WorkerCounters, rng *rand.Rand) {
			s.log.Info("worker started", zap.String("role", "producer"), zap.Int("id", id))
			pipeline.RunProducer(pipeline.ProducerConfig{
				ID:        id,
				Queue:     s.q,
				Analytics: s.an,
				MaxWait:   durationFromSeconds(s.cfg.ProducerMaxWaitS),
				Rng:       rng,
				Running:   &s.running,
			}, counters, &s.wg)
			s.log.Info("worker stopped", zap.String("role", "producer"), zap.Int("id", id))
		}(id, counters, rng)
	}

	for i := 0; i < s.cfg.Consumers; i++ {
		id := i + 1
		counters := &pipeline.WorkerCounters{}
		s.consumerCounters[i] = counters
		rng := s.newRNG(s.cfg.Producers + i)

		s.wg.Add(1)
		go func(id int, counters *pipeline.WorkerCounters, rng *rand.Rand) {
			s.log.Info("worker started", zap.String("role", "consumer"), zap.Int("id", id))
			pipeline.RunConsumer(pipeline.ConsumerConfig{
				ID:        id,
				Queue:     s.q,
				Analytics: s.an,
				MaxWait:   durationFromSeconds(s.cfg.ConsumerMaxWaitS),
				Rng:       rng,
				Running:   &s.running,
			}, counters, &s.wg)
			s.log.Info("worker stopped", zap.String("role", "consumer"), zap.Int("id", id))
		}(id, counters, rng)
	}
}

// newRNG derives a worker's RNG. A configured seed makes the run
// reproducible: each worker gets seed+index rather than a shared
// generator, so they never contend on one RNG's internal state.
func (s *Supervisor) newRNG(index int) *rand.Rand {
	seed := s.cfg.Seed + int64(index)
	if !s.cfg.SeedSet {
		seed = time.Now().UnixNano() + int64(index)
	}
	return rand.New(rand.NewSource(seed))
}

func durationFromSeconds(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// awaitShutdownTrigger blocks until the earlier of timeout expiry or
// ctx's cancellation (an interrupt signal, wired in by the caller via
// signal.NotifyContext), then requests shutdown exactly once.
func (s *Supervisor) awaitShutdownTrigger(ctx context.Context) {
	timer := time.NewTimer(time.Duration(s.cfg.TimeoutSeconds) * time.Second)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		fmt.Println("shutdown signal received")
		s.triggerShutdown()
	case <-timer.C:
		s.triggerShutdown()
	}
}

// triggerShutdown clears the running flag and wakes every worker
// parked in the queue. Guarded so the two shutdown paths (signal,
// timeout) converge on exactly one shutdown.
func (s *Supervisor) triggerShutdown() {
	s.shutdownOnce.Do(func() {
		s.running.Store(false)
		s.q.Shutdown()
	})
}

func (s *Supervisor) startDashboard() {
	s.dashboard = web.New(s.cfg.Dashboard, s.cfg.AuthToken, s.snapshot)
	go func() {
		if err := s.dashboard.ListenAndServe(); err != nil {
			s.log.Warn("dashboard stopped", zap.Error(err))
		}
	}()
}

func (s *Supervisor) stopDashboard() {
	if s.dashboard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.dashboard.Shutdown(ctx); err != nil {
		s.log.Warn("dashboard shutdown error", zap.Error(err))
	}
}

func (s *Supervisor) snapshot() web.Snapshot {
	stats := s.q.Stats()
	produced, consumed, producerBlocks, consumerBlocks := s.liveCounters()
	return web.Snapshot{
		Producers:        s.cfg.Producers,
		Consumers:        s.cfg.Consumers,
		Capacity:         s.cfg.Capacity,
		QueueDepth:       stats.Occupancy,
		StartedAt:        s.startedAt,
		MessagesProduced: produced,
		MessagesConsumed: consumed,
		ProducerBlocks:   producerBlocks,
		ConsumerBlocks:   consumerBlocks,
	}
}

func (s *Supervisor) liveCounters() (produced, consumed, producerBlocks, consumerBlocks uint64) {
	for _, c := range s.producerCounters {
		produced += c.MessagesProcessed.Load()
		producerBlocks += c.TimesBlocked.Load()
	}
	for _, c := range s.consumerCounters {
		consumed += c.MessagesProcessed.Load()
		consumerBlocks += c.TimesBlocked.Load()
	}
	return
}

// exportArtifacts ships the run's CSV and JSON report to whichever
// optional sinks are configured. Export failures are logged, never
// fatal: they do not change Run's return code.
func (s *Supervisor) exportArtifacts(summary analytics.Summary, rec analytics.Recommendation, reportJSON []byte) {
	if s.deps.Exporters.AzureBlob == nil && s.deps.Exporters.LogAnalytics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	csvData, err := os.ReadFile(s.cfg.CSVPath())
	if err != nil {
		s.log.Warn("could not read csv for export", zap.Error(err))
		csvData = nil
	}

	if s.deps.Exporters.AzureBlob != nil {
		if err := s.deps.Exporters.AzureBlob.ExportRun(ctx, s.runID, csvData, reportJSON); err != nil {
			s.log.Warn("azure blob export failed", zap.Error(err))
		}
	}
	if s.deps.Exporters.LogAnalytics != nil {
		if err := s.deps.Exporters.LogAnalytics.ExportRun(ctx, s.runID, summaryToRecord(summary, rec)); err != nil {
			s.log.Warn("log analytics export failed", zap.Error(err))
		}
	}
}

func summaryToRecord(s analytics.Summary, r analytics.Recommendation) map[string]interface{} {
	return map[string]interface{}{
		"producers":                     s.NumProducers,
		"consumers":                     s.NumConsumers,
		"queue_capacity":                s.QueueCapacity,
		"total_produced":                s.TotalProduced,
		"total_consumed":                s.TotalConsumed,
		"producer_blocks":               s.ProducerBlocks,
		"consumer_blocks":               s.ConsumerBlocks,
		"avg_occupancy":                 s.AvgOccupancy,
		"utilisation_percent":           s.Utilisation,
		"peak_occupancy":                s.PeakOccupancy,
		"avg_latency_ms":                s.AvgLatencyMs,
		"total_runtime_seconds":         s.TotalRuntime.Seconds(),
		"recommendation_action":         r.Action,
		"recommendation_rationale":      r.Rationale,
		"recommendation_suggested_size": r.SuggestedSize,
	}
}
