package supervisor

import (
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"pcsim/internal/analytics"
	"pcsim/internal/version"
)

// buildReport renders the run-end textual report written to stdout:
// a system info block, the parameter echo, per-worker counters,
// totals, the balance check, the analytics summary, and the
// optimisation recommendation.
func (s *Supervisor) buildReport(summary analytics.Summary, rec analytics.Recommendation) string {
	var b strings.Builder

	fmt.Fprintln(&b, "=== pcsim run report ===")
	fmt.Fprintf(&b, "host: %s  user: %s  version: %s  run_id: %s\n", hostname(), username(), version.Full(), s.runID)
	fmt.Fprintf(&b, "started: %s  runtime: %s\n", s.startedAt.Format(time.RFC3339), summary.TotalRuntime.Round(10*time.Millisecond))

	fmt.Fprintln(&b, "--- parameters ---")
	fmt.Fprintf(&b, "producers=%d consumers=%d capacity=%d timeout_s=%d aging_interval_ms=%d seed_set=%v\n",
		s.cfg.Producers, s.cfg.Consumers, s.cfg.Capacity, s.cfg.TimeoutSeconds, s.cfg.AgingIntervalMs, s.cfg.SeedSet)

	if s.cfg.Dashboard.Enabled {
		fmt.Fprintf(&b, "dashboard: live view at %s\n", s.cfg.Dashboard.Addr)
	} else {
		fmt.Fprintln(&b, "--- execution log ---")
		fmt.Fprintf(&b, "%d producer(s) and %d consumer(s) ran to completion\n", s.cfg.Producers, s.cfg.Consumers)
	}

	fmt.Fprintln(&b, "--- per-worker counters ---")
	var totalProducerBlocks, totalConsumerBlocks uint64
	for i, c := range s.producerCounters {
		blocked := c.TimesBlocked.Load()
		totalProducerBlocks += blocked
		fmt.Fprintf(&b, "producer %d: produced=%d blocked=%d\n", i+1, c.MessagesProcessed.Load(), blocked)
	}
	for i, c := range s.consumerCounters {
		blocked := c.TimesBlocked.Load()
		totalConsumerBlocks += blocked
		fmt.Fprintf(&b, "consumer %d: consumed=%d blocked=%d\n", i+1, c.MessagesProcessed.Load(), blocked)
	}

	fmt.Fprintln(&b, "--- totals ---")
	fmt.Fprintf(&b, "total_produced=%d total_consumed=%d producer_blocks=%d consumer_blocks=%d\n",
		summary.TotalProduced, summary.TotalConsumed, totalProducerBlocks, totalConsumerBlocks)

	residual := s.q.Depth()
	balanced := summary.TotalProduced == summary.TotalConsumed+residual
	fmt.Fprintf(&b, "balance check: produced = consumed + residual_in_queue (%d = %d + %d) -> %s\n",
		summary.TotalProduced, summary.TotalConsumed, residual, passFail(balanced))

	fmt.Fprintln(&b, "--- analytics summary ---")
	fmt.Fprintf(&b, "peak_occupancy=%d avg_occupancy=%.2f utilisation=%.1f%% percent_full=%.1f%% percent_empty=%.1f%%\n",
		summary.PeakOccupancy, summary.AvgOccupancy, summary.Utilisation, summary.PercentFull, summary.PercentEmpty)
	fmt.Fprintf(&b, "produced_rate=%.2f/s consumed_rate=%.2f/s avg_latency_ms=%.2f min_latency_ms=%d max_latency_ms=%d\n",
		summary.ProducedRate, summary.ConsumedRate, summary.AvgLatencyMs, summary.MinLatencyMs, summary.MaxLatencyMs)

	fmt.Fprintln(&b, "--- recommendation ---")
	fmt.Fprintf(&b, "%s: %s (current=%d suggested=%d)\n", rec.Action, rec.Rationale, rec.CurrentSize, rec.SuggestedSize)

	return strings.TrimRight(b.String(), "\n")
}

// ReportRecord is the JSON-serializable counterpart of the textual
// report: written to cfg.ReportPath() and shipped as-is to the Azure
// Blob exporter, so the object on disk and the object in blob storage
// are identical.
type ReportRecord struct {
	RunID          string    `json:"run_id"`
	Host           string    `json:"host"`
	User           string    `json:"user"`
	Version        string    `json:"version"`
	StartedAt      time.Time `json:"started_at"`
	Producers      int       `json:"producers"`
	Consumers      int       `json:"consumers"`
	Capacity       int       `json:"capacity"`
	TimeoutSeconds int       `json:"timeout_seconds"`

	TotalProduced   int  `json:"total_produced"`
	TotalConsumed   int  `json:"total_consumed"`
	ResidualInQueue int  `json:"residual_in_queue"`
	Balanced        bool `json:"balanced"`

	ProducerBlocks int `json:"producer_blocks"`
	ConsumerBlocks int `json:"consumer_blocks"`

	PeakOccupancy int     `json:"peak_occupancy"`
	AvgOccupancy  float64 `json:"avg_occupancy"`
	Utilisation   float64 `json:"utilisation_percent"`
	PercentFull   float64 `json:"percent_full"`
	PercentEmpty  float64 `json:"percent_empty"`

	ProducedRate float64 `json:"produced_rate"`
	ConsumedRate float64 `json:"consumed_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MinLatencyMs int64   `json:"min_latency_ms"`
	MaxLatencyMs int64   `json:"max_latency_ms"`

	RecommendationAction        string `json:"recommendation_action"`
	RecommendationRationale     string `json:"recommendation_rationale"`
	RecommendationSuggestedSize int    `json:"recommendation_suggested_size"`

	TotalRuntimeSeconds float64 `json:"total_runtime_seconds"`
}

func (s *Supervisor) buildReportRecord(summary analytics.Summary, rec analytics.Recommendation) ReportRecord {
	residual := s.q.Depth()
	return ReportRecord{
		RunID:           s.runID,
		Host:            hostname(),
		User:            username(),
		Version:         version.Full(),
		StartedAt:       s.startedAt,
		Producers:       s.cfg.Producers,
		Consumers:       s.cfg.Consumers,
		Capacity:        s.cfg.Capacity,
		TimeoutSeconds:  s.cfg.TimeoutSeconds,
		TotalProduced:   summary.TotalProduced,
		TotalConsumed:   summary.TotalConsumed,
		ResidualInQueue: residual,
		Balanced:        summary.TotalProduced == summary.TotalConsumed+residual,
		ProducerBlocks:  summary.ProducerBlocks,
		ConsumerBlocks:  summary.ConsumerBlocks,
		PeakOccupancy:   summary.PeakOccupancy,
		AvgOccupancy:    summary.AvgOccupancy,
		Utilisation:     summary.Utilisation,
		PercentFull:     summary.PercentFull,
		PercentEmpty:    summary.PercentEmpty,
		ProducedRate:    summary.ProducedRate,
		ConsumedRate:    summary.ConsumedRate,
		AvgLatencyMs:    summary.AvgLatencyMs,
		MinLatencyMs:    summary.MinLatencyMs,
		MaxLatencyMs:    summary.MaxLatencyMs,

		RecommendationAction:        rec.Action,
		RecommendationRationale:     rec.Rationale,
		RecommendationSuggestedSize: rec.SuggestedSize,

		TotalRuntimeSeconds: summary.TotalRuntime.Seconds(),
	}
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func username() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Username
}
