// Package analytics implements the periodic occupancy sampler and the
// throughput/blocking/latency aggregates it feeds, together with the
// capacity-sizing recommendation surfaced in the final report.
package analytics

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"pcsim/internal/metrics"
	"pcsim/pkg/queue"
)

// MaxSamples bounds the occupancy time-series; past this count, new
// samples are silently dropped rather than overwriting old ones.
const MaxSamples = 600

// DefaultSampleInterval is how often occupancy is sampled.
const DefaultSampleInterval = time.Second

// Sample is one (t, occupancy, capacity) observation.
type Sample struct {
	TimestampSec float64
	Occupancy    int
	Capacity     int
}

// Analytics aggregates queue occupancy, throughput, blocking, and
// latency statistics for one simulation run.
type Analytics struct {
	mu      sync.Mutex
	samples []Sample

	queueCapacity  int
	maxOccupancy   int
	minOccupancy   int
	occupancySum   int64
	fullCount      int
	emptyCount     int

	totalProduced       int
	totalConsumed       int
	totalProducerBlocks int
	totalConsumerBlocks int

	totalLatencyMs int64
	maxLatencyMs   int64
	minLatencyMs   int64
	latencyCount   int

	numProducers int
	numConsumers int

	startTime    time.Time
	endTime      time.Time
	totalRuntime time.Duration

	q              *queue.Queue
	sampleInterval time.Duration
	active         atomic.Bool
	stopCh         chan struct{}
	doneCh         chan struct{}
}

// New constructs analytics bound to q, starting its occupancy
// baseline at q's capacity so the very first sample always becomes
// the new minimum (avoids a false zero minimum before any sample).
func New(q *queue.Queue, numProducers, numConsumers int) *Analytics {
	return &Analytics{
		queueCapacity:  q.Capacity(),
		minOccupancy:   q.Capacity(),
		numProducers:   numProducers,
		numConsumers:   numConsumers,
		startTime:      time.Now(),
		q:              q,
		sampleInterval: DefaultSampleInterval,
	}
}

// SetSampleInterval overrides the default 1s sampling cadence. Must be
// called before StartSampling.
func (a *Analytics) SetSampleInterval(d time.Duration) {
	if d > 0 {
		a.sampleInterval = d
	}
}

// StartSampling launches the background occupancy sampler. Calling it
// while already running is a no-op.
func (a *Analytics) StartSampling() {
	if !a.active.CompareAndSwap(false, true) {
		return
	}
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.sampleLoop()
}

// StopSampling stops the background sampler and waits for it to exit.
// Calling it while not running is a no-op.
func (a *Analytics) StopSampling() {
	if !a.active.CompareAndSwap(true, false) {
		return
	}
	close(a.stopCh)
	<-a.doneCh
}

func (a *Analytics) sampleLoop() {
	defer close(a.doneCh)
	ticker := time.NewTicker(a.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.recordSample()
		}
	}
}

// recordSample reads queue occupancy through q.Stats(), which takes the
// queue's mutex for that read only (never while the analytics mutex is
// held). The value may be stale by the time it is recorded; this is an
// observation, not a decision, so that is acceptable.
func (a *Analytics) recordSample() {
	stats := a.q.Stats()

	a.mu.Lock()
	if len(a.samples) < MaxSamples {
		a.samples = append(a.samples, Sample{
			TimestampSec: time.Since(a.startTime).Seconds(),
			Occupancy:    stats.Occupancy,
			Capacity:     stats.Capacity,
		})
		a.occupancySum += int64(stats.Occupancy)
		if stats.Occupancy >= stats.Capacity {
			a.fullCount++
		}
		if stats.Occupancy == 0 {
			a.emptyCount++
		}
	}
	if stats.Occupancy > a.maxOccupancy {
		a.maxOccupancy = stats.Occupancy
	}
	if stats.Occupancy < a.minOccupancy {
		a.minOccupancy = stats.Occupancy
	}
	sampleCount := len(a.samples)
	a.mu.Unlock()

	metrics.QueueDepth.Set(float64(stats.Occupancy))
	metrics.SampleCount.Set(float64(sampleCount))
}

// RecordProduce counts one successfully enqueued message.
func (a *Analytics) RecordProduce() {
	a.mu.Lock()
	a.totalProduced++
	a.mu.Unlock()
	metrics.MessagesProduced.Inc()
}

// RecordConsume counts one successfully dequeued message.
func (a *Analytics) RecordConsume() {
	a.mu.Lock()
	a.totalConsumed++
	a.mu.Unlock()
	metrics.MessagesConsumed.Inc()
}

// RecordProducerBlock counts a producer having to wait for a slot.
func (a *Analytics) RecordProducerBlock() {
	a.mu.Lock()
	a.totalProducerBlocks++
	a.mu.Unlock()
	metrics.ProducerBlocks.Inc()
}

// RecordConsumerBlock counts a consumer having to wait for an item.
func (a *Analytics) RecordConsumerBlock() {
	a.mu.Lock()
	a.totalConsumerBlocks++
	a.mu.Unlock()
	metrics.ConsumerBlocks.Inc()
}

// RecordLatency records one message's queue residency time in ms.
func (a *Analytics) RecordLatency(ms int64) {
	a.mu.Lock()
	a.totalLatencyMs += ms
	if a.latencyCount == 0 || ms > a.maxLatencyMs {
		a.maxLatencyMs = ms
	}
	if a.latencyCount == 0 || ms < a.minLatencyMs {
		a.minLatencyMs = ms
	}
	a.latencyCount++
	a.mu.Unlock()
	metrics.RecordDequeueLatency(ms)
}

// Finalise stops sampling, freezes end_time, and makes the run's
// derived statistics available via Summarize/Recommend/ExportCSV.
func (a *Analytics) Finalise() {
	a.StopSampling()
	a.mu.Lock()
	a.endTime = time.Now()
	a.totalRuntime = a.endTime.Sub(a.startTime)
	a.mu.Unlock()
}

// Summary is the derived, report-ready view of a finalised run.
type Summary struct {
	NumProducers  int
	NumConsumers  int
	QueueCapacity int
	TotalRuntime  time.Duration

	AvgOccupancy  float64
	Utilisation   float64
	PeakOccupancy int
	PercentFull   float64
	PercentEmpty  float64

	TotalProduced int
	TotalConsumed int
	ProducedRate  float64
	ConsumedRate  float64

	ProducerBlocks int
	ConsumerBlocks int

	AvgLatencyMs float64
	MaxLatencyMs int64
	MinLatencyMs int64
}

// Summarize computes the report's derived metrics, guarding every
// ratio against division by zero (no samples, zero runtime, zero
// capacity, zero latency samples).
func (a *Analytics) Summarize() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		NumProducers:   a.numProducers,
		NumConsumers:   a.numConsumers,
		QueueCapacity:  a.queueCapacity,
		TotalRuntime:   a.totalRuntime,
		PeakOccupancy:  a.maxOccupancy,
		TotalProduced:  a.totalProduced,
		TotalConsumed:  a.totalConsumed,
		ProducerBlocks: a.totalProducerBlocks,
		ConsumerBlocks: a.totalConsumerBlocks,
		MaxLatencyMs:   a.maxLatencyMs,
		MinLatencyMs:   a.minLatencyMs,
	}

	if n := len(a.samples); n > 0 {
		s.AvgOccupancy = float64(a.occupancySum) / float64(n)
		s.PercentFull = float64(a.fullCount) / float64(n) * 100.0
		s.PercentEmpty = float64(a.emptyCount) / float64(n) * 100.0
		if a.queueCapacity > 0 {
			s.Utilisation = s.AvgOccupancy / float64(a.queueCapacity) * 100.0
		}
	}

	if secs := a.totalRuntime.Seconds(); secs > 0 {
		s.ProducedRate = float64(a.totalProduced) / secs
		s.ConsumedRate = float64(a.totalConsumed) / secs
	}

	if a.latencyCount > 0 {
		s.AvgLatencyMs = float64(a.totalLatencyMs) / float64(a.latencyCount)
	}

	return s
}

// Recommendation is the capacity-sizing suggestion surfaced in the report.
type Recommendation struct {
	CurrentSize   int
	SuggestedSize int
	Action        string
	Rationale     string
}

// Recommend applies the blocking-frequency/utilisation thresholds to
// suggest a new queue capacity.
func (a *Analytics) Recommend() Recommendation {
	a.mu.Lock()
	defer a.mu.Unlock()

	var utilisation float64
	n := len(a.samples)
	if n > 0 && a.queueCapacity > 0 {
		avg := float64(a.occupancySum) / float64(n)
		utilisation = avg / float64(a.queueCapacity) * 100.0
	}

	suggested := a.queueCapacity
	var action, reason string

	switch {
	case n > 0 && a.totalProducerBlocks > 0 && float64(a.fullCount)/float64(n) > 0.1:
		suggested = a.queueCapacity * 2
		if suggested > queue.MaxCapacity {
			suggested = queue.MaxCapacity
		}
		action = "INCREASE Queue Size"
		reason = "High producer blocking frequency (Queue Full)"
	case n > 0 && a.totalConsumerBlocks > 0 && float64(a.emptyCount)/float64(n) > 0.3:
		suggested = a.queueCapacity
		action = "ADD Producers (or Maintain Size)"
		reason = "High consumer starvation (Queue Empty)"
	case utilisation < 30.0:
		suggested = int(float64(a.queueCapacity) * 0.7)
		if suggested < queue.MinCapacity {
			suggested = queue.MinCapacity
		}
		action = "DECREASE Queue Size"
		reason = "Low utilisation (<30%)"
	default:
		suggested = a.queueCapacity
		action = "MAINTAIN Current Size"
		reason = "Balanced utilisation (30-70%)"
	}

	return Recommendation{
		CurrentSize:   a.queueCapacity,
		SuggestedSize: suggested,
		Action:        action,
		Rationale:     reason,
	}
}

// ExportCSV writes the sample time-series with a header row and one
// row per sample, matching the columns time, occupancy, capacity,
// utilisation_percent.
func (a *Analytics) ExportCSV(path string) error {
	a.mu.Lock()
	samples := append([]Sample(nil), a.samples...)
	a.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("analytics: export csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"time", "occupancy", "capacity", "utilisation_percent"}); err != nil {
		return fmt.Errorf("analytics: export csv header: %w", err)
	}

	for _, s := range samples {
		util := 0.0
		if s.Capacity > 0 {
			util = float64(s.Occupancy) / float64(s.Capacity) * 100.0
		}
		row := []string{
			strconv.FormatFloat(s.TimestampSec, 'f', 2, 64),
			strconv.Itoa(s.Occupancy),
			strconv.Itoa(s.Capacity),
			strconv.FormatFloat(util, 'f', 1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("analytics: export csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// SampleCount returns the number of samples recorded so far.
func (a *Analytics) SampleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}
