package pipeline

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pcsim/internal/analytics"
	"pcsim/pkg/queue"
)

// sleepChunk bounds how long a worker can sleep before re-checking
// its running flag, so a shutdown request is observed within roughly
// this granularity even mid-sleep.
const sleepChunk = 200 * time.Millisecond

// tracer emits one span per produce and per consume operation. It is
// a no-op unless internal/telemetry.Init configured a real exporter.
var tracer = otel.Tracer("pcsim/pipeline")

// WorkerCounters holds one worker's per-run counters. Both fields are
// atomic and monotonically non-decreasing while the worker runs, so
// they may be read live (the dashboard snapshot does); their final
// values are settled once the owning worker has exited.
type WorkerCounters struct {
	MessagesProcessed atomic.Uint64
	TimesBlocked      atomic.Uint64
}

// ProducerConfig parameterizes one producer's loop.
type ProducerConfig struct {
	ID        int
	Queue     *queue.Queue
	Analytics *analytics.Analytics
	MaxWait   time.Duration
	Rng       *rand.Rand
	Running   *atomic.Bool
}

// ConsumerConfig parameterizes one consumer's loop.
type ConsumerConfig struct {
	ID        int
	Queue     *queue.Queue
	Analytics *analytics.Analytics
	MaxWait   time.Duration
	Rng       *rand.Rand
	Running   *atomic.Bool
}

// RunProducer generates messages with a random payload and priority
// and enqueues them until the running flag clears or the queue shuts
// down. It never holds the queue's mutex across its sleep.
func RunProducer(cfg ProducerConfig, counters *WorkerCounters, wg *sync.WaitGroup) {
	defer wg.Done()

	for cfg.Running.Load() {
		_, span := tracer.Start(context.Background(), "produce", trace.WithAttributes(
			attribute.Int("producer_id", cfg.ID),
		))

		msg := queue.Message{
			Data:       cfg.Rng.Intn(10),
			Priority:   cfg.Rng.Intn(10),
			ProducerID: cfg.ID,
			Timestamp:  time.Now().UnixMilli(),
		}

		blocked, err := cfg.Queue.Enqueue(msg)
		if blocked {
			counters.TimesBlocked.Add(1)
			cfg.Analytics.RecordProducerBlock()
			span.SetAttributes(attribute.Bool("blocked", true))
		}
		if err != nil {
			span.End()
			return
		}

		counters.MessagesProcessed.Add(1)
		cfg.Analytics.RecordProduce()
		span.End()

		sleepPolitely(cfg.Running, cfg.Rng, cfg.MaxWait)
	}
}

// RunConsumer dequeues the highest-priority message, records its
// queue residency as latency, and repeats until the running flag
// clears or the queue shuts down.
func RunConsumer(cfg ConsumerConfig, counters *WorkerCounters, wg *sync.WaitGroup) {
	defer wg.Done()

	for cfg.Running.Load() {
		_, span := tracer.Start(context.Background(), "consume", trace.WithAttributes(
			attribute.Int("consumer_id", cfg.ID),
		))

		msg, blocked, _, err := cfg.Queue.Dequeue()
		if blocked {
			counters.TimesBlocked.Add(1)
			cfg.Analytics.RecordConsumerBlock()
			span.SetAttributes(attribute.Bool("blocked", true))
		}
		if err != nil {
			span.End()
			return
		}

		counters.MessagesProcessed.Add(1)
		cfg.Analytics.RecordConsume()
		latencyMs := time.Now().UnixMilli() - msg.Timestamp
		cfg.Analytics.RecordLatency(latencyMs)
		span.SetAttributes(attribute.Int64("latency_ms", latencyMs))
		span.End()

		sleepPolitely(cfg.Running, cfg.Rng, cfg.MaxWait)
	}
}

// sleepPolitely sleeps a uniformly random duration in [0, maxWait],
// subdivided into sleepChunk-sized naps so running is re-checked at
// roughly that granularity.
func sleepPolitely(running *atomic.Bool, rng *rand.Rand, maxWait time.Duration) {
	if maxWait <= 0 {
		return
	}
	remaining := time.Duration(rng.Int63n(int64(maxWait) + 1))
	for remaining > 0 && running.Load() {
		chunk := sleepChunk
		if remaining < chunk {
			chunk = remaining
		}
		time.Sleep(chunk)
		remaining -= chunk
	}
}
