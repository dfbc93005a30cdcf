package pipeline

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pcsim/internal/analytics"
	"pcsim/pkg/queue"
)

func TestProducerBlockCountAccuracy(t *testing.T) {
	q, err := queue.New(1, 0)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	an := analytics.New(q, 3, 1)

	var running atomic.Bool
	running.Store(true)

	var wg sync.WaitGroup
	counters := make([]WorkerCounters, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go RunProducer(ProducerConfig{
			ID:        i + 1,
			Queue:     q,
			Analytics: an,
			MaxWait:   0,
			Rng:       rand.New(rand.NewSource(int64(i))),
			Running:   &running,
		}, &counters[i], &wg)
	}

	time.Sleep(50 * time.Millisecond)
	running.Store(false)
	q.Shutdown()
	wg.Wait()

	var totalBlocks uint64
	for i := range counters {
		totalBlocks += counters[i].TimesBlocked.Load()
	}
	if totalBlocks == 0 {
		t.Fatal("expected at least one recorded producer block with capacity=1 and 3 producers")
	}
}

func TestConsumerBlockCountAccuracy(t *testing.T) {
	q, err := queue.New(10, 0)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	an := analytics.New(q, 1, 3)

	var running atomic.Bool
	running.Store(true)

	var wg sync.WaitGroup
	counters := make([]WorkerCounters, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go RunConsumer(ConsumerConfig{
			ID:        i + 1,
			Queue:     q,
			Analytics: an,
			MaxWait:   0,
			Rng:       rand.New(rand.NewSource(int64(i))),
			Running:   &running,
		}, &counters[i], &wg)
	}

	time.Sleep(50 * time.Millisecond)
	running.Store(false)
	q.Shutdown()
	wg.Wait()

	var totalBlocks uint64
	for i := range counters {
		totalBlocks += counters[i].TimesBlocked.Load()
	}
	if totalBlocks == 0 {
		t.Fatal("expected at least one recorded consumer block with an empty queue and 3 consumers")
	}
}

func TestWorkersExitOnShutdown(t *testing.T) {
	q, err := queue.New(2, 0)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	an := analytics.New(q, 2, 2)

	var running atomic.Bool
	running.Store(true)

	var wg sync.WaitGroup
	counters := make([]WorkerCounters, 4)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go RunProducer(ProducerConfig{
			ID: i + 1, Queue: q, Analytics: an,
			MaxWait: 10 * time.Millisecond,
			Rng:     rand.New(rand.NewSource(int64(i))),
			Running: &running,
		}, &counters[i], &wg)
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go RunConsumer(ConsumerConfig{
			ID: i + 1, Queue: q, Analytics: an,
			MaxWait: 10 * time.Millisecond,
			Rng:     rand.New(rand.NewSource(int64(i))),
			Running: &running,
		}, &counters[i+2], &wg)
	}

	time.Sleep(30 * time.Millisecond)
	running.Store(false)
	q.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit within 2s of shutdown")
	}
}
