package queue

import (
	"sync"
	"testing"
	"time"
)

func mustNew(t *testing.T, capacity, agingIntervalMs int) *Queue {
	t.Helper()
	q, err := New(capacity, agingIntervalMs)
	if err != nil {
		t.Fatalf("New(%d, %d): %v", capacity, agingIntervalMs, err)
	}
	return q
}

func TestNewRejectsInvalidCapacity(t *testing.T) {
	if _, err := New(0, 0); err == nil {
		t.Fatalf("expected error for capacity 0")
	}
	if _, err := New(21, 0); err == nil {
		t.Fatalf("expected error for capacity 21")
	}
}

func TestPriorityDominanceAgingOff(t *testing.T) {
	q := mustNew(t, 5, 0)
	priorities := []int{2, 7, 1, 9, 5}
	for i, p := range priorities {
		if _, err := q.Enqueue(Message{Data: i, Priority: p, ProducerID: 1, Timestamp: nowMs()}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	want := []int{9, 7, 5, 2, 1}
	for _, w := range want {
		msg, _, _, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if msg.Priority != w {
			t.Fatalf("expected priority %d, got %d", w, msg.Priority)
		}
	}
}

func TestFIFOWithinPriorityBand(t *testing.T) {
	q := mustNew(t, 5, 0)
	for _, producer := range []int{1, 2, 3} {
		// Sleep briefly to guarantee strictly increasing timestamps
		// on platforms with coarse wall-clock resolution.
		time.Sleep(time.Millisecond)
		if _, err := q.Enqueue(Message{Priority: 5, ProducerID: producer, Timestamp: nowMs()}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	want := []int{1, 2, 3}
	for _, w := range want {
		msg, _, _, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if msg.ProducerID != w {
			t.Fatalf("expected producer %d, got %d", w, msg.ProducerID)
		}
	}
}

func TestAgingBoundary(t *testing.T) {
	base := nowMs()
	if got := effectivePriority(3, base, base+500, 100); got != 8 {
		t.Fatalf("effective priority at t=500ms: got %d, want 8", got)
	}
	if got := effectivePriority(3, base, base+10000, 100); got != 9 {
		t.Fatalf("effective priority at t=10s: got %d, want 9 (capped)", got)
	}
}

func TestConservation(t *testing.T) {
	q := mustNew(t, 4, 0)
	const total = 40
	var wg sync.WaitGroup
	var produced, consumed int64
	var mu sync.Mutex

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if _, err := q.Enqueue(Message{Data: i, Priority: i % 10, ProducerID: 1, Timestamp: nowMs()}); err == nil {
				mu.Lock()
				produced++
				mu.Unlock()
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if _, _, _, err := q.Dequeue(); err == nil {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}
	}()
	wg.Wait()

	residual := q.Depth()
	if produced != consumed+int64(residual) {
		t.Fatalf("conservation violated: produced=%d consumed=%d residual=%d", produced, consumed, residual)
	}
}

func TestShutdownLiveness(t *testing.T) {
	q := mustNew(t, 1, 0)
	if _, err := q.Enqueue(Message{Priority: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	const parked = 5
	var wg sync.WaitGroup
	wg.Add(parked)
	for i := 0; i < parked; i++ {
		go func() {
			defer wg.Done()
			// queue is already full, so this call must block until Shutdown wakes it.
			if _, err := q.Enqueue(Message{Priority: 1}); err != ErrShutdown {
				t.Errorf("expected ErrShutdown, got %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not unblock within 2s of shutdown")
	}
}

func TestIdempotentShutdown(t *testing.T) {
	q := mustNew(t, 2, 0)
	q.Shutdown()
	q.Shutdown()
	if _, err := q.Enqueue(Message{Priority: 1}); err != ErrShutdown {
		t.Fatalf("expected ErrShutdown after double shutdown, got %v", err)
	}
}

func TestBlockedFlagReportedAccurately(t *testing.T) {
	q := mustNew(t, 1, 0)
	if blocked, err := q.Enqueue(Message{Priority: 1}); err != nil || blocked {
		t.Fatalf("first enqueue into empty queue should not block: blocked=%v err=%v", blocked, err)
	}

	done := make(chan bool, 1)
	go func() {
		blocked, err := q.Enqueue(Message{Priority: 1})
		if err != nil {
			return
		}
		done <- blocked
	}()

	time.Sleep(20 * time.Millisecond)
	if _, _, _, err := q.Dequeue(); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	select {
	case blocked := <-done:
		if !blocked {
			t.Fatal("second enqueue into a full queue should have reported blocked=true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked enqueue never completed")
	}
}
