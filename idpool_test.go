package instrumentz

import (
	"sync"
	"testing"

	"go.uber.org/goleak"
)

// TestIDPoolBasicOperation tests basic ID pool functionality.
func TestIDPoolBasicOperation(t *testing.T) {
	factory := func() string { return "test-id" }
	pool := NewIDPool(10, factory)
	defer pool.Close()

	id := pool.Get()
	if id != "test-id" {
		t.Errorf("Expected 'test-id', got %s", id)
	}
}

// TestIDPoolEmpty tests behavior when pool is empty.
func TestIDPoolEmpty(t *testing.T) {
	var callCount int
	var mu sync.Mutex
	factory := func() string {
		mu.Lock()
		defer mu.Unlock()
		callCount++
		return "direct-id"
	}

	pool := NewIDPool(1, factory)
	defer pool.Close()

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = pool.Get()
	}

	// Pool holds one id at most, so the factory ran more than once.
	mu.Lock()
	finalCount := callCount
	mu.Unlock()
	if finalCount < 2 {
		t.Errorf("Expected factory to be called multiple times, got %d", finalCount)
	}

	for _, id := range ids {
		if id != "direct-id" {
			t.Errorf("Expected 'direct-id', got %s", id)
		}
	}
}

// TestIDPoolConcurrentAccess tests concurrent access to ID pool.
func TestIDPoolConcurrentAccess(t *testing.T) {
	pool := NewIDPool(50, func() string { return randomHex(8) })
	defer pool.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				id := pool.Get()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 100 {
		t.Errorf("Expected 100 distinct ids, got %d", len(seen))
	}
}

// TestIDPoolCleanShutdown tests that pools shut down cleanly.
func TestIDPoolCleanShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewIDPool(10, func() string { return "shutdown-test" })
	pool.Close()

	// Multiple closes should be safe.
	pool.Close()

	// Get still works after close.
	if id := pool.Get(); id != "shutdown-test" {
		t.Errorf("Expected 'shutdown-test', got %s", id)
	}
}

func TestRandomIDsAreValid(t *testing.T) {
	ids := NewRandomIDs()
	defer ids.Close()

	for i := 0; i < 50; i++ {
		if tid := ids.NewTraceID(); !isValidTraceID(tid) {
			t.Fatalf("invalid trace id %q", tid)
		}
		if sid := ids.NewSpanID(); !isValidSpanID(sid) {
			t.Fatalf("invalid span id %q", sid)
		}
	}
}

func TestIncrementingIDs(t *testing.T) {
	var ids IncrementingIDs

	if got := ids.NewTraceID(); got != "00000000000000000000000000000001" {
		t.Errorf("Expected first trace id to be 1, got %s", got)
	}
	if got := ids.NewSpanID(); got != "0000000000000001" {
		t.Errorf("Expected first span id to be 1, got %s", got)
	}
	if got := ids.NewSpanID(); got != "0000000000000002" {
		t.Errorf("Expected second span id to be 2, got %s", got)
	}
}
