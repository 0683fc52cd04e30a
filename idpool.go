package instrumentz

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// IDGenerator mints W3C trace and span ids as lowercase hex.
type IDGenerator interface {
	NewTraceID() string
	NewSpanID() string
}

// IDPool manages a pool of pre-generated IDs to amortize crypto/rand overhead.
type IDPool struct {
	factory func() string
	ids     chan string
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a new ID pool with the specified capacity.
func NewIDPool(capacity int, factory func() string) *IDPool {
	pool := &IDPool{
		ids:     make(chan string, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// Get retrieves an ID from the pool or generates one if the pool is empty.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.factory()
	}
}

func (p *IDPool) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		case p.ids <- p.factory():
		}
	}
}

// Close stops the refill goroutine. Get keeps working afterwards.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}

// RandomIDs draws ids from crypto/rand through a pair of IDPools.
type RandomIDs struct {
	traceIDs *IDPool
	spanIDs  *IDPool
}

// NewRandomIDs starts pools sized to the number of CPUs. Call Close when done.
func NewRandomIDs() *RandomIDs {
	size := runtime.NumCPU() * 100
	return &RandomIDs{
		traceIDs: NewIDPool(size, func() string { return randomHex(16) }),
		spanIDs:  NewIDPool(size, func() string { return randomHex(8) }),
	}
}

// NewTraceID implements IDGenerator.
func (r *RandomIDs) NewTraceID() string { return r.traceIDs.Get() }

// NewSpanID implements IDGenerator.
func (r *RandomIDs) NewSpanID() string { return r.spanIDs.Get() }

// Close stops both pools.
func (r *RandomIDs) Close() error {
	r.traceIDs.Close()
	r.spanIDs.Close()
	return nil
}

// randomHex returns n random bytes as hex, never all zeros.
func randomHex(n int) string {
	buf := make([]byte, n)
	for {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Errorf("instrumentz: crypto/rand: %w", err))
		}
		for _, c := range buf {
			if c != 0 {
				return hex.EncodeToString(buf)
			}
		}
	}
}

// IncrementingIDs hands out sequential ids starting at 1. Useful for tests.
type IncrementingIDs struct {
	trace atomic.Uint64
	span  atomic.Uint64
}

// NewTraceID implements IDGenerator.
func (g *IncrementingIDs) NewTraceID() string {
	return fmt.Sprintf("%032x", g.trace.Add(1))
}

// NewSpanID implements IDGenerator.
func (g *IncrementingIDs) NewSpanID() string {
	return fmt.Sprintf("%016x", g.span.Add(1))
}

var (
	_ IDGenerator = (*RandomIDs)(nil)
	_ IDGenerator = (*IncrementingIDs)(nil)
)
