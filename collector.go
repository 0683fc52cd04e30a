package instrumentz

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Collector buffers finished spans for batch export.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	spans        []FinishedSpan
	spansCh      chan FinishedSpan
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	pending      atomic.Int64 // Spans sent on spansCh but not yet buffered.
	name         string
	mu           sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool
	syncMode     atomic.Bool // Bypass channel for synchronous collection.
}

// NewCollector creates a collector with the given name and channel buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	if bufferSize < 0 {
		bufferSize = 0
	}
	c := &Collector{
		name:    name,
		spans:   make([]FinishedSpan, 0, 8),
		spansCh: make(chan FinishedSpan, bufferSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.start()
	return c
}

// Name returns the collector's name.
func (c *Collector) Name() string {
	return c.name
}

func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining spans before shutdown.
			for {
				select {
				case span := <-c.spansCh:
					c.buffer(span)
					c.pending.Add(-1)
				default:
					return
				}
			}
		case span := <-c.spansCh:
			c.buffer(span)
			c.pending.Add(-1)
		}
	}
}

// Flush moves every span queued before the call into the buffer, so a
// following Export sees it. It waits at most 100ms for a span the collector
// goroutine has already taken off the queue.
func (c *Collector) Flush() {
	deadline := time.Now().Add(100 * time.Millisecond)
	for {
		select {
		case span := <-c.spansCh:
			c.buffer(span)
			c.pending.Add(-1)
			continue
		default:
		}
		if c.pending.Load() <= 0 || time.Now().After(deadline) {
			return
		}
		runtime.Gosched()
	}
}

// Close stops the collector goroutine after draining queued spans.
// Buffered spans remain available to Export. Safe to call more than once.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
			Logger().Warn("instrumentz: collector shutdown timed out", "collector", c.name)
		}
	})
}

// Collect buffers a span with backpressure protection.
// If the internal channel is full, or the collector is closed, the span is
// dropped and the drop counter is incremented.
func (c *Collector) Collect(span FinishedSpan) {
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	span = span.clone()
	if c.syncMode.Load() {
		c.buffer(span)
		return
	}

	c.pending.Add(1)
	select {
	case c.spansCh <- span:
	default:
		c.pending.Add(-1)
		c.droppedCount.Add(1)
	}
}

func (c *Collector) buffer(span FinishedSpan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) >= cap(c.spans) {
		currentCap := cap(c.spans)
		var newCap int
		if currentCap < 1024 {
			newCap = currentCap * 2
		} else {
			// Grow by 50% for large buffers to avoid excessive memory usage.
			newCap = currentCap + currentCap/2
		}
		if newCap < 32 {
			newCap = 32
		}
		grown := make([]FinishedSpan, len(c.spans), newCap)
		copy(grown, c.spans)
		c.spans = grown
	}
	c.spans = append(c.spans, span)
}

// Export returns all buffered spans and clears the buffer.
// The returned slice is safe to modify without affecting the collector.
func (c *Collector) Export() []FinishedSpan {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) == 0 {
		return nil
	}

	result := make([]FinishedSpan, len(c.spans))
	copy(result, c.spans)

	// Only shrink if buffer is very oversized to avoid allocation churn.
	if cap(c.spans) > 256 && len(c.spans) < cap(c.spans)/8 {
		newCap := cap(c.spans) / 4
		if newCap < 32 {
			newCap = 32
		}
		c.spans = make([]FinishedSpan, 0, newCap)
	} else {
		c.spans = make([]FinishedSpan, 0, cap(c.spans))
	}

	return result
}

// Count returns the current number of buffered spans.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

// DroppedCount returns the total number of spans dropped due to backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection.
// Spans are buffered directly without going through the channel, which makes
// tests deterministic.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears all buffered spans and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spans = c.spans[:0]
	c.droppedCount.Store(0)
}
