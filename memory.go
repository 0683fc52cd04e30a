package instrumentz

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
)

// SpanHandler is called when a span completes.
type SpanHandler func(span FinishedSpan)

type handlerEntry struct {
	handler SpanHandler
	id      uint64
	async   bool
}

// Injection records one call to MemoryTracer.Inject.
type Injection struct {
	Baggage Baggage
	// Values holds the carrier fields the propagator wrote.
	Values map[string]string
}

// Extraction records one call to MemoryTracer.Extract.
type Extraction struct {
	// Carrier is a snapshot of the carrier contents.
	Carrier map[string]string
	// Baggage is the Baggage Extract returned.
	Baggage Baggage
}

// MemoryTracerOption configures a MemoryTracer.
type MemoryTracerOption func(*MemoryTracer)

// WithClock sets the clock used for timestamps. Tests pass a clockz fake clock.
func WithClock(clock clockz.Clock) MemoryTracerOption {
	return func(t *MemoryTracer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithIDGenerator replaces the default pooled random id generator.
func WithIDGenerator(gen IDGenerator) MemoryTracerOption {
	return func(t *MemoryTracer) {
		if gen != nil {
			t.ids = gen
		}
	}
}

// WithPropagator sets the propagator behind Inject and Extract. The default is TraceContext.
func WithPropagator(p TextMapPropagator) MemoryTracerOption {
	return func(t *MemoryTracer) {
		if p != nil {
			t.propagator = p
		}
	}
}

// WithCollector feeds every finished span to c. The tracer closes c on Close.
func WithCollector(c *Collector) MemoryTracerOption {
	return func(t *MemoryTracer) {
		t.collector = c
	}
}

// WithExporters registers exporters fed from the collector on ForceFlush.
func WithExporters(exporters ...Exporter) MemoryTracerOption {
	return func(t *MemoryTracer) {
		for _, e := range exporters {
			if e != nil {
				t.exporters = append(t.exporters, e)
			}
		}
	}
}

// WithRecordInjections toggles recording of Inject calls. On by default.
func WithRecordInjections(on bool) MemoryTracerOption {
	return func(t *MemoryTracer) {
		t.recordInjections = on
	}
}

// WithRecordExtractions toggles recording of Extract calls. On by default.
func WithRecordExtractions(on bool) MemoryTracerOption {
	return func(t *MemoryTracer) {
		t.recordExtractions = on
	}
}

// MemoryTracer keeps every span in memory.
// It backs tests and serves as a collection point for handlers and exporters.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type MemoryTracer struct {
	handlers          []handlerEntry
	panicHook         func(handlerID uint64, r any)
	workers           *workerPool
	ids               IDGenerator
	clock             clockz.Clock
	propagator        TextMapPropagator
	collector         *Collector
	exporters         []Exporter
	active            map[string]*ActiveSpan
	finished          []FinishedSpan
	injections        []Injection
	extractions       []Extraction
	handlersLock      sync.RWMutex
	stateLock         sync.Mutex
	idsOnce           sync.Once
	nextID            atomic.Uint64
	droppedSpans      atomic.Uint64
	forceFlushes      atomic.Int64
	recordInjections  bool
	recordExtractions bool
}

// NewMemoryTracer creates a tracer that uses the real clock and random ids.
func NewMemoryTracer(opts ...MemoryTracerOption) *MemoryTracer {
	t := &MemoryTracer{
		handlers:          make([]handlerEntry, 0),
		clock:             clockz.RealClock,
		propagator:        TraceContext{},
		active:            make(map[string]*ActiveSpan),
		recordInjections:  true,
		recordExtractions: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ensureIDs starts the default id pools on first use.
func (t *MemoryTracer) ensureIDs() {
	t.idsOnce.Do(func() {
		if t.ids == nil {
			t.ids = NewRandomIDs()
		}
	})
}

// StartSpan implements Tracer.
func (t *MemoryTracer) StartSpan(b Baggage, name string, opts ...SpanStartOption) Span {
	cfg := NewSpanConfig(opts...)
	t.ensureIDs()

	sc := SpanContext{SpanID: t.ids.NewSpanID(), TraceFlags: FlagsSampled}
	if parent, ok := SpanContextKey.Get(b); ok && parent.TraceID != "" {
		sc.TraceID = parent.TraceID
		sc.ParentSpanID = parent.SpanID
		sc.TraceFlags = parent.TraceFlags
	} else {
		sc.TraceID = t.ids.NewTraceID()
	}

	start := cfg.StartTime
	if start.IsZero() {
		start = t.clock.Now()
	}

	span := &ActiveSpan{
		tracer:  t,
		baggage: SpanContextKey.Set(b, sc),
		sc:      sc,
		name:    name,
		kind:    cfg.Kind,
		start:   start,
	}
	if len(cfg.Attributes) > 0 {
		span.SetAttributes(cfg.Attributes...)
	}
	for _, link := range cfg.Links {
		span.AddLink(link)
	}

	t.stateLock.Lock()
	t.active[sc.SpanID] = span
	t.stateLock.Unlock()

	return span
}

// finish moves span from the active set to the finished list and notifies
// the collector and handlers.
func (t *MemoryTracer) finish(span *ActiveSpan, finished FinishedSpan) {
	t.stateLock.Lock()
	delete(t.active, span.sc.SpanID)
	t.finished = append(t.finished, finished)
	t.stateLock.Unlock()

	if t.collector != nil {
		t.collector.Collect(finished)
	}
	t.executeHandlers(finished)
}

// ActiveSpans returns the spans that have started but not ended.
func (t *MemoryTracer) ActiveSpans() []*ActiveSpan {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()

	out := make([]*ActiveSpan, 0, len(t.active))
	for _, s := range t.active {
		out = append(out, s)
	}
	return out
}

// ActiveSpan returns the open span identified by the SpanContextKey entry of b.
func (t *MemoryTracer) ActiveSpan(b Baggage) (*ActiveSpan, bool) {
	sc, ok := SpanContextKey.Get(b)
	if !ok {
		return nil, false
	}
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	s, ok := t.active[sc.SpanID]
	return s, ok
}

// FinishedSpans returns, without removing, every finished span in end order.
func (t *MemoryTracer) FinishedSpans() []FinishedSpan {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	return append([]FinishedSpan(nil), t.finished...)
}

// PopFinishedSpans returns and removes every finished span.
func (t *MemoryTracer) PopFinishedSpans() []FinishedSpan {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	out := t.finished
	t.finished = nil
	return out
}

// ClearFinishedSpans drops every finished span.
func (t *MemoryTracer) ClearFinishedSpans() {
	t.stateLock.Lock()
	t.finished = nil
	t.stateLock.Unlock()
}

// ClearAll drops finished spans and recorded injections and extractions.
// With includingActive it also forgets open spans.
func (t *MemoryTracer) ClearAll(includingActive bool) {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()

	t.finished = nil
	t.injections = nil
	t.extractions = nil
	if includingActive {
		t.active = make(map[string]*ActiveSpan)
	}
}

// ForceFlush implements Tracer. It counts the call, then drains the collector
// into the exporters. Without exporters the collector keeps its spans.
func (t *MemoryTracer) ForceFlush(ctx context.Context) error {
	t.forceFlushes.Add(1)
	if t.collector == nil || len(t.exporters) == 0 {
		return nil
	}
	t.collector.Flush()
	return exportAll(ctx, t.exporters, t.collector.Export())
}

// ForceFlushCount returns how many times ForceFlush was called.
func (t *MemoryTracer) ForceFlushCount() int64 {
	return t.forceFlushes.Load()
}

// Inject implements Propagator through the configured propagator.
func (t *MemoryTracer) Inject(b Baggage, carrier TextMapCarrier) {
	if !t.recordInjections {
		t.propagator.Inject(b, carrier)
		return
	}
	rec := &recordingCarrier{TextMapCarrier: carrier, written: map[string]string{}}
	t.propagator.Inject(b, rec)

	t.stateLock.Lock()
	t.injections = append(t.injections, Injection{Baggage: b, Values: rec.written})
	t.stateLock.Unlock()
}

// Extract implements Propagator through the configured propagator.
func (t *MemoryTracer) Extract(carrier TextMapCarrier, b Baggage) Baggage {
	out := t.propagator.Extract(carrier, b)
	if t.recordExtractions {
		snapshot := snapshotCarrier(carrier)
		t.stateLock.Lock()
		t.extractions = append(t.extractions, Extraction{Carrier: snapshot, Baggage: out})
		t.stateLock.Unlock()
	}
	return out
}

// Injections returns the recorded Inject calls.
func (t *MemoryTracer) Injections() []Injection {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	return append([]Injection(nil), t.injections...)
}

// Extractions returns the recorded Extract calls.
func (t *MemoryTracer) Extractions() []Extraction {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	return append([]Extraction(nil), t.extractions...)
}

// OnSpanComplete registers a synchronous handler called when spans complete.
func (t *MemoryTracer) OnSpanComplete(handler SpanHandler) uint64 {
	return t.registerHandler(handler, false)
}

// OnSpanCompleteAsync registers an asynchronous handler called when spans complete.
func (t *MemoryTracer) OnSpanCompleteAsync(handler SpanHandler) uint64 {
	return t.registerHandler(handler, true)
}

func (t *MemoryTracer) registerHandler(handler SpanHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (t *MemoryTracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	// Preserve order
	for i, h := range t.handlers {
		if h.id == id {
			copy(t.handlers[i:], t.handlers[i+1:])
			t.handlers = t.handlers[:len(t.handlers)-1]
			return
		}
	}
}

// HandlerCount returns the number of registered handlers.
func (t *MemoryTracer) HandlerCount() int {
	t.handlersLock.RLock()
	defer t.handlersLock.RUnlock()
	return len(t.handlers)
}

// SetPanicHook sets a function to be called when a handler panics.
func (t *MemoryTracer) SetPanicHook(hook func(handlerID uint64, r any)) {
	t.handlersLock.Lock()
	t.panicHook = hook
	t.handlersLock.Unlock()
}

// executeHandlers calls all registered handlers with the finished span.
func (t *MemoryTracer) executeHandlers(span FinishedSpan) {
	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	workers := t.workers
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		if !h.async {
			t.safeCall(h, span.clone())
			continue
		}
		entry := h
		own := span.clone()
		if workers != nil {
			workers.submit(func() {
				t.safeCall(entry, own)
			})
		} else {
			go t.safeCall(entry, own)
		}
	}
}

func (t *MemoryTracer) safeCall(entry handlerEntry, span FinishedSpan) {
	defer func() {
		if r := recover(); r != nil {
			t.handlersLock.RLock()
			hook := t.panicHook
			t.handlersLock.RUnlock()
			if hook != nil {
				hook(entry.id, r)
				return
			}
			Logger().Warn("instrumentz: span handler panicked", "handler", entry.id, "recovered", r)
		}
	}()
	entry.handler(span)
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
func (t *MemoryTracer) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 {
		return errors.New("instrumentz: workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("instrumentz: queueSize must be > 0")
	}

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	if t.workers != nil {
		return errors.New("instrumentz: worker pool already enabled")
	}

	t.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &t.droppedSpans,
	}

	t.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.workers.run()
	}

	return nil
}

// DroppedSpans returns the number of handler invocations dropped due to a full worker queue.
func (t *MemoryTracer) DroppedSpans() uint64 {
	return t.droppedSpans.Load()
}

// Close shuts down the tracer and exports whatever the collector still holds.
func (t *MemoryTracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	// Runs queued async tasks, then stops the workers.
	if workers != nil {
		workers.shutdown()
	}
	if t.collector != nil {
		t.collector.Close()
		if len(t.exporters) > 0 {
			if err := exportAll(context.Background(), t.exporters, t.collector.Export()); err != nil {
				Logger().Warn("instrumentz: final export failed", "collector", t.collector.Name(), "error", err)
			}
		}
	}
	if closer, ok := t.ids.(io.Closer); ok {
		_ = closer.Close()
	}
}

// recordingCarrier remembers what a propagator wrote.
type recordingCarrier struct {
	TextMapCarrier
	written map[string]string
}

func (c *recordingCarrier) Set(key, value string) {
	c.written[key] = value
	if c.TextMapCarrier != nil {
		c.TextMapCarrier.Set(key, value)
	}
}

func (c *recordingCarrier) Get(key string) string {
	if c.TextMapCarrier == nil {
		return ""
	}
	return c.TextMapCarrier.Get(key)
}

func (c *recordingCarrier) Keys() []string {
	if c.TextMapCarrier == nil {
		return nil
	}
	return c.TextMapCarrier.Keys()
}

func snapshotCarrier(carrier TextMapCarrier) map[string]string {
	if carrier == nil {
		return nil
	}
	out := make(map[string]string)
	for _, k := range carrier.Keys() {
		out[k] = carrier.Get(k)
	}
	return out
}

// workerPool manages a fixed number of workers for processing async handlers.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			// No submit can succeed once stop is closed.
			for {
				select {
				case task := <-w.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// submit queues task. A full queue or a stopped pool counts as a drop.
func (w *workerPool) submit(task func()) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	close(w.stop)
	w.wg.Wait()
}

var _ Tracer = (*MemoryTracer)(nil)
