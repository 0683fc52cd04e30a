// Package integration exercises instrumentz end to end: propagation across
// transports, span trees built by several services, and the OpenTelemetry bridge.
package integration

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/zoobzio/instrumentz"
)

// Stack is a System over a MemoryTracer, with the propagators a real service
// would use: W3C trace context, W3C baggage and an x-request-id field.
type Stack struct {
	*instrumentz.System
	Tracer *instrumentz.MemoryTracer
}

// NewStack builds a Stack closed when t finishes. opts are applied after the defaults.
func NewStack(t *testing.T, opts ...instrumentz.MemoryTracerOption) *Stack {
	t.Helper()
	propagators := []instrumentz.TextMapPropagator{
		instrumentz.TraceContext{},
		instrumentz.W3CBaggage{},
		instrumentz.NewFieldPropagator(instrumentz.Field{Name: "x-request-id", Key: instrumentz.RequestIDKey}),
	}
	opts = append([]instrumentz.MemoryTracerOption{
		instrumentz.WithClock(clockz.RealClock),
		instrumentz.WithPropagator(instrumentz.NewMultiplex(propagators)),
	}, opts...)

	tracer := instrumentz.NewMemoryTracer(opts...)
	t.Cleanup(tracer.Close)
	return &Stack{
		System: instrumentz.NewSystem(instrumentz.WithTracer(tracer), instrumentz.WithPropagators(propagators...)),
		Tracer: tracer,
	}
}

// WaitForSpans waits until at least expected spans have finished.
func (s *Stack) WaitForSpans(t *testing.T, expected int, timeout time.Duration) []instrumentz.FinishedSpan {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		spans := s.Tracer.FinishedSpans()
		if len(spans) >= expected {
			return spans
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for spans: expected %d, got %d", expected, len(spans))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// SpanTree is a hierarchical view of finished spans.
type SpanTree struct {
	Span     instrumentz.FinishedSpan
	Children []*SpanTree
}

// BuildSpanTree links spans by parent span id. Spans whose parent is not in
// the list become roots.
func BuildSpanTree(spans []instrumentz.FinishedSpan) []*SpanTree {
	nodes := make(map[string]*SpanTree, len(spans))
	for _, span := range spans {
		nodes[span.SpanContext.SpanID] = &SpanTree{Span: span}
	}

	roots := make([]*SpanTree, 0)
	for _, span := range spans {
		node := nodes[span.SpanContext.SpanID]
		if parent, ok := nodes[span.SpanContext.ParentSpanID]; ok && !span.SpanContext.IsRoot() {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots
}

// PrintSpanTree formats trees for failure messages.
func PrintSpanTree(trees []*SpanTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *SpanTree, depth int) {
	fmt.Fprintf(sb, "%s%s [%s] %s\n",
		strings.Repeat("  ", depth), node.Span.Name, node.Span.Kind, node.Span.Status.Code)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// TraceAnalyzer answers questions about a set of finished spans.
type TraceAnalyzer struct {
	spans  []instrumentz.FinishedSpan
	byName map[string][]instrumentz.FinishedSpan
	trees  []*SpanTree
}

// NewTraceAnalyzer indexes spans.
func NewTraceAnalyzer(spans []instrumentz.FinishedSpan) *TraceAnalyzer {
	a := &TraceAnalyzer{
		spans:  spans,
		byName: make(map[string][]instrumentz.FinishedSpan),
	}
	for _, span := range spans {
		a.byName[span.Name] = append(a.byName[span.Name], span)
	}
	a.trees = BuildSpanTree(spans)
	return a
}

// Named returns the first span called name.
func (a *TraceAnalyzer) Named(name string) (instrumentz.FinishedSpan, bool) {
	spans := a.byName[name]
	if len(spans) == 0 {
		return instrumentz.FinishedSpan{}, false
	}
	return spans[0], true
}

// CountTrees returns the number of root spans.
func (a *TraceAnalyzer) CountTrees() int {
	return len(a.trees)
}

// TraceIDs returns the distinct trace ids.
func (a *TraceAnalyzer) TraceIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, span := range a.spans {
		ids[span.SpanContext.TraceID] = struct{}{}
	}
	return ids
}

// String renders the trees.
func (a *TraceAnalyzer) String() string {
	return PrintSpanTree(a.trees)
}

// VerifyChain checks that each named span is the child of the one before it.
// Names may repeat, as client and server spans of one call often do.
func (a *TraceAnalyzer) VerifyChain(names ...string) error {
	if len(names) < 2 {
		return fmt.Errorf("chain requires at least 2 spans")
	}
	prev, ok := a.Named(names[0])
	if !ok {
		return fmt.Errorf("span %q not found", names[0])
	}
	for _, name := range names[1:] {
		next, ok := a.childNamed(prev, name)
		if !ok {
			return fmt.Errorf("broken chain: no %q under %q", name, prev.Name)
		}
		prev = next
	}
	return nil
}

func (a *TraceAnalyzer) childNamed(parent instrumentz.FinishedSpan, name string) (instrumentz.FinishedSpan, bool) {
	for _, span := range a.byName[name] {
		if span.SpanContext.ParentSpanID == parent.SpanContext.SpanID &&
			span.SpanContext.TraceID == parent.SpanContext.TraceID {
			return span, true
		}
	}
	return instrumentz.FinishedSpan{}, false
}
