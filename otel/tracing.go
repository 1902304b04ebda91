// Package otel translates engine run events into OpenTelemetry spans and
// metrics. Handlers attach to the engine's event stream; the SDK and
// exporter wiring stays with the hosting process.
package otel

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgeworks-ai/toolforge"
)

// TracingHandler translates engine events into OpenTelemetry spans: one
// root span per run, one child span per node. Blocked and skipped nodes
// close with Ok status and a marker attribute; only failures record an
// error.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span
	runCtxs   map[string]context.Context
	nodeSpans map[string]trace.Span
}

// NewTracingHandler creates a TracingHandler over the given tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		nodeSpans: make(map[string]trace.Span),
	}
}

// Handle processes one engine event. It implements
// toolforge.EventHandler semantics.
func (h *TracingHandler) Handle(e toolforge.Event) {
	switch e.Kind {
	case toolforge.EventRunStarted:
		h.handleRunStarted(e)
	case toolforge.EventNodeStarted:
		h.handleNodeStarted(e)
	case toolforge.EventNodeFinished, toolforge.EventNodeBlocked, toolforge.EventNodeSkipped:
		h.endNodeSpan(e, "")
	case toolforge.EventNodeFailed:
		h.endNodeSpan(e, payloadError(e))
	case toolforge.EventNodeRetried:
		h.handleNodeRetried(e)
	case toolforge.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *TracingHandler) handleRunStarted(e toolforge.Event) {
	spanName := "run:" + e.RunID
	if target, ok := e.Payload["target_id"].(string); ok && target != "" {
		spanName = "run:" + target
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("toolforge.run_id", e.RunID),
			attribute.String("toolforge.tool_id", e.ToolID),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeStarted(e toolforge.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "node:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("toolforge.run_id", e.RunID),
			attribute.String("toolforge.node_id", e.NodeID),
			attribute.String("toolforge.node_kind", e.NodeKind),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.nodeSpans[e.RunID+":"+e.NodeID] = span
	h.mu.Unlock()
}

func (h *TracingHandler) endNodeSpan(e toolforge.Event, errMsg string) {
	key := e.RunID + ":" + e.NodeID

	h.mu.Lock()
	span, ok := h.nodeSpans[key]
	if ok {
		delete(h.nodeSpans, key)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.String("toolforge.outcome", string(e.Kind)),
		attribute.Int("toolforge.attempts", e.Attempt),
	)
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(errors.New(errMsg), trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleNodeRetried(e toolforge.Event) {
	h.mu.RLock()
	span, ok := h.nodeSpans[e.RunID+":"+e.NodeID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	span.AddEvent("retry", trace.WithTimestamp(e.Time), trace.WithAttributes(
		attribute.Int("toolforge.attempt", e.Attempt),
		attribute.String("toolforge.error", payloadError(e)),
	))
}

func (h *TracingHandler) handleRunFinished(e toolforge.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	status, _ := e.Payload["status"].(string)
	span.SetAttributes(attribute.String("toolforge.status", status))
	if status == string(toolforge.RunFailed) {
		span.SetStatus(codes.Error, "run failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func payloadError(e toolforge.Event) string {
	if msg, ok := e.Payload["error"].(string); ok {
		return msg
	}
	return "unknown error"
}
