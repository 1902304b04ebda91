package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/forgeworks-ai/toolforge"
)

// MetricsHandler translates engine events into OpenTelemetry metrics:
// counters for runs, node executions, failures, retries, and blocks, and
// histograms for node and run durations.
type MetricsHandler struct {
	runsStarted    metric.Int64Counter
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeRetries    metric.Int64Counter
	runsBlocked    metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler over the given meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	runsStarted, err := meter.Int64Counter("toolforge.runs.started",
		metric.WithDescription("Number of runs started"),
	)
	if err != nil {
		return nil, err
	}

	nodeExec, err := meter.Int64Counter("toolforge.node.executions",
		metric.WithDescription("Number of node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeFail, err := meter.Int64Counter("toolforge.node.failures",
		metric.WithDescription("Number of node failures"),
	)
	if err != nil {
		return nil, err
	}

	nodeRetry, err := meter.Int64Counter("toolforge.node.retries",
		metric.WithDescription("Number of node retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	runsBlocked, err := meter.Int64Counter("toolforge.runs.blocked",
		metric.WithDescription("Number of runs blocked by a condition or the pause switch"),
	)
	if err != nil {
		return nil, err
	}

	nodeDur, err := meter.Float64Histogram("toolforge.node.duration",
		metric.WithDescription("Duration of node execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("toolforge.run.duration",
		metric.WithDescription("Duration of one run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		runsStarted:    runsStarted,
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeRetries:    nodeRetry,
		runsBlocked:    runsBlocked,
		nodeDuration:   nodeDur,
		runDuration:    runDur,
	}, nil
}

// Handle processes one engine event and records the matching metrics.
// It implements toolforge.EventHandler semantics.
func (h *MetricsHandler) Handle(e toolforge.Event) {
	ctx := context.Background()
	switch e.Kind {
	case toolforge.EventRunStarted:
		h.runsStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool_id", e.ToolID),
		))
	case toolforge.EventNodeFinished:
		attrs := nodeAttrs(e)
		h.nodeExecutions.Add(ctx, 1, attrs)
		h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case toolforge.EventNodeFailed:
		h.nodeFailures.Add(ctx, 1, nodeAttrs(e))
	case toolforge.EventNodeRetried:
		h.nodeRetries.Add(ctx, 1, nodeAttrs(e))
	case toolforge.EventRunFinished:
		status, _ := e.Payload["status"].(string)
		h.runDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(
			attribute.String("tool_id", e.ToolID),
			attribute.String("status", status),
		))
		if status == string(toolforge.RunBlocked) {
			h.runsBlocked.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool_id", e.ToolID),
			))
		}
	}
}

func nodeAttrs(e toolforge.Event) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("tool_id", e.ToolID),
		attribute.String("node_kind", e.NodeKind),
		attribute.String("node_id", e.NodeID),
	)
}
