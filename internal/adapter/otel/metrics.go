package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "projectchat"

// Metrics holds all projectchat metric instruments.
type Metrics struct {
	Turns              metric.Int64Counter
	ToolCalls          metric.Int64Counter
	CompletionDuration metric.Float64Histogram
	GatewayErrors      metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates all metric instruments on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Turns, err = meter.Int64Counter("projectchat.turns",
		metric.WithDescription("Submitted turns by outcome"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("projectchat.toolcalls",
		metric.WithDescription("Tool executions by tool and status"))
	if err != nil {
		return nil, err
	}

	m.CompletionDuration, err = meter.Float64Histogram("projectchat.completion.duration_seconds",
		metric.WithDescription("Completion gateway call duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.GatewayErrors, err = meter.Int64Counter("projectchat.gateway.errors",
		metric.WithDescription("Completion gateway failures by kind"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTurn counts a finished turn. outcome is "text", "tool", "fallback" or "error".
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordToolCall counts one tool execution.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// RecordCompletion records the duration of a gateway call and, on failure, its kind.
func (m *Metrics) RecordCompletion(ctx context.Context, elapsed time.Duration, errKind string) {
	if m == nil {
		return
	}
	m.CompletionDuration.Record(ctx, elapsed.Seconds())
	if errKind != "" {
		m.GatewayErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", errKind)))
	}
}
