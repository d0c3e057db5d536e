package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	flowRunIDKey ctxKey = iota
	stepNameKey
	projectIDKey
)

// WithFlowRunID returns a context with the flow run ID set.
func WithFlowRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, flowRunIDKey, id)
}

// WithStepName returns a context with the step name set.
func WithStepName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, stepNameKey, name)
}

// WithProjectID returns a context with the project ID set.
func WithProjectID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, projectIDKey, id)
}

// FlowRunID extracts the flow run ID from the context, or "" if absent.
func FlowRunID(ctx context.Context) string {
	v, _ := ctx.Value(flowRunIDKey).(string)
	return v
}

// StepName extracts the step name from the context, or "" if absent.
func StepName(ctx context.Context) string {
	v, _ := ctx.Value(stepNameKey).(string)
	return v
}

// ProjectID extracts the project ID from the context, or "" if absent.
func ProjectID(ctx context.Context) string {
	v, _ := ctx.Value(projectIDKey).(string)
	return v
}

// WithIDs sets all three correlation IDs on the context at once.
func WithIDs(ctx context.Context, flowRunID, stepName, projectID string) context.Context {
	ctx = WithFlowRunID(ctx, flowRunID)
	ctx = WithStepName(ctx, stepName)
	ctx = WithProjectID(ctx, projectID)
	return ctx
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := FlowRunID(ctx); v != "" {
		r.AddAttrs(slog.String("flow_run_id", v))
	}
	if v := StepName(ctx); v != "" {
		r.AddAttrs(slog.String("step_name", v))
	}
	if v := ProjectID(ctx); v != "" {
		r.AddAttrs(slog.String("project_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
