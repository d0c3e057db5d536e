package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/flowrun/internal/logging"
	"github.com/rendis/flowrun/internal/pieces"
	"github.com/rendis/flowrun/internal/store"
	"github.com/rendis/flowrun/internal/variables"
	"github.com/rendis/flowrun/pkg/schema"
)

// FlowExecutor drives a flow: it walks the action chain from the root,
// dispatching each action through the handler registry, and commits the
// final verdict. Resumption re-drives the whole flow from the root; already
// completed steps are skipped by their handlers.
type FlowExecutor struct {
	handlers *HandlerRegistry
	logger   *slog.Logger
}

// NewFlowExecutor creates a flow driver over the given handler registry.
func NewFlowExecutor(handlers *HandlerRegistry, logger *slog.Logger) *FlowExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowExecutor{handlers: handlers, logger: logger}
}

// Execute runs the flow from its root and returns the finalized context.
// The returned verdict is terminal or PAUSED, never RUNNING.
func (f *FlowExecutor) Execute(ctx context.Context, flow *schema.Flow, ec ExecutionContext) ExecutionContext {
	ctx = logging.WithIDs(ctx, ec.FlowRunID, "", ec.ProjectID)
	f.logger.InfoContext(ctx, "flow run started", "flow_id", flow.ID)

	if flow.Root != nil {
		ec = f.ExecuteChain(ctx, flow.Root, ec)
	}
	ec = finalize(ec)

	f.logger.InfoContext(ctx, "flow run finished",
		"verdict", string(ec.Verdict.Kind), "tasks", ec.TaskCount)
	return ec
}

// ExecuteChain runs an action and its Next successors until the chain ends
// or the verdict leaves RUNNING.
func (f *FlowExecutor) ExecuteChain(ctx context.Context, action *schema.Action, ec ExecutionContext) ExecutionContext {
	for a := action; a != nil; a = a.Next {
		if !ec.Verdict.IsRunning() {
			break
		}
		ec = f.handlers.Handle(ctx, a, ec)
	}
	return ec
}

// finalize commits the run outcome: a still-RUNNING context succeeded, and
// a success produced by a stop hook becomes the terminal STOPPED verdict.
func finalize(ec ExecutionContext) ExecutionContext {
	v := ec.Verdict
	switch {
	case v.IsRunning():
		return ec.WithVerdict(schema.Succeeded())
	case v.Kind == schema.VerdictSucceeded && v.Reason == schema.ReasonStopped:
		return ec.WithVerdict(schema.Stopped(v.Stop))
	default:
		return ec
	}
}

// Engine bundles the wired executor set for a runtime instance.
type Engine struct {
	Flow     *FlowExecutor
	Piece    *PieceExecutor
	Handlers *HandlerRegistry
}

// New wires registry, stores, and executors into a ready engine.
func New(registry *pieces.Registry, st store.Store, constants Constants, logger *slog.Logger) (*Engine, error) {
	processor, err := variables.NewProcessor()
	if err != nil {
		return nil, err
	}

	pe := NewPieceExecutor(registry, variables.NewResolver(), processor, st, constants, logger)
	handlers := NewHandlerRegistry()
	handlers.Register(schema.ActionTypePiece, pe)

	fe := NewFlowExecutor(handlers, logger)
	pe.driver = fe

	return &Engine{Flow: fe, Piece: pe, Handlers: handlers}, nil
}
