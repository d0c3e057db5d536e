package engine

import (
	"context"

	"github.com/rendis/flowrun/internal/pieces"
	"github.com/rendis/flowrun/pkg/schema"
)

// branchStrategy routes a keyed action output into child executions and
// returns the updated context plus the value recorded as the step output.
type branchStrategy func(e *PieceExecutor, ctx context.Context, action *schema.Action, ec ExecutionContext, out *pieces.KeyedOutput) (ExecutionContext, any)

// branchStrategies maps keyed-output versions to their routing behavior.
// New versions register here without touching existing ones.
var branchStrategies = map[string]branchStrategy{
	pieces.KeyedOutputV1: routeBranchesV1,
}

// routeBranches picks the strategy for the output version and commits the
// branch step once every activated child chain has run.
func (e *PieceExecutor) routeBranches(
	ctx context.Context,
	action *schema.Action,
	ec ExecutionContext,
	out *pieces.KeyedOutput,
	stepOut *schema.StepOutput,
) (ExecutionContext, error) {
	strategy, ok := branchStrategies[out.Version]
	if !ok {
		return ec, schema.NewErrorf(schema.ErrCodeValidation,
			"unsupported branch output version %q", out.Version).WithStep(action.Name)
	}

	ec, last := strategy(e, ctx, action, ec, out)

	stepOut.Status = schema.StepSucceeded
	stepOut.Output = last
	return ec.UpsertStep(action.Name, stepOut).IncreaseTask(), nil
}

// routeBranchesV1 executes every branch whose value is truthy, in entry
// order, threading the context through each child chain. All truthy
// branches run, not just the first. The last truthy branch's value becomes
// the step's recorded output. Iteration stops early when a child chain
// leaves the flow no longer RUNNING.
func routeBranchesV1(e *PieceExecutor, ctx context.Context, action *schema.Action, ec ExecutionContext, out *pieces.KeyedOutput) (ExecutionContext, any) {
	children := make(map[string]*schema.Action, len(action.Children))
	for _, child := range action.Children {
		children[child.Name] = child.Action
	}

	var last any
	for _, entry := range out.Entries {
		if !truthy(entry.Value) {
			continue
		}
		child, ok := children[entry.Key]
		if !ok || child == nil {
			continue
		}
		last = entry.Value
		ec = e.driver.ExecuteChain(ctx, child, ec)
		if !ec.Verdict.IsRunning() {
			break
		}
	}
	return ec, last
}

// truthy mirrors loose boolean coercion: nil, false, empty string, zero
// numbers, and empty collections are falsy; everything else is truthy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case float32:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
