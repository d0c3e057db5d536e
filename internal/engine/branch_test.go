package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowrun/internal/pieces"
	"github.com/rendis/flowrun/pkg/schema"
)

func TestTruthy(t *testing.T) {
	falsy := []any{nil, false, "", 0, int64(0), float64(0), []any{}, map[string]any{}}
	for _, v := range falsy {
		assert.False(t, truthy(v), "%#v should be falsy", v)
	}

	truthyValues := []any{true, "x", 1, int64(-1), 0.5, []any{1}, map[string]any{"k": 1}, struct{}{}}
	for _, v := range truthyValues {
		assert.True(t, truthy(v), "%#v should be truthy", v)
	}
}

// branchFixture returns a router action whose keyed output is fixed, plus
// recorder children that log their execution order.
func branchFixture(t *testing.T, out *pieces.KeyedOutput, childNames ...string) (*Engine, *schema.Action, *[]string) {
	t.Helper()

	executed := &[]string{}
	actions := []pieces.Action{
		&fakeAction{
			name:    "router",
			outputs: childNames,
			run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
				return out, nil
			},
		},
	}
	for _, name := range childNames {
		name := name
		actions = append(actions, &fakeAction{
			name: "child_" + name,
			run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
				*executed = append(*executed, name)
				return "ran " + name, nil
			},
		})
	}
	eng := newTestEngine(t, nil, actions...)

	router := pieceStep("route", "router", nil)
	for _, name := range childNames {
		router.Children = append(router.Children, schema.ChildAction{
			Name:   name,
			Action: pieceStep("step_"+name, "child_"+name, nil),
		})
	}
	return eng, router, executed
}

func TestBranchRoutesOnlyTruthyBranches(t *testing.T) {
	out := pieces.Keyed(
		pieces.OutputEntry{Key: "a", Value: true},
		pieces.OutputEntry{Key: "b", Value: false},
	)
	eng, router, executed := branchFixture(t, out, "a", "b")

	ec := eng.Piece.Handle(context.Background(), router, NewExecutionContext("run-1", "proj-1"))

	assert.Equal(t, []string{"a"}, *executed)
	assert.True(t, ec.Verdict.IsRunning())
	assert.Contains(t, ec.Steps, "step_a")
	assert.NotContains(t, ec.Steps, "step_b")
	assert.Equal(t, true, ec.Steps["route"].Output, "last truthy value recorded")
}

func TestBranchRoutesAllTruthyBranchesInOrder(t *testing.T) {
	out := pieces.Keyed(
		pieces.OutputEntry{Key: "a", Value: "first"},
		pieces.OutputEntry{Key: "b", Value: 0},
		pieces.OutputEntry{Key: "c", Value: "second"},
	)
	eng, router, executed := branchFixture(t, out, "a", "b", "c")

	ec := eng.Piece.Handle(context.Background(), router, NewExecutionContext("run-1", "proj-1"))

	assert.Equal(t, []string{"a", "c"}, *executed, "every truthy branch runs, in order")
	assert.Equal(t, "second", ec.Steps["route"].Output)
	// Router plus two children.
	assert.Equal(t, 3, ec.TaskCount)
}

func TestBranchSkipsTruthyKeyWithoutChild(t *testing.T) {
	out := pieces.Keyed(
		pieces.OutputEntry{Key: "a", Value: true},
		pieces.OutputEntry{Key: "orphan", Value: true},
	)
	eng, router, executed := branchFixture(t, out, "a")

	ec := eng.Piece.Handle(context.Background(), router, NewExecutionContext("run-1", "proj-1"))

	assert.Equal(t, []string{"a"}, *executed)
	assert.True(t, ec.Verdict.IsRunning())
}

func TestBranchStopsWhenChildLeavesRunning(t *testing.T) {
	out := pieces.Keyed(
		pieces.OutputEntry{Key: "a", Value: true},
		pieces.OutputEntry{Key: "b", Value: true},
	)

	executed := []string{}
	actions := []pieces.Action{
		&fakeAction{name: "router", outputs: []string{"a", "b"}, run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			return out, nil
		}},
		&fakeAction{name: "stopper", run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			executed = append(executed, "a")
			actx.Stop(pieces.StopParams{Response: map[string]any{"early": true}})
			return nil, nil
		}},
		&fakeAction{name: "late", run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			executed = append(executed, "b")
			return "late", nil
		}},
	}
	eng := newTestEngine(t, nil, actions...)

	router := pieceStep("route", "router", nil)
	router.Children = []schema.ChildAction{
		{Name: "a", Action: pieceStep("step_a", "stopper", nil)},
		{Name: "b", Action: pieceStep("step_b", "late", nil)},
	}

	ec := eng.Piece.Handle(context.Background(), router, NewExecutionContext("run-1", "proj-1"))

	assert.Equal(t, []string{"a"}, executed, "second branch never runs after stop")
	assert.Equal(t, schema.VerdictSucceeded, ec.Verdict.Kind)
	assert.Equal(t, schema.ReasonStopped, ec.Verdict.Reason)
}

func TestBranchUnsupportedVersionFails(t *testing.T) {
	out := &pieces.KeyedOutput{Version: "v99", Entries: []pieces.OutputEntry{{Key: "a", Value: true}}}
	eng, router, executed := branchFixture(t, out, "a")

	ec := eng.Piece.Handle(context.Background(), router, NewExecutionContext("run-1", "proj-1"))

	assert.Empty(t, *executed)
	require.Equal(t, schema.VerdictFailed, ec.Verdict.Kind)
	assert.Equal(t, schema.ErrCodeValidation, ec.Verdict.Failure.Code)
}

func TestSingleOutputKeyedResultIsPlainOutput(t *testing.T) {
	out := pieces.Keyed(pieces.OutputEntry{Key: "only", Value: "v"})
	action := &fakeAction{name: "single", outputs: []string{"only"}, run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
		return out, nil
	}}
	eng := newTestEngine(t, nil, action)

	ec := eng.Piece.Handle(context.Background(), pieceStep("step_1", "single", nil),
		NewExecutionContext("run-1", "proj-1"))

	// One declared output means no routing: the keyed value is recorded as-is.
	assert.True(t, ec.Verdict.IsRunning())
	assert.Equal(t, out, ec.Steps["step_1"].Output)
}
