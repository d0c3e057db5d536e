package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowrun/internal/pieces"
	"github.com/rendis/flowrun/pkg/schema"
)

func chain(steps ...*schema.Action) *schema.Flow {
	for i := 0; i < len(steps)-1; i++ {
		steps[i].Next = steps[i+1]
	}
	var root *schema.Action
	if len(steps) > 0 {
		root = steps[0]
	}
	return &schema.Flow{ID: "flow-1", Root: root}
}

func TestExecuteRunsChainInOrder(t *testing.T) {
	var order []string
	record := func(name string) *fakeAction {
		return &fakeAction{name: name, run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			order = append(order, name)
			return name, nil
		}}
	}
	eng := newTestEngine(t, nil, record("one"), record("two"), record("three"))

	flow := chain(
		pieceStep("step_1", "one", nil),
		pieceStep("step_2", "two", nil),
		pieceStep("step_3", "three", nil),
	)

	ec := eng.Flow.Execute(context.Background(), flow, NewExecutionContext("run-1", "proj-1"))

	assert.Equal(t, []string{"one", "two", "three"}, order)
	assert.Equal(t, schema.VerdictSucceeded, ec.Verdict.Kind)
	assert.Equal(t, 3, ec.TaskCount)
}

func TestExecuteEmptyFlowSucceeds(t *testing.T) {
	eng := newTestEngine(t, nil)

	ec := eng.Flow.Execute(context.Background(), &schema.Flow{ID: "flow-1"},
		NewExecutionContext("run-1", "proj-1"))

	assert.Equal(t, schema.VerdictSucceeded, ec.Verdict.Kind)
	assert.Zero(t, ec.TaskCount)
}

func TestExecuteHaltsOnFailure(t *testing.T) {
	var order []string
	actions := []pieces.Action{
		&fakeAction{name: "ok", run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			order = append(order, "ok")
			return "ok", nil
		}},
		&fakeAction{name: "bad", run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			order = append(order, "bad")
			return nil, schema.NewError(schema.ErrCodeValidation, "broken")
		}},
		&fakeAction{name: "never", run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			order = append(order, "never")
			return "never", nil
		}},
	}
	eng := newTestEngine(t, nil, actions...)

	flow := chain(
		pieceStep("step_1", "ok", nil),
		pieceStep("step_2", "bad", nil),
		pieceStep("step_3", "never", nil),
	)

	ec := eng.Flow.Execute(context.Background(), flow, NewExecutionContext("run-1", "proj-1"))

	assert.Equal(t, []string{"ok", "bad"}, order)
	assert.Equal(t, schema.VerdictFailed, ec.Verdict.Kind)
	require.NotNil(t, ec.Verdict.Failure)
	assert.Equal(t, "step_2", ec.Verdict.Failure.StepName)
	assert.NotContains(t, ec.Steps, "step_3")
}

func TestExecuteStopCommitsStoppedVerdict(t *testing.T) {
	actions := []pieces.Action{
		&fakeAction{name: "respond", run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			actx.Stop(pieces.StopParams{Response: map[string]any{"code": 204}})
			return nil, nil
		}},
		&fakeAction{name: "never", run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			t.Fatal("must not run after stop")
			return nil, nil
		}},
	}
	eng := newTestEngine(t, nil, actions...)

	flow := chain(
		pieceStep("step_1", "respond", nil),
		pieceStep("step_2", "never", nil),
	)

	ec := eng.Flow.Execute(context.Background(), flow, NewExecutionContext("run-1", "proj-1"))

	assert.Equal(t, schema.VerdictStopped, ec.Verdict.Kind)
	require.NotNil(t, ec.Verdict.Stop)
	assert.Equal(t, map[string]any{"code": 204}, ec.Verdict.Stop.Response)
	assert.Equal(t, 1, ec.TaskCount)
}

func TestExecutePauseAndRedrive(t *testing.T) {
	var firstRuns, waitRuns, lastRuns int
	actions := []pieces.Action{
		&fakeAction{name: "first", run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			firstRuns++
			return map[string]any{"seed": 7}, nil
		}},
		&fakeAction{name: "wait", run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			waitRuns++
			if actx.Mode == pieces.ExecResume {
				return map[string]any{"approved": true}, nil
			}
			actx.Pause(pieces.PauseParams{Type: schema.PauseTypeWebhook})
			return nil, nil
		}},
		&fakeAction{name: "last", run: func(ctx context.Context, actx *pieces.ActionContext) (any, error) {
			lastRuns++
			return actx.Input["flag"], nil
		}},
	}
	eng := newTestEngine(t, nil, actions...)

	flow := chain(
		pieceStep("step_1", "first", nil),
		pieceStep("step_2", "wait", nil),
		pieceStep("step_3", "last", map[string]any{"flag": "{{ steps.step_2.approved }}"}),
	)

	start := NewExecutionContext("run-1", "proj-1")
	paused := eng.Flow.Execute(context.Background(), flow, start)

	require.Equal(t, schema.VerdictPaused, paused.Verdict.Kind)
	assert.Equal(t, 1, firstRuns)
	assert.Equal(t, 1, waitRuns)
	assert.Zero(t, lastRuns)
	assert.Equal(t, 1, paused.TaskCount)
	require.NotNil(t, paused.Verdict.Pause)
	require.NotNil(t, paused.Verdict.Pause.Webhook)
	assert.Equal(t, start.PauseRequestID, paused.Verdict.Pause.Webhook.RequestID)

	// Re-drive the whole flow from the root with the persisted context.
	resumed := eng.Flow.Execute(context.Background(), flow, paused.WithVerdict(schema.Running()))

	assert.Equal(t, schema.VerdictSucceeded, resumed.Verdict.Kind)
	assert.Equal(t, 1, firstRuns, "completed step skipped on re-drive")
	assert.Equal(t, 2, waitRuns, "paused step resumed")
	assert.Equal(t, 1, lastRuns)
	assert.Equal(t, 3, resumed.TaskCount)
	assert.Equal(t, true, resumed.Steps["step_3"].Output, "later step reads the resumed output")
}

func TestFinalize(t *testing.T) {
	running := NewExecutionContext("run-1", "proj-1")
	assert.Equal(t, schema.VerdictSucceeded, finalize(running).Verdict.Kind)

	stopped := running.WithVerdict(schema.SucceededWithStop(&schema.StopPayload{}))
	assert.Equal(t, schema.VerdictStopped, finalize(stopped).Verdict.Kind)

	failed := running.WithVerdict(schema.Failed(&schema.FailureDetail{Code: schema.ErrCodeExecution}))
	assert.Equal(t, schema.VerdictFailed, finalize(failed).Verdict.Kind)

	paused := running.WithVerdict(schema.Paused(&schema.PausePayload{Type: schema.PauseTypeWebhook}))
	assert.Equal(t, schema.VerdictPaused, finalize(paused).Verdict.Kind)
}
