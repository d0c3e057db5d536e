package engine

import (
	"github.com/google/uuid"

	"github.com/rendis/flowrun/pkg/schema"
)

// ExecutionContext is the per-run state record owned by the flow driver.
// Every mutator returns a new value instead of mutating in place: a
// partially applied step never corrupts the context visible to the caller
// until it fully commits, which is what makes retries and resumption
// replay-safe.
type ExecutionContext struct {
	FlowRunID string
	ProjectID string

	// Steps maps step name to its recorded output.
	Steps map[string]*schema.StepOutput

	// TaskCount increments once per successfully executed action.
	TaskCount int

	// Tags accumulates run tags in call order, each at most once.
	Tags []string

	Verdict schema.Verdict

	// PauseRequestID is the opaque correlation id for this run's pause
	// events. Assigned once and stable across resumptions of the same
	// suspension point.
	PauseRequestID string
}

// NewExecutionContext creates a fresh RUNNING context for a flow run.
func NewExecutionContext(flowRunID, projectID string) ExecutionContext {
	return ExecutionContext{
		FlowRunID:      flowRunID,
		ProjectID:      projectID,
		Steps:          map[string]*schema.StepOutput{},
		Verdict:        schema.Running(),
		PauseRequestID: uuid.NewString(),
	}
}

// IsCompleted reports whether the step already holds a terminal output.
// Used to make re-entrant execution idempotent when a paused flow is
// re-driven from the start.
func (c ExecutionContext) IsCompleted(stepName string) bool {
	out, ok := c.Steps[stepName]
	return ok && (out.Status == schema.StepSucceeded || out.Status == schema.StepFailed)
}

// IsPaused reports whether the step's prior invocation suspended the flow.
func (c ExecutionContext) IsPaused(stepName string) bool {
	out, ok := c.Steps[stepName]
	return ok && out.Status == schema.StepPaused
}

// UpsertStep returns a new context with the step's output set or replaced.
func (c ExecutionContext) UpsertStep(stepName string, output *schema.StepOutput) ExecutionContext {
	steps := make(map[string]*schema.StepOutput, len(c.Steps)+1)
	for k, v := range c.Steps {
		steps[k] = v
	}
	steps[stepName] = output
	c.Steps = steps
	return c
}

// AddTags returns a new context with the tags appended in call order.
// Tags already present are kept where they are, so a tag appears at most
// once across the run.
func (c ExecutionContext) AddTags(tags ...string) ExecutionContext {
	if len(tags) == 0 {
		return c
	}
	seen := make(map[string]struct{}, len(c.Tags))
	merged := make([]string, len(c.Tags), len(c.Tags)+len(tags))
	copy(merged, c.Tags)
	for _, t := range c.Tags {
		seen[t] = struct{}{}
	}
	for _, t := range tags {
		if _, dup := seen[t]; dup || t == "" {
			continue
		}
		seen[t] = struct{}{}
		merged = append(merged, t)
	}
	c.Tags = merged
	return c
}

// IncreaseTask returns a new context with the task counter incremented.
func (c ExecutionContext) IncreaseTask() ExecutionContext {
	c.TaskCount++
	return c
}

// WithVerdict returns a new context with the verdict set.
func (c ExecutionContext) WithVerdict(v schema.Verdict) ExecutionContext {
	c.Verdict = v
	return c
}

// StepValues collects the recorded output value of every step, keyed by
// step name. Used as the template resolution scope.
func (c ExecutionContext) StepValues() map[string]any {
	values := make(map[string]any, len(c.Steps))
	for name, out := range c.Steps {
		values[name] = out.Output
	}
	return values
}
