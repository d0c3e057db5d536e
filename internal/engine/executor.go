package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/flowrun/internal/logging"
	"github.com/rendis/flowrun/internal/pieces"
	"github.com/rendis/flowrun/internal/store"
	"github.com/rendis/flowrun/internal/variables"
	"github.com/rendis/flowrun/pkg/schema"
)

// Constants is the read-only configuration bundle shared by every action
// execution of a run.
type Constants struct {
	APIURL      string
	PublicURL   string
	WorkerToken string
	FilesDir    string
	Mode        schema.RunMode
}

// ActionHandler executes one action kind against an execution context and
// returns the updated context. Errors never escape: a handler folds every
// failure into the returned context's verdict.
type ActionHandler interface {
	Handle(ctx context.Context, action *schema.Action, ec ExecutionContext) ExecutionContext
}

// chainRunner is the driver callback used for branch child recursion.
type chainRunner interface {
	ExecuteChain(ctx context.Context, action *schema.Action, ec ExecutionContext) ExecutionContext
}

// HandlerRegistry dispatches actions to the handler registered for their type.
type HandlerRegistry struct {
	handlers map[schema.ActionType]ActionHandler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[schema.ActionType]ActionHandler)}
}

// Register binds a handler to an action type, replacing any previous one.
func (r *HandlerRegistry) Register(t schema.ActionType, h ActionHandler) {
	r.handlers[t] = h
}

// Handle dispatches by action type. An unknown type fails the flow.
func (r *HandlerRegistry) Handle(ctx context.Context, action *schema.Action, ec ExecutionContext) ExecutionContext {
	h, ok := r.handlers[action.Type]
	if !ok {
		return ec.WithVerdict(schema.Failed(&schema.FailureDetail{
			Code:     schema.ErrCodeResolution,
			Message:  fmt.Sprintf("no handler for action type %q", action.Type),
			StepName: action.Name,
		}))
	}
	return h.Handle(ctx, action, ec)
}

// PieceExecutor runs PIECE actions: it resolves templates, validates input,
// invokes the piece action under the retry wrapper, and interprets the
// captured side effects into a verdict.
type PieceExecutor struct {
	registry  *pieces.Registry
	resolver  *variables.Resolver
	processor *variables.Processor
	store     store.Store
	constants Constants
	logger    *slog.Logger

	// driver runs branch children. Set during engine wiring.
	driver chainRunner
}

// NewPieceExecutor wires a piece executor. The branch driver is attached
// later by the engine constructor.
func NewPieceExecutor(
	registry *pieces.Registry,
	resolver *variables.Resolver,
	processor *variables.Processor,
	st store.Store,
	constants Constants,
	logger *slog.Logger,
) *PieceExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PieceExecutor{
		registry:  registry,
		resolver:  resolver,
		processor: processor,
		store:     st,
		constants: constants,
		logger:    logger,
	}
}

// Handle executes one PIECE action. It never returns an error: failures
// become a FAILED verdict (or a recorded failed step when the action is
// configured to continue on failure).
func (e *PieceExecutor) Handle(ctx context.Context, action *schema.Action, ec ExecutionContext) ExecutionContext {
	ctx = logging.WithIDs(ctx, ec.FlowRunID, action.Name, ec.ProjectID)

	if ec.IsCompleted(action.Name) {
		e.logger.DebugContext(ctx, "step already completed, skipping")
		return ec
	}

	result, err := e.execute(ctx, action, ec)
	if err != nil {
		return e.fail(ctx, action, ec, err)
	}
	return result
}

func (e *PieceExecutor) execute(ctx context.Context, action *schema.Action, ec ExecutionContext) (ExecutionContext, error) {
	start := time.Now()

	settings := action.Settings
	pieceAction, err := e.registry.Resolve(settings.PieceName, settings.PieceVersion, settings.ActionName)
	if err != nil {
		return ec, err
	}
	props := pieceAction.Props()

	scope := variables.Scope{
		Steps: ec.StepValues(),
		Flow: map[string]any{
			"run_id":     ec.FlowRunID,
			"project_id": ec.ProjectID,
		},
	}
	resolved, censored, err := e.resolver.Resolve(ctx, settings.Input, scope, props.Censored)
	if err != nil {
		return ec, err
	}

	processed, fieldErrors, err := e.processor.Apply(ctx, resolved, props)
	if err != nil {
		return ec, err
	}
	if len(fieldErrors) > 0 {
		return ec, schema.NewError(schema.ErrCodeValidation, "input validation failed").
			WithDetails(map[string]any{"field_errors": fieldErrors}).
			WithStep(action.Name)
	}

	mode := pieces.ExecBegin
	if ec.IsPaused(action.Name) {
		mode = pieces.ExecResume
	}

	output, capture, err := e.runWithRetry(ctx, pieceAction, action, ec, processed, mode)
	if err != nil {
		return ec, err
	}

	stepOut := &schema.StepOutput{
		Input:      censored,
		Output:     output,
		DurationMs: time.Since(start).Milliseconds(),
	}
	ec = ec.AddTags(capture.tags...)

	switch {
	case capture.stopped:
		stepOut.Status = schema.StepSucceeded
		ec = ec.UpsertStep(action.Name, stepOut).IncreaseTask()
		return ec.WithVerdict(schema.SucceededWithStop(capture.stopResponse)), nil

	case capture.paused:
		stepOut.Status = schema.StepPaused
		ec = ec.UpsertStep(action.Name, stepOut)
		return ec.WithVerdict(schema.Paused(capture.pausePayload)), nil

	default:
		if keyed, ok := output.(*pieces.KeyedOutput); ok && len(pieceAction.Outputs()) > 1 {
			return e.routeBranches(ctx, action, ec, keyed, stepOut)
		}
		stepOut.Status = schema.StepSucceeded
		return ec.UpsertStep(action.Name, stepOut).IncreaseTask(), nil
	}
}

// runWithRetry invokes the action, retrying retryable failures per the
// action's policy. Each attempt gets a fresh capture record so side effects
// from failed attempts are discarded.
func (e *PieceExecutor) runWithRetry(
	ctx context.Context,
	pieceAction pieces.Action,
	action *schema.Action,
	ec ExecutionContext,
	input map[string]any,
	mode pieces.ExecutionType,
) (any, *hookCapture, error) {
	policy := action.Settings.ErrorHandling.Retry
	maxAttempts := 1
	if policy != nil && policy.Max > 0 {
		maxAttempts = policy.Max + 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(policy, attempt-1)
			e.logger.WarnContext(ctx, "retrying action",
				"attempt", attempt, "max", maxAttempts-1, "delay", delay.String(),
				"error", lastErr.Error())
			if err := WaitForBackoff(ctx, delay); err != nil {
				return nil, nil, schema.NewError(schema.ErrCodeCancelled, "retry wait cancelled").WithCause(err)
			}
		}

		capture := newHookCapture()
		actx := e.buildActionContext(ec, action, input, mode, capture)
		output, err := e.invoke(ctx, pieceAction, actx)
		if err == nil {
			if capture.pauseErr != nil {
				return nil, nil, capture.pauseErr
			}
			return output, capture, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			return nil, nil, lastErr
		}
	}

	if maxAttempts > 1 {
		return nil, nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"retries exhausted after %d attempts: %s", maxAttempts, lastErr.Error()).WithCause(lastErr)
	}
	return nil, nil, lastErr
}

// invoke runs one attempt, using the test entry point in single-step test
// mode when the action provides one. Panics in action code become errors.
func (e *PieceExecutor) invoke(ctx context.Context, pieceAction pieces.Action, actx *pieces.ActionContext) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "action panicked: %v", r)
		}
	}()
	if e.constants.Mode == schema.RunModeTestStep {
		if tr, ok := pieceAction.(pieces.TestRunner); ok {
			return tr.Test(ctx, actx)
		}
	}
	return pieceAction.Run(ctx, actx)
}

// fail converts an execution error into context state: either a recorded
// failed step with the flow still RUNNING, or a FAILED verdict.
func (e *PieceExecutor) fail(ctx context.Context, action *schema.Action, ec ExecutionContext, err error) ExecutionContext {
	flowErr := asFlowError(err, action.Name)
	e.logger.ErrorContext(ctx, "action failed",
		"code", flowErr.Code, "error", flowErr.Message)

	stepOut := &schema.StepOutput{
		Status:       schema.StepFailed,
		ErrorMessage: flowErr.Message,
	}
	ec = ec.UpsertStep(action.Name, stepOut)

	if action.Settings.ErrorHandling.ContinueOnFailure {
		e.logger.InfoContext(ctx, "continuing after failure")
		return ec.WithVerdict(schema.Running())
	}

	detail := &schema.FailureDetail{
		Code:     flowErr.Code,
		Message:  flowErr.Message,
		StepName: action.Name,
	}
	if fieldErrs, ok := flowErr.Details["field_errors"].(map[string]string); ok {
		detail.FieldErrors = fieldErrs
	}
	return ec.WithVerdict(schema.Failed(detail))
}

// asFlowError normalizes any error into a step-attributed FlowError.
func asFlowError(err error, stepName string) *schema.FlowError {
	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		if flowErr.StepName == "" {
			flowErr.StepName = stepName
		}
		return flowErr
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithStep(stepName).WithCause(err)
}
