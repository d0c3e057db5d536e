package schema

// Flow is a directed chain of actions executed one at a time.
type Flow struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name,omitempty"`
	Root        *Action `json:"root"`
}

// ActionType discriminates the action kinds sharing the executor contract.
type ActionType string

const (
	// ActionTypePiece is an action backed by a named, versioned piece bundle.
	ActionTypePiece ActionType = "PIECE"
)

// Action is one node in a flow graph. Children are used only when the
// underlying piece action declares multiple named output branches.
type Action struct {
	Type        ActionType     `json:"type"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name,omitempty"`
	Settings    ActionSettings `json:"settings"`
	Children    []ChildAction  `json:"children,omitempty"`
	Next        *Action        `json:"next,omitempty"`
}

// ChildAction wires a named output branch to the child action executed when
// that branch activates.
type ChildAction struct {
	Name   string  `json:"name"`
	Action *Action `json:"action"`
}

// ActionSettings is the piece-kind-specific configuration of an action.
// Input values may contain {{ ... }} templates resolved against prior
// step outputs before execution.
type ActionSettings struct {
	PieceName     string               `json:"piece_name"`
	PieceVersion  string               `json:"piece_version"`
	ActionName    string               `json:"action_name"`
	Input         map[string]any       `json:"input,omitempty"`
	ErrorHandling ErrorHandlingOptions `json:"error_handling,omitempty"`
}

// ErrorHandlingOptions controls how the executor reacts to a failed run.
type ErrorHandlingOptions struct {
	// Retry enables bounded retry with backoff for retryable failures.
	Retry *RetryPolicy `json:"retry,omitempty"`
	// ContinueOnFailure records the failure but keeps the flow RUNNING.
	ContinueOnFailure bool `json:"continue_on_failure,omitempty"`
}

// RetryPolicy configures retry behavior for an action.
type RetryPolicy struct {
	Max      int    `json:"max"`                 // max retry attempts
	Delay    string `json:"delay,omitempty"`     // initial delay (e.g. "1s", "500ms")
	Backoff  string `json:"backoff,omitempty"`   // none | linear | exponential (default: exponential)
	MaxDelay string `json:"max_delay,omitempty"` // cap on the computed delay
}

// StepStatus is the recorded outcome of one step.
type StepStatus string

const (
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
	StepPaused    StepStatus = "PAUSED"
)

// StepOutput is the audit record of a single executed step. It is created
// when the action begins executing and mutated only by that action's own
// executor; later steps read it but never write it.
type StepOutput struct {
	// Input is the redaction-safe snapshot of the resolved input.
	Input        map[string]any `json:"input,omitempty"`
	Status       StepStatus     `json:"status"`
	Output       any            `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
}

// RunMode selects between full flow execution and single-step testing.
type RunMode string

const (
	RunModeFlow     RunMode = "FLOW"
	RunModeTestStep RunMode = "TEST_STEP"
)
