package pieces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
)

// ExecutionType tells an action whether it starts fresh or resumes a
// previously paused invocation.
type ExecutionType string

const (
	ExecBegin  ExecutionType = "BEGIN"
	ExecResume ExecutionType = "RESUME"
)

// KVStore is the flow-scoped key/value store handed to action code.
// Get returns nil with no error when the key is absent.
type KVStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// FileStore is the step-scoped file store handed to action code.
// Write returns a reference usable in later steps.
type FileStore interface {
	Write(ctx context.Context, name string, data []byte) (string, error)
	Read(ctx context.Context, ref string) ([]byte, error)
}

// ServerInfo carries server and identity metadata exposed to action code.
type ServerInfo struct {
	PublicURL string
	APIURL    string
	Token     string
}

// StopParams is the payload of a stop hook invocation.
type StopParams struct {
	Response map[string]any
}

// PauseParams is the payload of a pause hook invocation. For DELAY pauses,
// either Delay or Cron selects the resume time; WEBHOOK pauses carry only
// the optional acknowledge response.
type PauseParams struct {
	Type     schema.PauseType
	Delay    time.Duration
	Cron     string
	Response map[string]any
}

// ActionContext is the per-invocation execution handle given to action code.
// It is the only surface an action sees: hooks write into the executor's
// capture record, never into authoritative execution state.
type ActionContext struct {
	Mode      ExecutionType
	FlowRunID string
	StepName  string
	ProjectID string
	Server    ServerInfo

	// Input holds the resolved, processed input values.
	Input map[string]any

	Store KVStore
	Files FileStore

	// Connection fetches a named connection's credentials. Lookup failures
	// are swallowed: absence and failure both yield nil.
	Connection func(ctx context.Context, name string) map[string]any

	// AddTag appends a tag to the run.
	AddTag func(tag string)

	// Stop requests flow termination with the given response.
	Stop func(params StopParams)

	// Pause requests suspension of the flow at this step.
	Pause func(params PauseParams)

	// ResumeURL builds the externally reachable URL that resumes this
	// flow run at its suspension point, with extra query parameters.
	ResumeURL func(query map[string]string) string
}

// ValidationRule is a per-field input rule evaluated before execution.
// Expression is a CEL expression over the variable `input`; a false result
// records Message (or a default) against Field.
type ValidationRule struct {
	Field      string `json:"field"`
	Expression string `json:"expression"`
	Message    string `json:"message,omitempty"`
}

// ActionProps declares an action's input contract.
type ActionProps struct {
	// InputSchema is a JSON Schema applied to the whole resolved input.
	InputSchema json.RawMessage
	// Rules are field-level CEL validations.
	Rules []ValidationRule
	// Censored lists jq paths (e.g. ".auth.password") masked in the
	// audit snapshot of the input.
	Censored []string
}

// Action is an executable unit of work resolved from a piece.
type Action interface {
	Name() string
	Props() ActionProps
	// Outputs lists the declared named output branches. An action with
	// more than one output routes through the branch router when its run
	// returns a KeyedOutput.
	Outputs() []string
	Run(ctx context.Context, actx *ActionContext) (any, error)
}

// TestRunner is implemented by actions with a dedicated single-step test
// entry point. When absent, Run is used in test mode too.
type TestRunner interface {
	Test(ctx context.Context, actx *ActionContext) (any, error)
}

// KeyedOutputV1 is the branch-output version handled by the v1 routing
// strategy.
const KeyedOutputV1 = "v1"

// KeyedOutput is the ordered key -> value map returned by branch-capable
// actions. Version selects the routing strategy applied to it.
type KeyedOutput struct {
	Version string        `json:"version"`
	Entries []OutputEntry `json:"entries"`
}

// OutputEntry is one named output with its activation value.
type OutputEntry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Keyed builds a v1 KeyedOutput from alternating key/value pairs, keeping
// declaration order.
func Keyed(entries ...OutputEntry) *KeyedOutput {
	return &KeyedOutput{Version: KeyedOutputV1, Entries: entries}
}
