package schema

import "time"

// VerdictKind enumerates the terminal-or-continuing outcomes of executing an action.
type VerdictKind string

const (
	VerdictRunning   VerdictKind = "RUNNING"
	VerdictPaused    VerdictKind = "PAUSED"
	VerdictSucceeded VerdictKind = "SUCCEEDED"
	VerdictFailed    VerdictKind = "FAILED"
	VerdictStopped   VerdictKind = "STOPPED"
)

// VerdictReason qualifies a verdict with the outcome that produced it.
type VerdictReason string

const (
	ReasonNone    VerdictReason = ""
	ReasonStopped VerdictReason = "STOPPED"
)

// Verdict is the outcome of executing one action. It fully determines the
// flow driver's next move: continue, branch, suspend, stop, or fail.
type Verdict struct {
	Kind    VerdictKind    `json:"kind"`
	Reason  VerdictReason  `json:"reason,omitempty"`
	Stop    *StopPayload   `json:"stop,omitempty"`
	Pause   *PausePayload  `json:"pause,omitempty"`
	Failure *FailureDetail `json:"failure,omitempty"`
}

// Running returns the continuing verdict.
func Running() Verdict {
	return Verdict{Kind: VerdictRunning}
}

// Succeeded returns a plain success verdict.
func Succeeded() Verdict {
	return Verdict{Kind: VerdictSucceeded}
}

// SucceededWithStop returns a success verdict produced by a stop hook.
func SucceededWithStop(stop *StopPayload) Verdict {
	return Verdict{Kind: VerdictSucceeded, Reason: ReasonStopped, Stop: stop}
}

// Paused returns a suspension verdict carrying the pause payload.
func Paused(pause *PausePayload) Verdict {
	return Verdict{Kind: VerdictPaused, Pause: pause}
}

// Failed returns a terminal failure verdict.
func Failed(failure *FailureDetail) Verdict {
	return Verdict{Kind: VerdictFailed, Failure: failure}
}

// Stopped returns the terminal stop verdict committed by the flow driver.
func Stopped(stop *StopPayload) Verdict {
	return Verdict{Kind: VerdictStopped, Reason: ReasonStopped, Stop: stop}
}

// IsRunning reports whether the flow may execute further actions.
func (v Verdict) IsRunning() bool {
	return v.Kind == VerdictRunning
}

// IsTerminal reports whether the verdict ends the run for good.
// PAUSED is resumable and therefore not terminal.
func (v Verdict) IsTerminal() bool {
	return v.Kind == VerdictSucceeded || v.Kind == VerdictFailed || v.Kind == VerdictStopped
}

// StopPayload carries the response captured by a stop hook.
type StopPayload struct {
	Response map[string]any `json:"response,omitempty"`
}

// PauseType selects the pause payload variant.
type PauseType string

const (
	PauseTypeDelay   PauseType = "DELAY"
	PauseTypeWebhook PauseType = "WEBHOOK"
)

// PausePayload is the suspension metadata captured by a pause hook.
// Delay and Webhook are mutually exclusive, selected by Type.
type PausePayload struct {
	Type    PauseType     `json:"type"`
	Delay   *DelayPause   `json:"delay,omitempty"`
	Webhook *WebhookPause `json:"webhook,omitempty"`
}

// DelayPause carries the resume time for a DELAY pause.
type DelayPause struct {
	ResumeAt time.Time `json:"resume_at"`
}

// WebhookPause carries the correlation id used to build the externally
// reachable resume URL for a WEBHOOK pause.
type WebhookPause struct {
	RequestID string         `json:"request_id"`
	Response  map[string]any `json:"response,omitempty"`
}

// FailureDetail is the verdict payload for a failed step.
type FailureDetail struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	StepName    string            `json:"step_name,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}
