package pieces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/itchyny/gojq"

	"github.com/rendis/flowrun/pkg/schema"
)

// CorePiece returns the builtin "core" piece: delay, respond, and transform.
// It exercises the pause hook, the stop hook, and jq data shaping, and is
// registered by default in the CLI.
func CorePiece() *Piece {
	return NewPiece("core", "0.1.0",
		&delayAction{},
		&respondAction{},
		&transformAction{},
	)
}

// --- delay ---

// delayAction suspends the flow until a duration elapses or a cron schedule
// next fires. On resume it reports the suspension as released.
type delayAction struct{}

func (a *delayAction) Name() string { return "delay" }

func (a *delayAction) Outputs() []string { return nil }

func (a *delayAction) Props() ActionProps {
	return ActionProps{
		InputSchema: json.RawMessage(`{
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type": "object",
			"properties": {
				"seconds": { "type": "number", "minimum": 0 },
				"cron": { "type": "string" }
			}
		}`),
		Rules: []ValidationRule{
			{
				Field:      "seconds",
				Expression: `has(input.seconds) || has(input.cron)`,
				Message:    "either seconds or cron is required",
			},
		},
	}
}

func (a *delayAction) Run(ctx context.Context, actx *ActionContext) (any, error) {
	if actx.Mode == ExecResume {
		return map[string]any{"delayed": true, "resumed": true}, nil
	}

	params := PauseParams{Type: schema.PauseTypeDelay}
	if cronExpr, ok := actx.Input["cron"].(string); ok && cronExpr != "" {
		params.Cron = cronExpr
	} else if secs, ok := toFloat(actx.Input["seconds"]); ok {
		params.Delay = time.Duration(secs * float64(time.Second))
	}
	actx.Pause(params)

	return map[string]any{"delayed": true}, nil
}

// --- respond ---

// respondAction stops the flow and carries its input as the run's response.
type respondAction struct{}

func (a *respondAction) Name() string { return "respond" }

func (a *respondAction) Outputs() []string { return nil }

func (a *respondAction) Props() ActionProps {
	return ActionProps{
		InputSchema: json.RawMessage(`{
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type": "object",
			"properties": {
				"response": { "type": "object" }
			}
		}`),
	}
}

func (a *respondAction) Run(ctx context.Context, actx *ActionContext) (any, error) {
	response, _ := actx.Input["response"].(map[string]any)
	actx.Stop(StopParams{Response: response})
	return response, nil
}

// --- transform ---

// transformAction reshapes its input data with a jq expression.
type transformAction struct{}

func (a *transformAction) Name() string { return "transform" }

func (a *transformAction) Outputs() []string { return nil }

func (a *transformAction) Props() ActionProps {
	return ActionProps{
		InputSchema: json.RawMessage(`{
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type": "object",
			"required": ["expression"],
			"properties": {
				"expression": { "type": "string", "minLength": 1 },
				"data": {}
			}
		}`),
	}
}

func (a *transformAction) Run(ctx context.Context, actx *ActionContext) (any, error) {
	expression, _ := actx.Input["expression"].(string)

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).WithCause(err)
	}

	iter := code.RunWithContext(ctx, actx.Input["data"])

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", expression, err.Error()).WithCause(err)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
