package variables

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowrun/internal/pieces"
	"github.com/rendis/flowrun/pkg/schema"
)

// Processor runs the input pipeline for one action invocation: per-field type
// coercion, JSON Schema validation of the whole input, and field-level CEL
// rules. Safe for concurrent use; compiled schemas and programs are cached.
type Processor struct {
	mu          sync.RWMutex
	compiler    *jsonschema.Compiler
	schemaCache map[string]*jsonschema.Schema

	celEnv   *cel.Env
	celMu    sync.RWMutex
	celCache map[string]cel.Program
}

// NewProcessor creates a Processor with a CEL environment exposing the
// resolved input as the variable `input`.
func NewProcessor() (*Processor, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "create CEL environment").WithCause(err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()

	return &Processor{
		compiler:    c,
		schemaCache: make(map[string]*jsonschema.Schema),
		celEnv:      env,
		celCache:    make(map[string]cel.Program),
	}, nil
}

// Apply coerces and validates the resolved input against the action's
// declared props. The returned map holds field-keyed validation errors; a
// non-empty map means the step must fail with an aggregated ValidationError.
// The error return is reserved for broken declarations (invalid schema or
// rule), which are also non-retryable.
func (p *Processor) Apply(ctx context.Context, input map[string]any, props pieces.ActionProps) (map[string]any, map[string]string, error) {
	processed := coerceTypes(input, props.InputSchema)
	fieldErrors := make(map[string]string)

	if len(props.InputSchema) > 0 {
		compiled, err := p.getOrCompileSchema(props.InputSchema)
		if err != nil {
			return nil, nil, err
		}
		doc, err := toJSONValue(processed)
		if err != nil {
			return nil, nil, schema.NewError(schema.ErrCodeValidation, "input is not serializable").WithCause(err)
		}
		if verr := compiled.Validate(doc); verr != nil {
			collectFieldErrors(verr, fieldErrors)
		}
	}

	for _, rule := range props.Rules {
		ok, err := p.evalRule(ctx, rule.Expression, processed)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			msg := rule.Message
			if msg == "" {
				msg = "rule " + rule.Expression + " not satisfied"
			}
			if _, exists := fieldErrors[rule.Field]; !exists {
				fieldErrors[rule.Field] = msg
			}
		}
	}

	return processed, fieldErrors, nil
}

func (p *Processor) getOrCompileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)

	p.mu.RLock()
	if s, ok := p.schemaCache[key]; ok {
		p.mu.RUnlock()
		return s, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.schemaCache[key]; ok {
		return s, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}
	url := "flowrun:///input-" + strconv.Itoa(len(p.schemaCache)) + ".json"
	if err := p.compiler.AddResource(url, doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "register input schema").WithCause(err)
	}
	compiled, err := p.compiler.Compile(url)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "compile input schema").WithCause(err)
	}

	p.schemaCache[key] = compiled
	return compiled, nil
}

func (p *Processor) evalRule(ctx context.Context, expression string, input map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	prg, err := p.getOrCompileRule(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{"input": input})
	if err != nil {
		// A rule that cannot evaluate against this input counts as failed.
		return false, nil
	}
	ok, isBool := out.Value().(bool)
	return isBool && ok, nil
}

func (p *Processor) getOrCompileRule(expression string) (cel.Program, error) {
	p.celMu.RLock()
	if prg, ok := p.celCache[expression]; ok {
		p.celMu.RUnlock()
		return prg, nil
	}
	p.celMu.RUnlock()

	p.celMu.Lock()
	defer p.celMu.Unlock()

	if prg, ok := p.celCache[expression]; ok {
		return prg, nil
	}

	ast, issues := p.celEnv.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"rule compile error in %q: %s", expression, issues.Err().Error()).WithCause(issues.Err())
	}
	prg, err := p.celEnv.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"rule program error for %q: %s", expression, err.Error()).WithCause(err)
	}

	p.celCache[expression] = prg
	return prg, nil
}

// collectFieldErrors walks a ValidationError tree and records the first leaf
// message per top-level field.
func collectFieldErrors(err error, out map[string]string) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		out["_input"] = err.Error()
		return
	}
	collectLeaves(verr, out)
}

func collectLeaves(verr *jsonschema.ValidationError, out map[string]string) {
	if len(verr.Causes) == 0 {
		field := "_input"
		if len(verr.InstanceLocation) > 0 {
			field = verr.InstanceLocation[0]
		}
		if _, exists := out[field]; !exists {
			out[field] = verr.Error()
		}
		return
	}
	for _, cause := range verr.Causes {
		collectLeaves(cause, out)
	}
}

// coerceTypes converts string values to the scalar type their schema property
// declares. Template resolution often yields strings for numeric props.
func coerceTypes(input map[string]any, rawSchema json.RawMessage) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	if len(rawSchema) == 0 {
		return input
	}

	var decl struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(rawSchema, &decl); err != nil || len(decl.Properties) == 0 {
		return input
	}

	out := make(map[string]any, len(input))
	for k, v := range input {
		prop, declared := decl.Properties[k]
		s, isString := v.(string)
		if !declared || !isString {
			out[k] = v
			continue
		}
		switch prop.Type {
		case "number":
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				out[k] = f
				continue
			}
		case "integer":
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				out[k] = n
				continue
			}
		case "boolean":
			if b, err := strconv.ParseBool(s); err == nil {
				out[k] = b
				continue
			}
		}
		out[k] = v
	}
	return out
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numbers validate as json.Number, matching the schema library's expectations.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
