package variables

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/flowrun/pkg/schema"
)

// Scope holds all data available for variable resolution.
type Scope struct {
	Steps map[string]any // step name -> recorded output value
	Flow  map[string]any // flow metadata (run_id, etc.)
}

func (s Scope) env() map[string]any {
	steps := s.Steps
	if steps == nil {
		steps = map[string]any{}
	}
	flow := s.Flow
	if flow == nil {
		flow = map[string]any{}
	}
	return map[string]any{"steps": steps, "flow": flow}
}

// Resolver resolves {{...}} references in action input against prior step
// outputs. Thread-safe: compiled *vm.Program objects are cached and reused
// across goroutines.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewResolver creates a new Resolver.
func NewResolver() *Resolver {
	return &Resolver{
		cache: make(map[string]*vm.Program),
	}
}

// Resolve walks the unresolved input, evaluating every {{...}} template
// against the scope. It returns the resolved values and a redaction-safe
// snapshot with the given jq paths masked.
// A string that is exactly one template keeps the expression's native type;
// embedded templates are stringified in place.
func (r *Resolver) Resolve(ctx context.Context, input map[string]any, scope Scope, censoredPaths []string) (map[string]any, map[string]any, error) {
	if input == nil {
		return map[string]any{}, map[string]any{}, nil
	}

	env := scope.env()
	resolved := make(map[string]any, len(input))
	for k, v := range input {
		rv, err := r.resolveValue(v, env)
		if err != nil {
			return nil, nil, err
		}
		resolved[k] = rv
	}

	censored, err := Censor(resolved, censoredPaths)
	if err != nil {
		return nil, nil, err
	}
	return resolved, censored, nil
}

func (r *Resolver) resolveValue(v any, env map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return r.resolveString(val, env)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			rv, err := r.resolveValue(item, env)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rv, err := r.resolveValue(item, env)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *Resolver) resolveString(s string, env map[string]any) (any, error) {
	open := strings.Index(s, "{{")
	if open == -1 {
		return s, nil
	}

	// Whole-string single template keeps the native value.
	if strings.HasPrefix(strings.TrimSpace(s), "{{") && strings.HasSuffix(strings.TrimSpace(s), "}}") {
		trimmed := strings.TrimSpace(s)
		inner := trimmed[2 : len(trimmed)-2]
		if !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}") {
			return r.eval(inner, env)
		}
	}

	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "{{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}
		result.WriteString(s[i : i+idx])
		start := i + idx + 2

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeValidation, "unclosed {{ expression")
		}
		end += start

		out, err := r.eval(s[start:end], env)
		if err != nil {
			return nil, err
		}
		result.WriteString(stringify(out))

		i = end + 2
	}
	return result.String(), nil
}

func (r *Resolver) eval(expression string, env map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty template expression")
	}

	prg, err := r.getOrCompile(expression, env)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"template evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (r *Resolver) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
	r.mu.RLock()
	if prg, ok := r.cache[expression]; ok {
		r.mu.RUnlock()
		return prg, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prg, ok := r.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"template compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	r.cache[expression] = prg
	return prg, nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
