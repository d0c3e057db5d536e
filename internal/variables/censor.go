package variables

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/rendis/flowrun/pkg/schema"
)

// RedactedValue replaces secret-marked values in audit snapshots.
const RedactedValue = "**REDACTED**"

// Censor deep-copies the input and masks every value addressed by the given
// jq paths (e.g. ".auth.password"). Paths absent from the input are ignored.
func Censor(input map[string]any, paths []string) (map[string]any, error) {
	if len(paths) == 0 {
		return deepCopy(input)
	}

	out, err := deepCopy(input)
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		masked, err := maskPath(out, path)
		if err != nil {
			return nil, err
		}
		out = masked
	}
	return out, nil
}

func maskPath(input map[string]any, path string) (map[string]any, error) {
	// Skip paths that do not resolve to a value: assignment would create them.
	query := fmt.Sprintf("if (try %s catch null) != null then %s = %q else . end", path, path, RedactedValue)

	q, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid censor path %q: %s", path, err.Error()).WithCause(err)
	}

	iter := q.Run(any(input))
	val, ok := iter.Next()
	if !ok {
		return input, nil
	}
	if qerr, isErr := val.(error); isErr {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"censor path %q failed: %s", path, qerr.Error()).WithCause(qerr)
	}
	masked, ok := val.(map[string]any)
	if !ok {
		return input, nil
	}
	return masked, nil
}

// deepCopy round-trips through JSON so the snapshot shares no structure with
// the resolved input handed to action code.
func deepCopy(input map[string]any) (map[string]any, error) {
	if input == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "input is not serializable").WithCause(err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "input snapshot decode failed").WithCause(err)
	}
	return out, nil
}
