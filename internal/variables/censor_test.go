package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCensorMasksNestedPaths(t *testing.T) {
	input := map[string]any{
		"url": "https://example.com",
		"auth": map[string]any{
			"user":     "ada",
			"password": "hunter2",
		},
	}

	out, err := Censor(input, []string{".auth.password"})
	require.NoError(t, err)

	auth := out["auth"].(map[string]any)
	assert.Equal(t, RedactedValue, auth["password"])
	assert.Equal(t, "ada", auth["user"])
	assert.Equal(t, "https://example.com", out["url"])
}

func TestCensorIgnoresAbsentPaths(t *testing.T) {
	input := map[string]any{"a": "b"}

	out, err := Censor(input, []string{".auth.password", ".token"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "b"}, out)
}

func TestCensorDoesNotMutateInput(t *testing.T) {
	input := map[string]any{
		"auth": map[string]any{"token": "s3cr3t"},
	}

	out, err := Censor(input, []string{".auth.token"})
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", input["auth"].(map[string]any)["token"])
	assert.Equal(t, RedactedValue, out["auth"].(map[string]any)["token"])
}

func TestCensorArrayElementPath(t *testing.T) {
	input := map[string]any{
		"headers": []any{
			map[string]any{"name": "Authorization", "value": "Bearer xyz"},
			map[string]any{"name": "Accept", "value": "application/json"},
		},
	}

	out, err := Censor(input, []string{".headers[0].value"})
	require.NoError(t, err)

	headers := out["headers"].([]any)
	assert.Equal(t, RedactedValue, headers[0].(map[string]any)["value"])
	assert.Equal(t, "application/json", headers[1].(map[string]any)["value"])
}

func TestCensorNoPathsDeepCopies(t *testing.T) {
	input := map[string]any{"nested": map[string]any{"k": "v"}}

	out, err := Censor(input, nil)
	require.NoError(t, err)

	out["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", input["nested"].(map[string]any)["k"])
}

func TestCensorInvalidPath(t *testing.T) {
	_, err := Censor(map[string]any{"a": 1}, []string{"((("})
	assert.Error(t, err)
}
