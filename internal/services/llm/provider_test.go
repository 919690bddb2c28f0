package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONPlainObject(t *testing.T) {
	data, err := extractJSON(`{"resourceType":"Bundle","entry":[]}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"resourceType":"Bundle","entry":[]}`, string(data))
}

func TestExtractJSONStripsMarkdownFences(t *testing.T) {
	output := "```json\n{\"code\": \"E11.9\"}\n```"
	data, err := extractJSON(output)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"E11.9"}`, string(data))
}

func TestExtractJSONWithSurroundingProse(t *testing.T) {
	output := `Here is the extracted bundle: {"entry": [{"id": "1"}]} as requested.`
	data, err := extractJSON(output)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entry":[{"id":"1"}]}`, string(data))
}

func TestExtractJSONRejectsNonJSON(t *testing.T) {
	_, err := extractJSON("no structured output here")
	assert.Error(t, err)

	_, err = extractJSON(`{"truncated": `)
	assert.Error(t, err)
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, isRateLimitError(errors.New("Error 429: too many requests")))
	assert.True(t, isRateLimitError(errors.New("RESOURCE_EXHAUSTED: quota exceeded")))
	assert.False(t, isRateLimitError(errors.New("connection refused")))
	assert.False(t, isRateLimitError(nil))
}

func TestSchemaInstructionIncludesSchema(t *testing.T) {
	instruction, err := schemaInstruction(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"resourceType": map[string]interface{}{"type": "string"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, instruction, "resourceType")
	assert.Contains(t, instruction, "JSON schema")
}

func TestRequestLimiterUnlimitedWhenZero(t *testing.T) {
	limiter := newRequestLimiter(0)
	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
}
