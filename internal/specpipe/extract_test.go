package specpipe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_FencedJSONBlock(t *testing.T) {
	text := "Here is the result:\n```json\n{\"a\": 1}\n```\nDone."
	assert.Equal(t, `{"a": 1}`, ExtractJSON(text))
}

func TestExtractJSON_PlainFence(t *testing.T) {
	text := "```\n{\"b\": [1, 2]}\n```"
	assert.Equal(t, `{"b": [1, 2]}`, ExtractJSON(text))
}

func TestExtractJSON_PlainFenceNonJSONFallsThrough(t *testing.T) {
	text := "```\nnot json\n```\nbut later {\"c\": true} appears"
	assert.Equal(t, `{"c": true}`, ExtractJSON(text))
}

func TestExtractJSON_BalancedSubstring(t *testing.T) {
	text := `prefix {"nested": {"x": "}"}, "y": [1]} suffix`
	assert.Equal(t, `{"nested": {"x": "}"}, "y": [1]}`, ExtractJSON(text))
}

func TestExtractJSON_Array(t *testing.T) {
	text := `result: [{"id": 1}, {"id": 2}]`
	assert.Equal(t, `[{"id": 1}, {"id": 2}]`, ExtractJSON(text))
}

func TestExtractJSON_RawFallback(t *testing.T) {
	assert.Equal(t, "no structure here", ExtractJSON("  no structure here\n"))
}

func TestExtractJSON_RoundTrip(t *testing.T) {
	// For any object O: parse(extract("```json\n" + serialize(O) + "\n```")) == O.
	original := map[string]any{
		"overview":  "text with ```backticks``` inside",
		"questions": []any{"a", "b"},
	}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	extracted := ExtractJSON("```json\n" + string(data) + "\n```")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(extracted), &decoded))
	assert.Equal(t, original["overview"], decoded["overview"])
}

func TestDetectTaskComplete(t *testing.T) {
	tests := []struct {
		name   string
		output string
		wantID int
		wantOK bool
	}{
		{"present", "done!\n<task-complete>4</task-complete>\n", 4, true},
		{"absent", "still working", 0, false},
		{"zero id rejected", "<task-complete>0</task-complete>", 0, false},
		{"first wins", "<task-complete>2</task-complete> <task-complete>3</task-complete>", 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := DetectTaskComplete(tt.output)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestParsePhaseOutput_BadJSON(t *testing.T) {
	var out Output
	err := ParsePhaseOutput(PhasePlan, "I could not produce a plan today.", &out)
	assert.Error(t, err)
	assert.Nil(t, out.Plan)
}
