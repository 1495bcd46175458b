package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "clean", input: `{"a": 1}`, want: `{"a": 1}`},
		{name: "json tag", input: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "no tag", input: "```\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "other tag", input: "```JSON5\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "inline", input: "```json{\"a\": 1}```", want: `{"a": 1}`},
		{name: "surrounding whitespace", input: "  \n```json\n{\"a\": 1}\n```  \n", want: `{"a": 1}`},
		{name: "leading only", input: "```json\n{\"a\": 1}", want: `{"a": 1}`},
		{name: "trailing only", input: "{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "invalid body", input: "```json\n{not valid\n```", want: "{not valid"},
		{name: "empty", input: "", want: ""},
		{name: "fence only", input: "```", want: ""},
		{name: "prose", input: "Take a breath.", want: "Take a breath."},
		{name: "fenced prose", input: "```Here is plain text```", want: "Here is plain text"},
		{name: "fenced prose multiline", input: "```Breathe in\nfor four```", want: "Breathe in\nfor four"},
		{name: "tag with trailing space", input: "```json \n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "array after tag", input: "```json[1, 2]```", want: "[1, 2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFence(tt.input))
		})
	}
}

func TestStripFence_IdempotentOnClean(t *testing.T) {
	for _, clean := range []string{`{"task": "mind.general_support"}`, "plain text", `[1, 2]`} {
		once := StripFence(clean)
		assert.Equal(t, clean, once)
		assert.Equal(t, once, StripFence(once))
	}
}

func TestDecodeObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOK  bool
		wantKey string
	}{
		{name: "plain", input: `{"task": "baby.sleep_guidance", "reasoning": "sleep"}`, wantOK: true, wantKey: "task"},
		{name: "fenced", input: "```json\n{\"title\": \"Rest\"}\n```", wantOK: true, wantKey: "title"},
		{
			name:    "comments and trailing commas",
			input:   "```json\n{\n  \"title\": \"Rest\", // short\n  \"steps\": [\"a\", \"b\",],\n}\n```",
			wantOK:  true,
			wantKey: "steps",
		},
		{name: "url kept", input: `{"link": "https://example.com/x"}`, wantOK: true, wantKey: "link"},
		{name: "invalid", input: "```json\n{not valid\n```"},
		{name: "array", input: `[{"title": "x"}]`},
		{name: "null", input: `null`},
		{name: "string", input: `"hello"`},
		{name: "empty", input: ""},
		{name: "prose", input: "I am not JSON."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, ok := DecodeObject(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				require.NotNil(t, obj)
				assert.Contains(t, obj, tt.wantKey)
			} else {
				assert.Nil(t, obj)
			}
		})
	}
}

func TestStringField(t *testing.T) {
	obj := map[string]any{"task": "mind.general_support", "n": 3.0}

	s, ok := StringField(obj, "task")
	assert.True(t, ok)
	assert.Equal(t, "mind.general_support", s)

	_, ok = StringField(obj, "n")
	assert.False(t, ok)
	_, ok = StringField(nil, "task")
	assert.False(t, ok)
}

func TestStripLineComment(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"a": "b", // note`, `"a": "b",`},
		{`"url": "http://x.y/z"`, `"url": "http://x.y/z"`},
		{`"q": "say \"//\" twice" // c`, `"q": "say \"//\" twice"`},
		{`no comment`, `no comment`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, stripLineComment(tt.input))
	}
}
