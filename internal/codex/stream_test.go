package codex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStreamSessionFirstAnswerLast(t *testing.T) {
	t.Parallel()

	raw := `{"session_id":"s1"}
{"type":"agent_message","text":"A"}
this line is not json
{"type":"agent_message","text":"B"}`

	result := ParseStream(raw)
	assert.Equal(t, "s1", result.SessionID)
	assert.Equal(t, "B", result.Answer)
}

func TestParseStreamSessionIDSources(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "top level session_id", raw: `{"session_id":"a"}`, want: "a"},
		{name: "nested session object", raw: `{"session":{"id":"b"}}`, want: "b"},
		{name: "session typed event", raw: `{"type":"session","id":"c"}`, want: "c"},
		{name: "thread_id field", raw: `{"thread_id":"d"}`, want: "d"},
		{name: "thread.started thread_id", raw: `{"type":"thread.started","thread_id":"e"}`, want: "e"},
		{name: "thread.started id fallback", raw: `{"type":"thread.started","id":"f"}`, want: "f"},
		{name: "first declaration wins", raw: "{\"session_id\":\"first\"}\n{\"session_id\":\"second\"}", want: "first"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ParseStream(tc.raw).SessionID)
		})
	}
}

func TestParseStreamAnswerShapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "assistant role accepted",
			raw:  `{"type":"message","role":"assistant","content":"hi"}`,
			want: "hi",
		},
		{
			name: "non assistant role rejected",
			raw:  `{"type":"message","role":"user","content":"hi"}`,
			want: "",
		},
		{
			name: "item completed envelope",
			raw:  `{"type":"item.completed","item":{"type":"agent_message","text":"done"}}`,
			want: "done",
		},
		{
			name: "message field",
			raw:  `{"message":{"content":"from message"}}`,
			want: "from message",
		},
		{
			name: "response output_text",
			raw:  `{"response":{"output_text":"from response"}}`,
			want: "from response",
		},
		{
			name: "content part list",
			raw:  `{"type":"assistant_message","content":[{"text":"one "},{"text":"two"}]}`,
			want: "one two",
		},
		{
			name: "non object lines skipped",
			raw:  "42\n\"just a string\"\n[1,2]",
			want: "",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ParseStream(tc.raw).Answer)
		})
	}
}

func TestExtractTextPreferenceOrder(t *testing.T) {
	t.Parallel()

	value := map[string]any{
		"content": "secondary",
		"text":    "primary",
	}
	assert.Equal(t, "primary", extractText(value))

	assert.Equal(t, "", extractText(42.0))
	assert.Equal(t, "", extractText(nil))
	assert.Equal(t, "abc", extractText([]any{"a", map[string]any{"text": "b"}, "c"}))
}
