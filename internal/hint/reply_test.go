package hint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReply(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want Reply
	}{
		{name: "plain text", raw: `"think about zero"`, want: Reply{Kind: ReplyPlainText, Text: "think about zero"}},
		{name: "chat envelope", raw: `{"choices":[{"message":{"content":"from chat"}}]}`, want: Reply{Kind: ReplyChatEnvelope, Text: "from chat"}},
		{name: "wrapped", raw: `{"content":"wrapped"}`, want: Reply{Kind: ReplyWrappedContent, Text: "wrapped"}},
		{name: "chat wins over content", raw: `{"content":"w","choices":[{"message":{"content":"c"}}]}`, want: Reply{Kind: ReplyChatEnvelope, Text: "c"}},
		{name: "empty choices falls to content", raw: `{"choices":[],"content":"w"}`, want: Reply{Kind: ReplyWrappedContent, Text: "w"}},
		{name: "empty string", raw: `""`, want: Reply{Kind: ReplyPlainText}},
		{name: "number", raw: `42`},
		{name: "array", raw: `["a"]`},
		{name: "null", raw: `null`},
		{name: "object without content", raw: `{"answer":"x"}`},
		{name: "content not a string", raw: `{"content":{"text":"x"}}`},
		{name: "empty", raw: ``},
		{name: "garbage", raw: `{"content":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseReply(json.RawMessage(tt.raw))
			assert.Equal(t, tt.want, got)
			if tt.want.Kind == ReplyUnknown {
				assert.Empty(t, got.Text)
			}
		})
	}
}

func TestReplyKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "chat_envelope", ReplyChatEnvelope.String())
	assert.Equal(t, "unknown", ReplyKind(42).String())
}
