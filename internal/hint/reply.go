package hint

import (
	"bytes"
	"encoding/json"
)

// ReplyKind tags the shape an oracle answer arrived in.
type ReplyKind int

// Reply shapes.
const (
	ReplyUnknown ReplyKind = iota
	ReplyPlainText
	ReplyChatEnvelope
	ReplyWrappedContent
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyPlainText:
		return "plain_text"
	case ReplyChatEnvelope:
		return "chat_envelope"
	case ReplyWrappedContent:
		return "wrapped_content"
	}
	return "unknown"
}

// Reply is a normalised oracle answer.
type Reply struct {
	Kind ReplyKind
	Text string
}

type chatEnvelope struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type wrappedContent struct {
	Content *string `json:"content"`
}

// ParseReply recognises a bare JSON string, a chat completion envelope
// (choices[0].message.content) or an object with a content field. Anything
// else is ReplyUnknown with empty text.
func ParseReply(raw json.RawMessage) Reply {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Reply{}
	}

	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return Reply{Kind: ReplyPlainText, Text: s}
		}
	case '{':
		var chat chatEnvelope
		if json.Unmarshal(raw, &chat) == nil && len(chat.Choices) > 0 && chat.Choices[0].Message.Content != nil {
			return Reply{Kind: ReplyChatEnvelope, Text: *chat.Choices[0].Message.Content}
		}
		var wrapped wrappedContent
		if json.Unmarshal(raw, &wrapped) == nil && wrapped.Content != nil {
			return Reply{Kind: ReplyWrappedContent, Text: *wrapped.Content}
		}
	}
	return Reply{}
}
