package events

import (
	"github.com/go-go-golems/marionette/pkg/conversation"
)

// CompletionChunk is the payload of a chat:completion event. The backend
// streams one chunk per push; the shape decides how content applies:
//
//   - Choices[0].Delta.Content — incremental, appended (normal streaming)
//   - Choices[0].Message.Content — batch, appended once
//   - Content — batch, replaces the whole buffer
//
// Done=true is terminal for the response message.
type CompletionChunk struct {
	Done            bool                   `json:"done"`
	Content         *string                `json:"content,omitempty"`
	Choices         []CompletionChoice     `json:"choices,omitempty"`
	Sources         []conversation.Source  `json:"sources,omitempty"`
	SelectedModelID string                 `json:"selected_model_id,omitempty"`
	Error           *CompletionError       `json:"error,omitempty"`
	Usage           map[string]interface{} `json:"usage,omitempty"`
}

type CompletionChoice struct {
	Delta   *ChoiceContent `json:"delta,omitempty"`
	Message *ChoiceContent `json:"message,omitempty"`
}

type ChoiceContent struct {
	Content string `json:"content"`
}

// CompletionError is an in-band failure on an otherwise-OK response stream.
type CompletionError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *CompletionError) Error() string {
	return e.Message
}

// DeltaContent returns the incremental streaming text, if any.
func (c *CompletionChunk) DeltaContent() string {
	if len(c.Choices) == 0 || c.Choices[0].Delta == nil {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// MessageContent returns the batched full-turn text, if any.
func (c *CompletionChunk) MessageContent() string {
	if len(c.Choices) == 0 || c.Choices[0].Message == nil {
		return ""
	}
	return c.Choices[0].Message.Content
}
