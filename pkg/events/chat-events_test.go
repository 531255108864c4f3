package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/conversation"
)

func testMetadata() EventMetadata {
	return EventMetadata{
		ChatID:    "chat-1",
		MessageID: conversation.NewNodeID(),
	}
}

func roundTrip(t *testing.T, ev Event) Event {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	decoded, err := NewEventFromJSON(b)
	require.NoError(t, err)
	return decoded
}

func TestDecodeCompletionEvent(t *testing.T) {
	meta := testMetadata()
	chunk := CompletionChunk{
		Choices: []CompletionChoice{{Delta: &ChoiceContent{Content: "Hi"}}},
	}

	decoded := roundTrip(t, NewCompletionEvent(meta, chunk))

	completion, ok := decoded.(*EventCompletion)
	require.True(t, ok)
	assert.Equal(t, meta.ChatID, completion.Metadata().ChatID)
	assert.Equal(t, meta.MessageID, completion.Metadata().MessageID)
	assert.Equal(t, "Hi", completion.Chunk.DeltaContent())
	assert.Empty(t, completion.Chunk.MessageContent())
	assert.False(t, completion.Chunk.Done)
}

func TestDecodeMessageDeltaAndReplace(t *testing.T) {
	meta := testMetadata()

	delta, ok := roundTrip(t, NewMessageDeltaEvent(meta, "more ")).(*EventMessageDelta)
	require.True(t, ok)
	assert.Equal(t, "more ", delta.Delta)

	replace, ok := roundTrip(t, NewMessageEvent(meta, "whole thing")).(*EventMessage)
	require.True(t, ok)
	assert.Equal(t, "whole thing", replace.Content)
}

func TestDecodeErrorAndCancel(t *testing.T) {
	meta := testMetadata()

	errEv, ok := roundTrip(t, NewMessageErrorEvent(meta, assert.AnError)).(*EventMessageError)
	require.True(t, ok)
	assert.Equal(t, assert.AnError.Error(), errEv.ErrorString)

	cancel, ok := roundTrip(t, NewTasksCancelEvent(meta, "task-1")).(*EventTasksCancel)
	require.True(t, ok)
	assert.Equal(t, []string{"task-1"}, cancel.TaskIDs)
}

func TestDecodeInteractiveEvents(t *testing.T) {
	meta := testMetadata()

	confirm, ok := roundTrip(t, NewConfirmationEvent(meta, "req-1", "Delete?", "This cannot be undone")).(*EventConfirmation)
	require.True(t, ok)
	assert.Equal(t, "req-1", confirm.RequestID)

	input, ok := roundTrip(t, NewInputEvent(meta, "req-2", "Name the file", "notes.md")).(*EventInput)
	require.True(t, ok)
	assert.Equal(t, "notes.md", input.Placeholder)

	execute, ok := roundTrip(t, NewExecuteEvent(meta, "req-3", "copy_to_clipboard", map[string]interface{}{"text": "hi"})).(*EventExecute)
	require.True(t, ok)
	assert.Equal(t, "copy_to_clipboard", execute.Op)
}

func TestNullPayloadIsAnError(t *testing.T) {
	_, err := NewEventFromJSON([]byte("null"))
	require.Error(t, err)
}

func TestLegacyAliasesDecodeToDeltaAndReplace(t *testing.T) {
	appendEv, err := NewEventFromJSON([]byte(`{"type":"message","meta":{"chat_id":"chat-1"},"delta":"more "}`))
	require.NoError(t, err)
	delta, ok := appendEv.(*EventMessageDelta)
	require.True(t, ok)
	assert.Equal(t, "more ", delta.Delta)

	replaceEv, err := NewEventFromJSON([]byte(`{"type":"replace","meta":{"chat_id":"chat-1"},"content":"whole thing"}`))
	require.NoError(t, err)
	replace, ok := replaceEv.(*EventMessage)
	require.True(t, ok)
	assert.Equal(t, "whole thing", replace.Content)
}

func TestUnknownEventTypeDecodesToEnvelope(t *testing.T) {
	payload := []byte(`{"type":"chat:something:new","meta":{"chat_id":"chat-1"}}`)

	decoded, err := NewEventFromJSON(payload)
	require.NoError(t, err)

	_, ok := decoded.(*EventImpl)
	assert.True(t, ok, "unknown types stay untyped so the router can log and drop them")
	assert.Equal(t, EventType("chat:something:new"), decoded.Type())
}

func TestCompletionChunkBatchShapes(t *testing.T) {
	batch := CompletionChunk{
		Choices: []CompletionChoice{{Message: &ChoiceContent{Content: "full turn"}}},
	}
	assert.Equal(t, "full turn", batch.MessageContent())
	assert.Empty(t, batch.DeltaContent())

	full := "replace me"
	replace := CompletionChunk{Content: &full}
	assert.Empty(t, replace.DeltaContent())
	assert.Empty(t, replace.MessageContent())
	require.NotNil(t, replace.Content)
	assert.Equal(t, "replace me", *replace.Content)
}
