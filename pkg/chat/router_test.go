package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/conversation"
	"github.com/go-go-golems/marionette/pkg/events"
)

func TestDropEventForOtherChat(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	id := submitOne(t, s, "m1")[0]

	s.HandleEvent(events.NewCompletionEvent(completionMeta("chat-other", id), deltaChunk("wrong chat")))

	msg, ok := s.History().GetMessage(id)
	require.True(t, ok)
	assert.Equal(t, "", msg.Content)
}

func TestEventHandlerDecodesAndDispatches(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	id := submitOne(t, s, "m1")[0]

	ev := events.NewMessageDeltaEvent(completionMeta("chat-1", id), "streamed")
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	handler := s.EventHandler()
	require.NoError(t, handler(message.NewMessage("1", payload)))

	msg, ok := s.History().GetMessage(id)
	require.True(t, ok)
	assert.Equal(t, "streamed", msg.Content)
}

func TestEventHandlerSurvivesGarbage(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	handler := s.EventHandler()

	assert.NoError(t, handler(message.NewMessage("1", []byte("not json"))))
	assert.NoError(t, handler(message.NewMessage("2", []byte(`{"type":"something:new","meta":{}}`))))
	assert.NoError(t, handler(message.NewMessage("3", []byte("null"))))
}

func TestStatusEvent(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	id := submitOne(t, s, "m1")[0]

	s.HandleEvent(events.NewStatusEvent(completionMeta("chat-1", id), conversation.StatusUpdate{
		Action:      "searching",
		Description: "searching the web",
	}))

	msg, ok := s.History().GetMessage(id)
	require.True(t, ok)
	require.Len(t, msg.StatusHistory, 1)
	assert.Equal(t, "searching", msg.StatusHistory[0].Action)
}

func TestMessageAndFollowUpEvents(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	id := submitOne(t, s, "m1")[0]

	s.HandleEvent(events.NewMessageEvent(completionMeta("chat-1", id), "replaced"))
	s.HandleEvent(events.NewFollowUpsEvent(completionMeta("chat-1", id), []string{"and then?"}))

	msg, ok := s.History().GetMessage(id)
	require.True(t, ok)
	assert.Equal(t, "replaced", msg.Content)
	assert.Equal(t, []string{"and then?"}, msg.FollowUps)
}

func TestMessageErrorEventRollsBack(t *testing.T) {
	s, _, notifier, _ := newTestSession(t)
	id := submitOne(t, s, "m1")[0]

	s.HandleEvent(events.NewMessageErrorEvent(completionMeta("chat-1", id), errors.New("backend exploded")))

	_, ok := s.History().GetMessage(id)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Tracker().Len())

	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, "backend exploded", notices[0].message)
}

func TestSourceEvents(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	id := submitOne(t, s, "m1")[0]

	s.HandleEvent(events.NewSourceEvent(completionMeta("chat-1", id), conversation.Source{ID: "s1", URL: "https://example.com"}))
	s.HandleEvent(events.NewCodeExecutionEvent(completionMeta("chat-1", id), conversation.CodeExecution{ID: "x1", Code: "print(1)", Status: "running"}))
	s.HandleEvent(events.NewCodeExecutionEvent(completionMeta("chat-1", id), conversation.CodeExecution{ID: "x1", Code: "print(1)", Output: "1", Status: "done"}))

	msg, ok := s.History().GetMessage(id)
	require.True(t, ok)
	require.Len(t, msg.Sources, 1)
	require.Len(t, msg.CodeExecutions, 1)
	assert.Equal(t, "done", msg.CodeExecutions[0].Status)
	assert.Equal(t, "1", msg.CodeExecutions[0].Output)
}

func TestTitleTagsAndNotification(t *testing.T) {
	var gotTitle string
	var gotTags []string
	s, _, notifier, _ := newTestSession(t,
		WithTitleHandler(func(title string) { gotTitle = title }),
		WithTagsHandler(func(tags []string) { gotTags = tags }),
	)

	meta := events.EventMetadata{ChatID: "chat-1"}
	s.HandleEvent(events.NewTitleEvent(meta, "Comparing models"))
	s.HandleEvent(events.NewTagsEvent(meta, []string{"ai", "benchmarks"}))
	s.HandleEvent(events.NewNotificationEvent(meta, "info", "export finished"))

	assert.Equal(t, "Comparing models", gotTitle)
	assert.Equal(t, []string{"ai", "benchmarks"}, gotTags)

	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeInfo, notices[0].level)
	assert.Equal(t, "export finished", notices[0].message)
}

func TestTasksCancelFinalizesSiblings(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	ids := submitOne(t, s, "m1", "m2")
	require.Len(t, ids, 2)

	// m1 has partial content, m2 never produced any.
	s.HandleEvent(events.NewCompletionEvent(completionMeta("chat-1", ids[0]), deltaChunk("partial")))

	s.HandleEvent(events.NewTasksCancelEvent(events.EventMetadata{ChatID: "chat-1"}))

	kept, ok := s.History().GetMessage(ids[0])
	require.True(t, ok)
	assert.Equal(t, "partial", kept.Content)
	assert.True(t, kept.Done)

	_, ok = s.History().GetMessage(ids[1])
	assert.False(t, ok, "contentless placeholder must be rolled back")

	assert.Equal(t, 0, s.Tracker().Len())
}

func TestConfirmationPromptRoundTrip(t *testing.T) {
	acker := &recordingAcker{}
	s, _, _, _ := newTestSession(t, WithPromptAcker(acker))

	meta := events.EventMetadata{ChatID: "chat-1"}
	s.HandleEvent(events.NewConfirmationEvent(meta, "req-1", "Delete file?", "This cannot be undone."))

	p := s.PendingPrompt()
	require.NotNil(t, p)
	assert.Equal(t, PromptConfirmation, p.Kind)

	// Kind mismatch is rejected without consuming the prompt.
	err := s.ResolveInput(context.Background(), "nope")
	assert.True(t, IsValidationError(err))
	require.NotNil(t, s.PendingPrompt())

	require.NoError(t, s.ResolveConfirmation(context.Background(), true))
	assert.Nil(t, s.PendingPrompt())

	v, ok := acker.get("req-1")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestInputPromptSuperseded(t *testing.T) {
	acker := &recordingAcker{}
	s, _, _, _ := newTestSession(t, WithPromptAcker(acker))

	meta := events.EventMetadata{ChatID: "chat-1"}
	s.HandleEvent(events.NewInputEvent(meta, "req-1", "Name?", ""))
	s.HandleEvent(events.NewInputEvent(meta, "req-2", "Email?", "you@example.com"))

	p := s.PendingPrompt()
	require.NotNil(t, p)
	assert.Equal(t, "req-2", p.RequestID)

	require.NoError(t, s.ResolveInput(context.Background(), "a@b.c"))

	_, ok := acker.get("req-1")
	assert.False(t, ok, "superseded prompt is never acknowledged")
	v, ok := acker.get("req-2")
	require.True(t, ok)
	assert.Equal(t, "a@b.c", v)
}

func TestExecuteEventAllowList(t *testing.T) {
	acker := &recordingAcker{}
	s, _, _, _ := newTestSession(t, WithPromptAcker(acker))

	s.ExecOps().Register("clipboard.read", func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
		return "copied text", nil
	})
	s.ExecOps().Register("always.fails", func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
		return nil, errors.New("nope")
	})

	meta := events.EventMetadata{ChatID: "chat-1"}
	s.HandleEvent(events.NewExecuteEvent(meta, "req-ok", "clipboard.read", nil))
	s.HandleEvent(events.NewExecuteEvent(meta, "req-fail", "always.fails", nil))
	s.HandleEvent(events.NewExecuteEvent(meta, "req-unknown", "eval.arbitrary", map[string]interface{}{"code": "rm -rf /"}))

	v, ok := acker.get("req-ok")
	require.True(t, ok)
	assert.Equal(t, "copied text", v)

	_, ok = acker.get("req-fail")
	assert.False(t, ok, "a failed op never acknowledges")
	_, ok = acker.get("req-unknown")
	assert.False(t, ok, "an unregistered op never acknowledges")
}

func TestClosedSessionDropsEvents(t *testing.T) {
	s, _, _, _ := newTestSession(t)
	id := submitOne(t, s, "m1")[0]
	s.Close()

	s.HandleEvent(events.NewCompletionEvent(completionMeta("chat-1", id), deltaChunk("after close")))

	msg, ok := s.History().GetMessage(id)
	require.True(t, ok)
	assert.Equal(t, "", msg.Content)
}
