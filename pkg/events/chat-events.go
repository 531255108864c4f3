package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/marionette/pkg/conversation"
)

// EventType enumerates the closed set of push event kinds. The set is
// matched exhaustively at dispatch time, with an explicit unknown arm for
// forward compatibility.
type EventType string

const (
	EventTypeStatus       EventType = "status"
	EventTypeCompletion   EventType = "chat:completion"
	EventTypeTasksCancel  EventType = "chat:tasks:cancel"
	EventTypeMessageDelta EventType = "chat:message:delta"
	EventTypeMessage      EventType = "chat:message"
	EventTypeMessageError EventType = "chat:message:error"
	EventTypeFollowUps    EventType = "chat:message:follow_ups"
	EventTypeTitle        EventType = "chat:title"
	EventTypeTags         EventType = "chat:tags"
	EventTypeSource       EventType = "source"
	EventTypeNotification EventType = "notification"
	EventTypeConfirmation EventType = "confirmation"
	EventTypeInput        EventType = "input"
	EventTypeExecute      EventType = "execute"

	// Aliases older backends still emit for the message delta/replace pair.
	EventTypeMessageAppendAlias  EventType = "message"
	EventTypeMessageReplaceAlias EventType = "replace"
)

// EventMetadata addresses an event: the conversation it belongs to and the
// message node it targets. Events for a non-active chat are dropped by the
// session handler.
type EventMetadata struct {
	ChatID    string              `json:"chat_id"`
	MessageID conversation.NodeID `json:"message_id"`
	SessionID string              `json:"session_id,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("chat_id", em.ChatID)
	e.Str("message_id", em.MessageID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// raw JSON this event was decoded from, see NewEventFromJSON
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

// EventStatus appends one entry to the target message's status history.
type EventStatus struct {
	EventImpl
	Status conversation.StatusUpdate `json:"status"`
}

func NewStatusEvent(metadata EventMetadata, status conversation.StatusUpdate) *EventStatus {
	return &EventStatus{
		EventImpl: EventImpl{Type_: EventTypeStatus, Metadata_: metadata},
		Status:    status,
	}
}

// EventCompletion carries one chunk of a streamed completion for the target
// response message.
type EventCompletion struct {
	EventImpl
	Chunk CompletionChunk `json:"data"`
}

func NewCompletionEvent(metadata EventMetadata, chunk CompletionChunk) *EventCompletion {
	return &EventCompletion{
		EventImpl: EventImpl{Type_: EventTypeCompletion, Metadata_: metadata},
		Chunk:     chunk,
	}
}

// EventTasksCancel announces that the backend cancelled the running tasks of
// the conversation, usually in response to a prior user stop.
type EventTasksCancel struct {
	EventImpl
	TaskIDs []string `json:"task_ids,omitempty"`
}

func NewTasksCancelEvent(metadata EventMetadata, taskIDs ...string) *EventTasksCancel {
	return &EventTasksCancel{
		EventImpl: EventImpl{Type_: EventTypeTasksCancel, Metadata_: metadata},
		TaskIDs:   taskIDs,
	}
}

// EventMessageDelta appends to the target message buffer.
type EventMessageDelta struct {
	EventImpl
	Delta string `json:"delta"`
}

func NewMessageDeltaEvent(metadata EventMetadata, delta string) *EventMessageDelta {
	return &EventMessageDelta{
		EventImpl: EventImpl{Type_: EventTypeMessageDelta, Metadata_: metadata},
		Delta:     delta,
	}
}

// EventMessage replaces the target message buffer wholesale.
type EventMessage struct {
	EventImpl
	Content string `json:"content"`
}

func NewMessageEvent(metadata EventMetadata, content string) *EventMessage {
	return &EventMessage{
		EventImpl: EventImpl{Type_: EventTypeMessage, Metadata_: metadata},
		Content:   content,
	}
}

// EventMessageError surfaces a server-side failure for the target response.
type EventMessageError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewMessageErrorEvent(metadata EventMetadata, err error) *EventMessageError {
	return &EventMessageError{
		EventImpl:   EventImpl{Type_: EventTypeMessageError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

// EventFollowUps carries suggested follow-up prompts for a finished turn.
type EventFollowUps struct {
	EventImpl
	FollowUps []string `json:"follow_ups"`
}

func NewFollowUpsEvent(metadata EventMetadata, followUps []string) *EventFollowUps {
	return &EventFollowUps{
		EventImpl: EventImpl{Type_: EventTypeFollowUps, Metadata_: metadata},
		FollowUps: followUps,
	}
}

// EventTitle carries a backend-generated conversation title. Metadata-only,
// forwarded to collaborators.
type EventTitle struct {
	EventImpl
	Title string `json:"title"`
}

func NewTitleEvent(metadata EventMetadata, title string) *EventTitle {
	return &EventTitle{
		EventImpl: EventImpl{Type_: EventTypeTitle, Metadata_: metadata},
		Title:     title,
	}
}

// EventTags carries backend-generated conversation tags. Metadata-only.
type EventTags struct {
	EventImpl
	Tags []string `json:"tags"`
}

func NewTagsEvent(metadata EventMetadata, tags []string) *EventTags {
	return &EventTags{
		EventImpl: EventImpl{Type_: EventTypeTags, Metadata_: metadata},
		Tags:      tags,
	}
}

// EventSource attaches a citation source, or upserts a code execution record
// by id when Execution is set.
type EventSource struct {
	EventImpl
	Source    *conversation.Source        `json:"source,omitempty"`
	Execution *conversation.CodeExecution `json:"code_execution,omitempty"`
}

func NewSourceEvent(metadata EventMetadata, source conversation.Source) *EventSource {
	return &EventSource{
		EventImpl: EventImpl{Type_: EventTypeSource, Metadata_: metadata},
		Source:    &source,
	}
}

func NewCodeExecutionEvent(metadata EventMetadata, exec conversation.CodeExecution) *EventSource {
	return &EventSource{
		EventImpl: EventImpl{Type_: EventTypeSource, Metadata_: metadata},
		Execution: &exec,
	}
}

// EventNotification is a user-facing toast. Never tree-mutating.
type EventNotification struct {
	EventImpl
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
}

func NewNotificationEvent(metadata EventMetadata, level string, message string) *EventNotification {
	return &EventNotification{
		EventImpl: EventImpl{Type_: EventTypeNotification, Metadata_: metadata},
		Level:     level,
		Message:   message,
	}
}

// EventConfirmation asks the user a yes/no question on behalf of one backend
// task. The answer travels back through the prompt acknowledgement channel
// keyed by RequestID.
type EventConfirmation struct {
	EventImpl
	RequestID string `json:"request_id"`
	Title     string `json:"title,omitempty"`
	Message   string `json:"message"`
}

func NewConfirmationEvent(metadata EventMetadata, requestID string, title string, message string) *EventConfirmation {
	return &EventConfirmation{
		EventImpl: EventImpl{Type_: EventTypeConfirmation, Metadata_: metadata},
		RequestID: requestID,
		Title:     title,
		Message:   message,
	}
}

// EventInput asks the user for a free-form string, same acknowledgement
// mechanism as EventConfirmation.
type EventInput struct {
	EventImpl
	RequestID   string `json:"request_id"`
	Message     string `json:"message"`
	Placeholder string `json:"placeholder,omitempty"`
}

func NewInputEvent(metadata EventMetadata, requestID string, message string, placeholder string) *EventInput {
	return &EventInput{
		EventImpl:   EventImpl{Type_: EventTypeInput, Metadata_: metadata},
		RequestID:   requestID,
		Message:     message,
		Placeholder: placeholder,
	}
}

// EventExecute names an allow-listed client operation the backend wants run.
// The result travels back keyed by RequestID; a failed or unknown op never
// acknowledges.
type EventExecute struct {
	EventImpl
	RequestID string                 `json:"request_id"`
	Op        string                 `json:"op"`
	Args      map[string]interface{} `json:"args,omitempty"`
}

func NewExecuteEvent(metadata EventMetadata, requestID string, op string, args map[string]interface{}) *EventExecute {
	return &EventExecute{
		EventImpl: EventImpl{Type_: EventTypeExecute, Metadata_: metadata},
		RequestID: requestID,
		Op:        op,
		Args:      args,
	}
}

var (
	_ Event = &EventStatus{}
	_ Event = &EventCompletion{}
	_ Event = &EventTasksCancel{}
	_ Event = &EventMessageDelta{}
	_ Event = &EventMessage{}
	_ Event = &EventMessageError{}
	_ Event = &EventFollowUps{}
	_ Event = &EventTitle{}
	_ Event = &EventTags{}
	_ Event = &EventSource{}
	_ Event = &EventNotification{}
	_ Event = &EventConfirmation{}
	_ Event = &EventInput{}
	_ Event = &EventExecute{}
)

// NewEventFromJSON decodes a push payload into its typed event. Unknown
// types decode to the bare EventImpl so the caller can log and drop them.
func NewEventFromJSON(b []byte) (Event, error) {
	var e *EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "failed to decode event envelope")
	}
	// A literal JSON null unmarshals without error and leaves e nil.
	if e == nil {
		return nil, errors.New("event envelope is null")
	}
	e.payload = b

	switch e.Type_ {
	case EventTypeStatus:
		return toTypedEvent[EventStatus](e)
	case EventTypeCompletion:
		return toTypedEvent[EventCompletion](e)
	case EventTypeTasksCancel:
		return toTypedEvent[EventTasksCancel](e)
	case EventTypeMessageDelta, EventTypeMessageAppendAlias:
		return toTypedEvent[EventMessageDelta](e)
	case EventTypeMessage, EventTypeMessageReplaceAlias:
		return toTypedEvent[EventMessage](e)
	case EventTypeMessageError:
		return toTypedEvent[EventMessageError](e)
	case EventTypeFollowUps:
		return toTypedEvent[EventFollowUps](e)
	case EventTypeTitle:
		return toTypedEvent[EventTitle](e)
	case EventTypeTags:
		return toTypedEvent[EventTags](e)
	case EventTypeSource:
		return toTypedEvent[EventSource](e)
	case EventTypeNotification:
		return toTypedEvent[EventNotification](e)
	case EventTypeConfirmation:
		return toTypedEvent[EventConfirmation](e)
	case EventTypeInput:
		return toTypedEvent[EventInput](e)
	case EventTypeExecute:
		return toTypedEvent[EventExecute](e)
	}

	return e, nil
}

func toTypedEvent[T any](e *EventImpl) (*T, error) {
	var ret *T
	if err := json.Unmarshal(e.payload, &ret); err != nil {
		return nil, errors.Wrapf(err, "could not decode event as %s", e.Type_)
	}
	if setter, ok := any(ret).(interface{ setPayload([]byte) }); ok {
		setter.setPayload(e.payload)
	}
	return ret, nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}
