package chat

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/events"
)

// EventHandler returns the watermill handler binding the session to the
// push channel topic. It decodes the multiplexed payload and hands the
// typed event to HandleEvent; a malformed payload is logged and dropped
// rather than killing the handler.
func (s *SessionContext) EventHandler() func(msg *message.Message) error {
	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("watermill_id", msg.UUID).Msg("failed to decode push event")
			return nil
		}

		s.HandleEvent(e)
		return nil
	}
}

// HandleEvent demultiplexes one push event into the session. Events for a
// non-active chat are dropped without buffering: correctness relies on the
// persistence gateway, not replay. Each event is handled to completion
// under the session lock before the next is processed.
func (s *SessionContext) HandleEvent(e events.Event) {
	meta := e.Metadata()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if meta.ChatID != "" && s.chatID != "" && meta.ChatID != s.chatID {
		s.mu.Unlock()
		log.Debug().
			Str("event_chat_id", meta.ChatID).
			Str("active_chat_id", s.chatID).
			Str("type", string(e.Type())).
			Msg("dropping event for non-active chat")
		return
	}

	id := meta.MessageID
	var after func()

	switch ev := e.(type) {
	case *events.EventStatus:
		s.history.AppendStatus(id, ev.Status)

	case *events.EventCompletion:
		after = s.processCompletion(id, &ev.Chunk)

	case *events.EventTasksCancel:
		s.cancelSiblingsLocked()
		after = func() { s.persist(context.Background()) }

	case *events.EventMessageDelta:
		s.history.AppendContent(id, ev.Delta)

	case *events.EventMessage:
		s.history.ReplaceContent(id, ev.Content)

	case *events.EventMessageError:
		s.notifier.Notify(NoticeError, ev.ErrorString)
		s.tracker.Fail(id, reasonProtocol)
		s.rollbackLocked(id)
		after = func() { s.persist(context.Background()) }

	case *events.EventFollowUps:
		s.history.SetFollowUps(id, ev.FollowUps)

	case *events.EventTitle:
		if s.onTitle != nil {
			title := ev.Title
			after = func() { s.onTitle(title) }
		}

	case *events.EventTags:
		if s.onTags != nil {
			tags := ev.Tags
			after = func() { s.onTags(tags) }
		}

	case *events.EventSource:
		if ev.Execution != nil {
			s.history.UpsertCodeExecution(id, *ev.Execution)
		} else if ev.Source != nil {
			s.history.AppendSource(id, *ev.Source)
		}

	case *events.EventNotification:
		level := NoticeLevel(ev.Level)
		if level == "" {
			level = NoticeInfo
		}
		msg := ev.Message
		after = func() { s.notifier.Notify(level, msg) }

	case *events.EventConfirmation:
		s.holdPromptLocked(&PendingPrompt{
			RequestID: ev.RequestID,
			Kind:      PromptConfirmation,
			Title:     ev.Title,
			Message:   ev.Message,
		})

	case *events.EventInput:
		s.holdPromptLocked(&PendingPrompt{
			RequestID:   ev.RequestID,
			Kind:        PromptInput,
			Message:     ev.Message,
			Placeholder: ev.Placeholder,
		})

	case *events.EventExecute:
		exec := ev
		after = func() { s.runExecuteOp(exec) }

	default:
		log.Warn().Str("type", string(e.Type())).Msg("unrecognized push event type")
	}

	s.mu.Unlock()

	if after != nil {
		after()
	}
}
