package chat

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/conversation"
	"github.com/go-go-golems/marionette/pkg/events"
)

// processCompletion folds one streamed chunk into the response message and
// reports progress to the tracker. Caller holds s.mu; the post-terminal
// protocol (notification, merge, persist) runs after the lock is released
// via the returned closure.
func (s *SessionContext) processCompletion(id conversation.NodeID, chunk *events.CompletionChunk) (after func()) {
	if chunk.Error != nil {
		log.Warn().
			Str("message_id", id.String()).
			Str("error", chunk.Error.Message).
			Msg("in-band completion error")
		s.notifier.Notify(NoticeError, chunk.Error.Message)
		s.tracker.Fail(id, reasonProtocol)
		s.rollbackLocked(id)
		return func() { s.persist(context.Background()) }
	}

	msg, ok := s.history.GetMessage(id)
	if !ok {
		// Late chunk for a rolled-back message: must not resurrect it.
		return nil
	}
	// Terminal messages ignore late content mutations.
	if msg.Done {
		if !chunk.Done {
			return nil
		}
		// Duplicate terminal delivery: the lifecycle outcome already fired,
		// a repeat persist is the only harmless side effect.
		s.tracker.Complete(id)
		return func() { s.persist(context.Background()) }
	}

	if len(chunk.Sources) > 0 {
		s.history.AttachSources(id, chunk.Sources)
	}

	delta := chunk.DeltaContent()

	// Degenerate empty first chunk some backends emit before real content.
	if chunk.Content != nil && *chunk.Content == "" && delta == "\n" {
		return nil
	}

	switch {
	case delta != "":
		s.history.AppendContent(id, delta)
		s.tracker.ReceiveFirstToken(id)
	case chunk.MessageContent() != "":
		// Batch mode: the backend buffered the whole turn.
		s.history.AppendContent(id, chunk.MessageContent())
		s.tracker.ReceiveFirstToken(id)
	case chunk.Content != nil:
		s.history.ReplaceContent(id, *chunk.Content)
		s.tracker.ReceiveFirstToken(id)
	}

	if chunk.SelectedModelID != "" {
		s.history.SetSelectedModelID(id, chunk.SelectedModelID)
	}
	if chunk.Usage != nil {
		s.history.SetUsage(id, chunk.Usage)
	}

	if chunk.Done {
		s.history.MarkDone(id)
		s.tracker.Complete(id)
		return func() { s.finishTurn(context.Background(), id) }
	}

	return nil
}

// finishTurn runs the turn-completion protocol for one terminal response:
// notify the post-processing service with the full linear path, merge any
// rewritten content back (keeping the pre-rewrite text), then persist.
func (s *SessionContext) finishTurn(ctx context.Context, id conversation.NodeID) {
	s.mu.Lock()
	path := s.history.MaterializePath(id).Clone()
	s.mu.Unlock()

	if s.postProcess != nil && len(path) > 0 {
		rewritten, err := s.postProcess.Completed(ctx, s.ChatID(), id, path)
		if err != nil {
			log.Warn().Err(err).Str("message_id", id.String()).Msg("turn-completion notification failed")
		} else if len(rewritten) > 0 {
			s.mu.Lock()
			for nodeID, content := range rewritten {
				s.history.MergeRewrittenContent(nodeID, content)
			}
			s.mu.Unlock()
		}
	}

	s.persist(ctx)
}

// cancelSiblingsLocked handles a server-side chat:tasks:cancel: every
// sibling response placeholder under the current user turn reaches a
// terminal state. Placeholders that never streamed content are rolled back;
// ones with partial content are kept and finalized. No toast: the event is
// usually caused by a prior user stop.
func (s *SessionContext) cancelSiblingsLocked() {
	tip, ok := s.history.ActiveTip()
	if !ok {
		return
	}

	userID := tip.ID
	if tip.Role == conversation.RoleAssistant {
		userID = tip.ParentID
	}

	for _, childID := range s.history.FindChildren(userID) {
		child, ok := s.history.GetMessage(childID)
		if !ok || child.Role != conversation.RoleAssistant || child.Done {
			continue
		}
		s.tracker.Cancel(childID)
		if child.Content == "" {
			s.rollbackLocked(childID)
		} else {
			s.history.MarkDone(childID)
		}
	}
}
