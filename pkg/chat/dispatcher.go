package chat

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/marionette/pkg/conversation"
)

// Submit creates one user turn and fans it out to every target model
// concurrently. The fan-out is joined, never awaited sequentially, and one
// model's failure never blocks or cancels the others: a failing request
// rolls back only its own placeholder.
//
// Models are processed in caller order; ModelIdx fixes display order only.
// There is no cross-model ordering guarantee for token arrival.
func (s *SessionContext) Submit(ctx context.Context, userText string, attachments []conversation.FileAttachment, targetModels []string) error {
	submitAt := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	if err := s.validateSubmission(userText, attachments, targetModels); err != nil {
		s.mu.Unlock()
		s.notifier.Notify(NoticeWarning, err.Error())
		return err
	}

	parentID := s.history.CurrentID
	userID := s.history.CreateMessage(parentID, conversation.NewUserMessage(
		userText,
		conversation.WithFiles(attachments),
		conversation.WithTime(submitAt),
	))

	placeholders := make([]conversation.NodeID, 0, len(targetModels))
	for i, modelID := range targetModels {
		model := s.models[modelID]
		responseID := s.history.CreateMessage(userID, conversation.NewAssistantMessage(
			conversation.WithModel(model.ID, model.Name, i),
		))
		placeholders = append(placeholders, responseID)
		s.tracker.Start(responseID, submitAt)
	}

	// The first placeholder becomes the active tip; branch switching between
	// fan-out siblings reassigns CurrentID only.
	s.history.SetCurrentID(placeholders[0])

	// Snapshot the context path: the fan-out goroutines read it after the
	// lock is released, while push events may mutate the live nodes.
	path := s.history.MaterializePath(userID).Clone()
	s.mu.Unlock()

	// Persist the user turn before any response arrives, so a crash
	// mid-generation never loses the user's input.
	s.persist(ctx)

	if s.drafts != nil {
		s.drafts.Clear(s.ChatID())
	}

	eg := errgroup.Group{}
	for i := range placeholders {
		responseID := placeholders[i]
		modelID := targetModels[i]
		eg.Go(func() error {
			s.issueRequest(ctx, responseID, modelID, path)
			return nil
		})
	}
	_ = eg.Wait()

	if s.refreshSidebar != nil {
		s.refreshSidebar()
	}

	return nil
}

// validateSubmission enforces the pre-mutation checks; it runs under the
// session lock so the active-tip check cannot race another submission.
func (s *SessionContext) validateSubmission(userText string, attachments []conversation.FileAttachment, targetModels []string) error {
	if userText == "" && len(attachments) == 0 {
		return newValidationError("a message or attachment is required")
	}
	if len(targetModels) == 0 {
		return newValidationError("select at least one model")
	}
	for _, modelID := range targetModels {
		if _, ok := s.models[modelID]; !ok {
			return newValidationError("unknown model: " + modelID)
		}
	}
	for _, file := range attachments {
		if file.Status == conversation.FileStatusUploading {
			return newValidationError("wait for uploads to finish")
		}
	}
	if len(attachments) > s.attachmentLimit {
		return newValidationError("too many attachments")
	}

	// The single most important anti-duplication invariant: no second
	// submission while the branch tip is still generating.
	if tip, ok := s.history.ActiveTip(); ok && !tip.Done {
		return newValidationError("a response is still generating")
	}

	return nil
}

// issueRequest sends one model's completion request and registers the
// outcome with the tracker. Transport failures are terminal for this
// request only.
func (s *SessionContext) issueRequest(ctx context.Context, responseID conversation.NodeID, modelID string, path conversation.Conversation) {
	if s.completions == nil {
		s.failRequest(ctx, responseID, errors.New("no completion service configured"))
		return
	}

	req := &CompletionRequest{
		ResponseID: responseID,
		ChatID:     s.ChatID(),
		SessionID:  s.sessionID,
		Model:      modelID,
		Messages:   path,
	}

	taskID, err := s.completions.Complete(ctx, req)
	if err != nil {
		s.failRequest(ctx, responseID, err)
		return
	}

	s.tracker.ReceiveHTTP(responseID, taskID)
	log.Debug().
		Str("message_id", responseID.String()).
		Str("model", modelID).
		Str("task_id", taskID).
		Msg("completion request acknowledged")
}

// failRequest handles a request that was never acknowledged: surface the
// failure and roll the placeholder back.
func (s *SessionContext) failRequest(ctx context.Context, responseID conversation.NodeID, err error) {
	log.Error().Err(err).Str("message_id", responseID.String()).Msg("completion request failed")
	s.notifier.Notify(NoticeError, err.Error())
	s.tracker.Fail(responseID, reasonTransport)

	s.mu.Lock()
	s.rollbackLocked(responseID)
	s.mu.Unlock()

	s.persist(ctx)
}
