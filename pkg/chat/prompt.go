package chat

import (
	"context"

	"github.com/rs/zerolog/log"
)

// PromptKind distinguishes the two interactive request shapes the backend
// can push.
type PromptKind string

const (
	PromptConfirmation PromptKind = "confirmation"
	PromptInput        PromptKind = "input"
)

// PendingPrompt is a backend question awaiting a user answer. The session
// holds at most one at a time; a newer prompt supersedes an unanswered one,
// which is then never acknowledged.
type PendingPrompt struct {
	RequestID   string
	Kind        PromptKind
	Title       string
	Message     string
	Placeholder string
}

// holdPromptLocked installs a prompt into the single slot. Caller holds s.mu.
func (s *SessionContext) holdPromptLocked(p *PendingPrompt) {
	if s.pendingPrompt != nil {
		log.Warn().
			Str("superseded_request_id", s.pendingPrompt.RequestID).
			Str("request_id", p.RequestID).
			Msg("pending prompt superseded before it was answered")
	}
	s.pendingPrompt = p
}

// PendingPrompt returns the currently held prompt, or nil.
func (s *SessionContext) PendingPrompt() *PendingPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingPrompt
}

// ResolveConfirmation answers the held confirmation prompt. The answer is
// forwarded through the prompt acknowledgement channel keyed by the prompt's
// RequestID; the slot is released even if the acknowledgement fails, since
// the backend side times out on its own.
func (s *SessionContext) ResolveConfirmation(ctx context.Context, confirmed bool) error {
	p, err := s.takePrompt(PromptConfirmation)
	if err != nil {
		return err
	}
	return s.ackPrompt(ctx, p.RequestID, confirmed)
}

// ResolveInput answers the held input prompt with the user's text.
func (s *SessionContext) ResolveInput(ctx context.Context, text string) error {
	p, err := s.takePrompt(PromptInput)
	if err != nil {
		return err
	}
	return s.ackPrompt(ctx, p.RequestID, text)
}

// DismissPrompt drops the held prompt without acknowledging it.
func (s *SessionContext) DismissPrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPrompt = nil
}

func (s *SessionContext) takePrompt(kind PromptKind) (*PendingPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingPrompt == nil {
		return nil, newValidationError("no prompt is pending")
	}
	if s.pendingPrompt.Kind != kind {
		return nil, newValidationError("pending prompt is a " + string(s.pendingPrompt.Kind))
	}

	p := s.pendingPrompt
	s.pendingPrompt = nil
	return p, nil
}

func (s *SessionContext) ackPrompt(ctx context.Context, requestID string, result interface{}) error {
	if s.prompts == nil {
		return nil
	}
	if err := s.prompts.AckPrompt(ctx, requestID, result); err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("prompt acknowledgement failed")
		return err
	}
	return nil
}
