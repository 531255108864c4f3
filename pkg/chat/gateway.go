// Package chat is the conversation engine binding the message tree, the
// request lifecycle tracker and the push channel together: it fans a user
// turn out to N models, folds streamed completion events back into the tree,
// and guarantees the history always converges to a legal state.
package chat

import (
	"context"

	"github.com/go-go-golems/marionette/pkg/conversation"
)

// Model describes one selectable backend model.
type Model struct {
	ID   string
	Name string
}

// CompletionRequest carries everything the backend completion service needs
// for one streamed generation.
type CompletionRequest struct {
	// ResponseID is the client-generated id of the placeholder message the
	// stream will fold into. Doubles as the idempotency key.
	ResponseID conversation.NodeID
	ChatID     string
	SessionID  string
	Model      string
	// Messages is the materialized root→user linear path used as context.
	Messages conversation.Conversation
	Params   map[string]interface{}
	Features map[string]bool
}

// CompletionService issues one streaming completion request. It returns once
// the request is acknowledged (with the remote task handle) or failed;
// completion chunks arrive separately as chat:completion push events
// addressed to ResponseID.
type CompletionService interface {
	Complete(ctx context.Context, req *CompletionRequest) (taskID string, err error)
}

// CompletionNotifier is the turn-completion post-processing service, called
// once per terminal response with the full linear path. It may return
// rewritten message contents keyed by node id, merged back into the tree.
type CompletionNotifier interface {
	Completed(ctx context.Context, chatID string, id conversation.NodeID, path conversation.Conversation) (rewritten map[conversation.NodeID]string, err error)
}

// TaskController cancels remote backend tasks. Fire and forget; errors are
// surfaced as non-fatal toasts.
type TaskController interface {
	StopTask(ctx context.Context, taskID string) error
}

// PromptAcker delivers the user's answer to an interactive confirmation,
// input or execute request back to the backend task that asked.
type PromptAcker interface {
	AckPrompt(ctx context.Context, requestID string, value interface{}) error
}

// ChatStore is the persistence gateway. A store failure never rolls back
// in-memory state; the history simply stays ahead of durable storage until
// the next successful persist.
type ChatStore interface {
	CreateChat(ctx context.Context, history *conversation.History) (chatID string, err error)
	UpdateChat(ctx context.Context, chatID string, history *conversation.History, metadata map[string]interface{}) error
}

// DraftStore holds unsent compose-box input keyed by chat id.
type DraftStore interface {
	SaveDraft(ctx context.Context, chatID string, text string) error
	ClearDraft(ctx context.Context, chatID string) error
}

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notifier surfaces user-visible toasts. Never tree-mutating.
type Notifier interface {
	Notify(level NoticeLevel, message string)
}

// nopNotifier is used when no toast collaborator is wired.
type nopNotifier struct{}

func (nopNotifier) Notify(NoticeLevel, string) {}
