package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/conversation"
	"github.com/go-go-golems/marionette/pkg/lifecycle"
)

// SessionContext owns all mutable state of one open conversation: the
// history arena, the lifecycle tracker, the interactive prompt slot and the
// draft autosaver. It is created when the user switches to a chat and closed
// when they navigate away.
//
// A single mutex serializes dispatcher submissions, push event handling and
// watchdog callbacks. Every inbound event is handled to completion under the
// lock, which gives per-event atomicity over the shared history: the three
// writers (dispatcher, event binding, stream processor) can never interleave
// mid-mutation.
type SessionContext struct {
	mu sync.Mutex

	chatID    string
	sessionID string
	history   *conversation.History
	tracker   *lifecycle.Tracker
	models    map[string]Model
	closed    bool

	attachmentLimit int
	requestTimeout  time.Duration

	completions CompletionService
	postProcess CompletionNotifier
	tasks       TaskController
	prompts     PromptAcker
	store       ChatStore
	notifier    Notifier
	drafts      *DraftAutosaver
	execOps     *ExecRegistry

	pendingPrompt *PendingPrompt

	onTitle        func(title string)
	onTags         func(tags []string)
	refreshSidebar func()
}

type SessionOption func(*SessionContext)

func WithChatID(chatID string) SessionOption {
	return func(s *SessionContext) {
		s.chatID = chatID
	}
}

func WithHistory(history *conversation.History) SessionOption {
	return func(s *SessionContext) {
		s.history = history
	}
}

func WithModels(models ...Model) SessionOption {
	return func(s *SessionContext) {
		for _, m := range models {
			s.models[m.ID] = m
		}
	}
}

func WithAttachmentLimit(limit int) SessionOption {
	return func(s *SessionContext) {
		s.attachmentLimit = limit
	}
}

// WithRequestTimeout overrides the idle watchdog duration, default
// lifecycle.DefaultRequestTimeout.
func WithRequestTimeout(timeout time.Duration) SessionOption {
	return func(s *SessionContext) {
		if timeout > 0 {
			s.requestTimeout = timeout
		}
	}
}

func WithCompletionService(svc CompletionService) SessionOption {
	return func(s *SessionContext) {
		s.completions = svc
	}
}

func WithCompletionNotifier(n CompletionNotifier) SessionOption {
	return func(s *SessionContext) {
		s.postProcess = n
	}
}

func WithTaskController(t TaskController) SessionOption {
	return func(s *SessionContext) {
		s.tasks = t
	}
}

func WithPromptAcker(p PromptAcker) SessionOption {
	return func(s *SessionContext) {
		s.prompts = p
	}
}

func WithChatStore(store ChatStore) SessionOption {
	return func(s *SessionContext) {
		s.store = store
	}
}

func WithNotifier(n Notifier) SessionOption {
	return func(s *SessionContext) {
		s.notifier = n
	}
}

func WithDraftStore(store DraftStore) SessionOption {
	return func(s *SessionContext) {
		s.drafts = NewDraftAutosaver(store, DefaultDraftDebounce)
	}
}

func WithTitleHandler(f func(title string)) SessionOption {
	return func(s *SessionContext) {
		s.onTitle = f
	}
}

func WithTagsHandler(f func(tags []string)) SessionOption {
	return func(s *SessionContext) {
		s.onTags = f
	}
}

func WithSidebarRefresh(f func()) SessionOption {
	return func(s *SessionContext) {
		s.refreshSidebar = f
	}
}

func NewSessionContext(options ...SessionOption) *SessionContext {
	ret := &SessionContext{
		sessionID:       uuid.NewString(),
		models:          map[string]Model{},
		attachmentLimit: 10,
		requestTimeout:  lifecycle.DefaultRequestTimeout,
		notifier:        nopNotifier{},
		execOps:         NewExecRegistry(),
	}

	for _, option := range options {
		option(ret)
	}

	if ret.history == nil {
		ret.history = conversation.NewHistory()
	}

	ret.tracker = lifecycle.NewTracker(
		lifecycle.WithTimeout(ret.requestTimeout),
		lifecycle.WithStopTask(ret.stopRemoteTask),
		lifecycle.WithTimeoutHandler(ret.handleTimeout),
	)

	return ret
}

func (s *SessionContext) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

func (s *SessionContext) SessionID() string {
	return s.sessionID
}

// History returns the session's history arena. The session stays the sole
// writer; callers read.
func (s *SessionContext) History() *conversation.History {
	return s.history
}

func (s *SessionContext) Tracker() *lifecycle.Tracker {
	return s.tracker
}

// ExecOps exposes the allow-listed operation registry backing execute
// events.
func (s *SessionContext) ExecOps() *ExecRegistry {
	return s.execOps
}

// Close tears the session down on navigate-away: pending drafts are
// flushed, the interactive prompt slot is released without acknowledgement,
// and every in-flight request is stopped.
func (s *SessionContext) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pendingPrompt = nil
	active := s.tracker.Active()
	s.mu.Unlock()

	if s.drafts != nil {
		s.drafts.Cancel()
	}
	for _, id := range active {
		s.tracker.StopRequest(id)
	}

	log.Debug().Str("chat_id", s.chatID).Int("stopped_requests", len(active)).Msg("session closed")
}

// StopGeneration is the user-initiated stop for one streaming response:
// local teardown is immediate regardless of remote acknowledgement.
func (s *SessionContext) StopGeneration(ctx context.Context, id conversation.NodeID) {
	s.tracker.StopRequest(id)

	s.mu.Lock()
	s.history.MarkDone(id)
	s.mu.Unlock()

	s.persist(ctx)
}

// stopRemoteTask is the tracker's remote cancellation hook. Fire and
// forget; failures surface as a non-fatal toast.
func (s *SessionContext) stopRemoteTask(taskID string) {
	if s.tasks == nil {
		return
	}
	if err := s.tasks.StopTask(context.Background(), taskID); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("failed to stop remote task")
		s.notifier.Notify(NoticeWarning, "could not stop the remote task")
	}
}

// handleTimeout runs after the watchdog forced an error outcome. The
// lifecycle record is already gone; only the tree rollback and the distinct
// toast remain.
func (s *SessionContext) handleTimeout(id conversation.NodeID) {
	s.notifier.Notify(NoticeError, "the model did not respond in time")

	s.mu.Lock()
	s.rollbackLocked(id)
	s.mu.Unlock()

	s.persist(context.Background())
}

// persist snapshots the history and pushes it through the gateway. Creating
// the remote chat happens on the first persist. A gateway failure never
// rolls back in-memory state; we stay ahead of durable storage until the
// next successful persist.
func (s *SessionContext) persist(ctx context.Context) {
	if s.store == nil {
		return
	}

	s.mu.Lock()
	snapshot := s.history.Clone()
	chatID := s.chatID
	s.mu.Unlock()

	if chatID == "" {
		newID, err := s.store.CreateChat(ctx, snapshot)
		if err != nil {
			log.Warn().Err(err).Msg("failed to create remote chat")
			return
		}
		s.mu.Lock()
		s.chatID = newID
		s.mu.Unlock()
		return
	}

	metadata := map[string]interface{}{
		"session_id": s.sessionID,
	}
	if err := s.store.UpdateChat(ctx, chatID, snapshot, metadata); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("failed to persist chat")
	}
}

// SetDraft schedules a debounced save of unsent compose-box input.
func (s *SessionContext) SetDraft(text string) {
	if s.drafts == nil {
		return
	}
	s.drafts.Set(s.ChatID(), text)
}
