package chat

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/marionette/pkg/conversation"
	"github.com/go-go-golems/marionette/pkg/events"
)

// fakeCompletions acknowledges every request unless the model is listed in
// failOn, and records the requests it saw.
type fakeCompletions struct {
	mu     sync.Mutex
	failOn map[string]error
	reqs   []*CompletionRequest
}

func (f *fakeCompletions) Complete(_ context.Context, req *CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if err, ok := f.failOn[req.Model]; ok {
		return "", err
	}
	return "task-" + req.Model, nil
}

func (f *fakeCompletions) requests() []*CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*CompletionRequest{}, f.reqs...)
}

type notice struct {
	level   NoticeLevel
	message string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) Notify(level NoticeLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{level: level, message: message})
}

func (n *recordingNotifier) all() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notice{}, n.notices...)
}

// memoryStore counts persists and keeps the last snapshot.
type memoryStore struct {
	mu      sync.Mutex
	creates int
	updates int
	last    *conversation.History
	failAll bool
}

func (s *memoryStore) CreateChat(_ context.Context, history *conversation.History) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return "", errors.New("store unavailable")
	}
	s.creates++
	s.last = history
	return "chat-1", nil
}

func (s *memoryStore) UpdateChat(_ context.Context, _ string, history *conversation.History, _ map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store unavailable")
	}
	s.updates++
	s.last = history
	return nil
}

func (s *memoryStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.updates
}

type recordingTasks struct {
	mu      sync.Mutex
	stopped []string
}

func (t *recordingTasks) StopTask(_ context.Context, taskID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = append(t.stopped, taskID)
	return nil
}

func (t *recordingTasks) all() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.stopped...)
}

type recordingAcker struct {
	mu   sync.Mutex
	acks map[string]interface{}
}

func (a *recordingAcker) AckPrompt(_ context.Context, requestID string, value interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.acks == nil {
		a.acks = map[string]interface{}{}
	}
	a.acks[requestID] = value
	return nil
}

func (a *recordingAcker) get(requestID string) (interface{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.acks[requestID]
	return v, ok
}

// rewritingNotifier returns a fixed rewrite for the terminal message.
type rewritingNotifier struct {
	mu        sync.Mutex
	rewrites  map[conversation.NodeID]string
	completed []conversation.NodeID
}

func (n *rewritingNotifier) Completed(_ context.Context, _ string, id conversation.NodeID, _ conversation.Conversation) (map[conversation.NodeID]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, id)
	return n.rewrites, nil
}

type memoryDrafts struct {
	mu     sync.Mutex
	drafts map[string]string
}

func (d *memoryDrafts) SaveDraft(_ context.Context, chatID string, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.drafts == nil {
		d.drafts = map[string]string{}
	}
	d.drafts[chatID] = text
	return nil
}

func (d *memoryDrafts) ClearDraft(_ context.Context, chatID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.drafts, chatID)
	return nil
}

func (d *memoryDrafts) get(chatID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.drafts[chatID]
	return v, ok
}

func deltaChunk(delta string) events.CompletionChunk {
	return events.CompletionChunk{
		Choices: []events.CompletionChoice{{Delta: &events.ChoiceContent{Content: delta}}},
	}
}

func doneChunk() events.CompletionChunk {
	return events.CompletionChunk{Done: true}
}

func completionMeta(chatID string, id conversation.NodeID) events.EventMetadata {
	return events.EventMetadata{ChatID: chatID, MessageID: id}
}
