// Package openai adapts an OpenAI-compatible chat completion API to the
// completion service and task controller interfaces of the chat engine.
// Requests are acknowledged synchronously; streamed chunks arrive on the push
// channel as chat:completion events addressed to the placeholder message.
package openai

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/marionette/pkg/chat"
	"github.com/go-go-golems/marionette/pkg/conversation"
	"github.com/go-go-golems/marionette/pkg/events"
)

// Settings configures the API client and per-request defaults.
type Settings struct {
	APIKey      string
	BaseURL     string
	Temperature *float32
	MaxTokens   int
}

// Engine streams completions from an OpenAI-compatible endpoint and publishes
// each chunk through the publisher manager. It also serves as the task
// controller: every acknowledged request gets a task id whose cancellation
// tears the stream down.
type Engine struct {
	client    *go_openai.Client
	settings  Settings
	publisher *events.PublisherManager

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
}

func NewEngine(settings Settings, publisher *events.PublisherManager) *Engine {
	cfg := go_openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		cfg.BaseURL = settings.BaseURL
	}

	return &Engine{
		client:    go_openai.NewClientWithConfig(cfg),
		settings:  settings,
		publisher: publisher,
		tasks:     map[string]context.CancelFunc{},
	}
}

var (
	_ chat.CompletionService = (*Engine)(nil)
	_ chat.TaskController    = (*Engine)(nil)
)

// Complete opens the completion stream and returns once the request is
// acknowledged. The stream itself is pumped on a background goroutine whose
// lifetime is bound to the returned task id, not to ctx: navigating away must
// not kill a stream the user may come back to.
func (e *Engine) Complete(ctx context.Context, req *chat.CompletionRequest) (string, error) {
	openaiReq, err := e.makeRequest(req)
	if err != nil {
		return "", err
	}

	stream, err := e.client.CreateChatCompletionStream(ctx, *openaiReq)
	if err != nil {
		log.Error().Err(err).Str("model", req.Model).Msg("completion stream request failed")
		return "", errors.Wrap(err, "failed to open completion stream")
	}

	taskID := uuid.NewString()
	streamCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.tasks[taskID] = cancel
	e.mu.Unlock()

	log.Debug().
		Str("task_id", taskID).
		Str("model", req.Model).
		Str("message_id", req.ResponseID.String()).
		Msg("completion stream opened")

	go e.pump(streamCtx, taskID, req, stream)

	return taskID, nil
}

// StopTask cancels the stream pump for one task. Unknown ids are a no-op:
// the task may already have finished.
func (e *Engine) StopTask(_ context.Context, taskID string) error {
	e.mu.Lock()
	cancel, ok := e.tasks[taskID]
	e.mu.Unlock()

	if !ok {
		return nil
	}
	cancel()
	return nil
}

func (e *Engine) release(taskID string) {
	e.mu.Lock()
	if cancel, ok := e.tasks[taskID]; ok {
		cancel()
		delete(e.tasks, taskID)
	}
	e.mu.Unlock()
}

// pump forwards stream chunks onto the push channel until EOF, error or
// cancellation. Exactly one terminal event is published per stream.
func (e *Engine) pump(ctx context.Context, taskID string, req *chat.CompletionRequest, stream *go_openai.ChatCompletionStream) {
	defer e.release(taskID)
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn().Err(err).Str("task_id", taskID).Msg("failed to close completion stream")
		}
	}()

	metadata := events.EventMetadata{
		ChatID:    req.ChatID,
		MessageID: req.ResponseID,
		SessionID: req.SessionID,
	}

	var usage map[string]interface{}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("task_id", taskID).Msg("completion stream cancelled")
			e.publisher.PublishBlind(events.NewCompletionEvent(metadata, events.CompletionChunk{Done: true}))
			return
		default:
		}

		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			chunk := events.CompletionChunk{Done: true, Usage: usage}
			e.publisher.PublishBlind(events.NewCompletionEvent(metadata, chunk))
			log.Debug().Str("task_id", taskID).Msg("completion stream finished")
			return
		}
		if err != nil {
			log.Error().Err(err).Str("task_id", taskID).Msg("completion stream receive failed")
			e.publisher.PublishBlind(events.NewCompletionEvent(metadata, events.CompletionChunk{
				Error: &events.CompletionError{Message: err.Error()},
			}))
			return
		}

		if response.Usage != nil {
			usage = map[string]interface{}{
				"prompt_tokens":     response.Usage.PromptTokens,
				"completion_tokens": response.Usage.CompletionTokens,
				"total_tokens":      response.Usage.TotalTokens,
			}
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		e.publisher.PublishBlind(events.NewCompletionEvent(metadata, events.CompletionChunk{
			Choices: []events.CompletionChoice{{Delta: &events.ChoiceContent{Content: delta}}},
		}))
	}
}

// makeRequest converts the linear message path to the wire request. Image
// attachments become multi-content parts on their user message.
func (e *Engine) makeRequest(req *chat.CompletionRequest) (*go_openai.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("empty message path")
	}

	messages := make([]go_openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, makeMessage(msg))
	}

	ret := &go_openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}
	if e.settings.Temperature != nil {
		ret.Temperature = *e.settings.Temperature
	}
	if e.settings.MaxTokens > 0 {
		ret.MaxTokens = e.settings.MaxTokens
	}

	return ret, nil
}

func makeMessage(msg *conversation.Message) go_openai.ChatCompletionMessage {
	ret := go_openai.ChatCompletionMessage{
		Role: string(msg.Role),
	}

	images := make([]conversation.FileAttachment, 0, len(msg.Files))
	for _, file := range msg.Files {
		if file.IsImage() && file.URL != "" {
			images = append(images, file)
		}
	}

	if len(images) == 0 {
		ret.Content = msg.Content
		return ret
	}

	parts := make([]go_openai.ChatMessagePart, 0, len(images)+1)
	if msg.Content != "" {
		parts = append(parts, go_openai.ChatMessagePart{
			Type: go_openai.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}
	for _, img := range images {
		parts = append(parts, go_openai.ChatMessagePart{
			Type:     go_openai.ChatMessagePartTypeImageURL,
			ImageURL: &go_openai.ChatMessageImageURL{URL: img.URL},
		})
	}
	ret.MultiContent = parts

	return ret
}
