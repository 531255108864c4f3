package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/go-go-golems/marionette/pkg/chat"
	"github.com/go-go-golems/marionette/pkg/conversation"
	"github.com/go-go-golems/marionette/pkg/events"
)

// consolePrinter renders streamed chunks and toasts on the terminal. With a
// fan-out of more than one model, output is labelled whenever the stream
// switches between response messages.
type consolePrinter struct {
	fanOut  int
	lastID  conversation.NodeID
	started map[conversation.NodeID]bool

	// activeFn reports in-flight requests; bound after the session exists.
	activeFn func() int
}

func newConsolePrinter(fanOut int) *consolePrinter {
	return &consolePrinter{
		fanOut:  fanOut,
		started: map[conversation.NodeID]bool{},
	}
}

func (p *consolePrinter) bind(activeFn func() int) {
	p.activeFn = activeFn
}

var _ chat.Notifier = (*consolePrinter)(nil)

func (p *consolePrinter) Notify(level chat.NoticeLevel, msg string) {
	fmt.Printf("\n[%s] %s\n", level, msg)
}

// handler runs on the push topic alongside the session handler, for display
// only. It never mutates conversation state.
func (p *consolePrinter) handler() func(msg *message.Message) error {
	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			return nil
		}

		ev, ok := e.(*events.EventCompletion)
		if !ok {
			return nil
		}
		id := ev.Metadata().MessageID

		delta := ev.Chunk.DeltaContent()
		if delta != "" {
			if p.fanOut > 1 && id != p.lastID {
				if p.started[id] {
					fmt.Printf("\n[%s] ", shortID(id))
				} else {
					fmt.Printf("\n--- %s ---\n", shortID(id))
					p.started[id] = true
				}
				p.lastID = id
			}
			fmt.Print(delta)
		}

		if ev.Chunk.Done {
			fmt.Println()
		}

		return nil
	}
}

// waitTurn blocks until every request of the current turn reached a terminal
// state, so the prompt never interleaves with streaming output.
func (p *consolePrinter) waitTurn(ctx context.Context) {
	if p.activeFn == nil {
		return
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.activeFn() == 0 {
				// One more tick so trailing events get rendered.
				<-ticker.C
				return
			}
		}
	}
}

func shortID(id conversation.NodeID) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
