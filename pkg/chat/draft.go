package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultDraftDebounce is the quiet period after the last keystroke before
// unsent compose-box input is saved.
const DefaultDraftDebounce = 500 * time.Millisecond

// Debouncer coalesces bursts of calls into one trailing invocation.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Do schedules fn after the quiet period, replacing any earlier pending fn.
func (d *Debouncer) Do(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Cancel drops the pending invocation, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// DraftAutosaver persists unsent compose-box input, debounced so that
// typing does not hammer the gateway. Submitting or clearing the compose
// box clears the stored draft immediately.
type DraftAutosaver struct {
	store    DraftStore
	debounce *Debouncer
}

func NewDraftAutosaver(store DraftStore, delay time.Duration) *DraftAutosaver {
	return &DraftAutosaver{
		store:    store,
		debounce: NewDebouncer(delay),
	}
}

// Set schedules a save of the current draft text.
func (a *DraftAutosaver) Set(chatID string, text string) {
	if text == "" {
		a.Clear(chatID)
		return
	}
	a.debounce.Do(func() {
		if err := a.store.SaveDraft(context.Background(), chatID, text); err != nil {
			log.Warn().Err(err).Str("chat_id", chatID).Msg("failed to save draft")
		}
	})
}

// Clear drops any pending save and removes the stored draft.
func (a *DraftAutosaver) Clear(chatID string) {
	a.debounce.Cancel()
	if err := a.store.ClearDraft(context.Background(), chatID); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("failed to clear draft")
	}
}

// Cancel drops any pending save without touching the stored draft. Used on
// session teardown.
func (a *DraftAutosaver) Cancel() {
	a.debounce.Cancel()
}
