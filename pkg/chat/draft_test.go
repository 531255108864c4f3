package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftAutosaverDebounces(t *testing.T) {
	store := &memoryDrafts{}
	saver := NewDraftAutosaver(store, 10*time.Millisecond)

	saver.Set("chat-1", "h")
	saver.Set("chat-1", "he")
	saver.Set("chat-1", "hello")

	require.Eventually(t, func() bool {
		v, ok := store.get("chat-1")
		return ok && v == "hello"
	}, time.Second, time.Millisecond, "only the trailing draft is saved")
}

func TestDraftAutosaverClear(t *testing.T) {
	store := &memoryDrafts{}
	saver := NewDraftAutosaver(store, 50*time.Millisecond)

	saver.Set("chat-1", "pending")
	saver.Clear("chat-1")

	time.Sleep(100 * time.Millisecond)
	_, ok := store.get("chat-1")
	assert.False(t, ok, "clear drops the pending save")
}

func TestDraftAutosaverEmptyTextClears(t *testing.T) {
	store := &memoryDrafts{}
	saver := NewDraftAutosaver(store, time.Millisecond)

	saver.Set("chat-1", "something")
	require.Eventually(t, func() bool {
		_, ok := store.get("chat-1")
		return ok
	}, time.Second, time.Millisecond)

	saver.Set("chat-1", "")
	_, ok := store.get("chat-1")
	assert.False(t, ok)
}

func TestDebouncerCancel(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)

	fired := make(chan struct{}, 1)
	d.Do(func() { fired <- struct{}{} })
	d.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled invocation still fired")
	case <-time.After(50 * time.Millisecond):
	}
}
