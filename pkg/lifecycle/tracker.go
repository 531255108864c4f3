// Package lifecycle tracks the state machine of every in-flight completion
// request. One record per response message, created with the placeholder and
// deleted on the terminal transition, so the record is strictly
// shorter-lived than the message it describes. The tracker only ever reads
// message ids: it never mutates tree structure, it signals outcomes and lets
// the owner perform the mutation.
package lifecycle

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/conversation"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusHTTPReceived Status = "http_received"
	StatusStreaming    Status = "streaming"
	StatusCompleted    Status = "completed"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
	StatusCancelled    Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusError, StatusCancelled:
		return true
	}
	return false
}

// ReasonTimeout marks an error outcome forced by the idle watchdog.
const ReasonTimeout = "timeout"

// DefaultRequestTimeout is how long a request may sit without a streaming
// transition before the watchdog forces an error outcome.
const DefaultRequestTimeout = 30 * time.Second

type Timestamps struct {
	SubmitAt       time.Time  `json:"submitAt"`
	SendRequestAt  time.Time  `json:"sendRequestAt"`
	HTTPResponseAt *time.Time `json:"httpResponseAt,omitempty"`
	FirstTokenAt   *time.Time `json:"firstTokenAt,omitempty"`
	EndAt          *time.Time `json:"endAt,omitempty"`
}

// Outcome is the single terminal report for one request.
type Outcome struct {
	MessageID  conversation.NodeID
	Status     Status
	Reason     string
	TaskID     string
	Timestamps Timestamps
}

type record struct {
	messageID  conversation.NodeID
	status     Status
	timestamps Timestamps
	taskID     string
	timer      *time.Timer
}

// StopTaskFunc requests remote cancellation of a backend task. Fire and
// forget; the tracker never waits on it.
type StopTaskFunc func(taskID string)

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

func WithTimeout(timeout time.Duration) TrackerOption {
	return func(t *Tracker) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

func WithStopTask(stop StopTaskFunc) TrackerOption {
	return func(t *Tracker) {
		t.stopTask = stop
	}
}

// WithTimeoutHandler registers the callback invoked after the watchdog has
// forced an error outcome. The handler runs outside the tracker lock; the
// record is already gone when it fires.
func WithTimeoutHandler(f func(id conversation.NodeID)) TrackerOption {
	return func(t *Tracker) {
		t.onTimeout = f
	}
}

// WithOutcomeHandler registers the callback receiving every terminal
// outcome. Runs outside the tracker lock.
func WithOutcomeHandler(f func(Outcome)) TrackerOption {
	return func(t *Tracker) {
		t.onOutcome = f
	}
}

// Tracker owns all request lifecycle records for one session.
type Tracker struct {
	mu        sync.Mutex
	records   map[conversation.NodeID]*record
	timeout   time.Duration
	stopTask  StopTaskFunc
	onTimeout func(id conversation.NodeID)
	onOutcome func(Outcome)
}

func NewTracker(options ...TrackerOption) *Tracker {
	ret := &Tracker{
		records: make(map[conversation.NodeID]*record),
		timeout: DefaultRequestTimeout,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Start registers a pending record for a response message and arms the idle
// watchdog. Called when the placeholder is created.
func (t *Tracker) Start(id conversation.NodeID, submitAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[id]; ok {
		log.Warn().Str("message_id", id.String()).Msg("request already tracked")
		return
	}

	r := &record{
		messageID: id,
		status:    StatusPending,
		timestamps: Timestamps{
			SubmitAt:      submitAt,
			SendRequestAt: time.Now(),
		},
	}
	r.timer = time.AfterFunc(t.timeout, func() {
		t.fireTimeout(id)
	})
	t.records[id] = r

	log.Debug().Str("message_id", id.String()).Dur("timeout", t.timeout).Msg("request tracked")
}

// ReceiveHTTP records the HTTP acknowledgement and its remote task handle.
// If the record is already gone (the owner UI state no longer exists), the
// remote task is cancelled immediately so no orphaned request keeps running.
func (t *Tracker) ReceiveHTTP(id conversation.NodeID, taskID string) {
	t.mu.Lock()
	r, ok := t.records[id]
	if !ok {
		stop := t.stopTask
		t.mu.Unlock()
		log.Debug().Str("message_id", id.String()).Str("task_id", taskID).
			Msg("http ack for untracked request, cancelling remote task")
		if stop != nil && taskID != "" {
			stop(taskID)
		}
		return
	}

	r.taskID = taskID
	now := time.Now()
	r.timestamps.HTTPResponseAt = &now
	if r.status == StatusPending {
		r.status = StatusHTTPReceived
	}
	t.mu.Unlock()
}

// ReceiveFirstToken marks the stream as live and disarms the watchdog.
func (t *Tracker) ReceiveFirstToken(id conversation.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[id]
	if !ok || r.status == StatusStreaming {
		return
	}
	r.status = StatusStreaming
	now := time.Now()
	r.timestamps.FirstTokenAt = &now
	if r.timer != nil {
		r.timer.Stop()
	}
}

// Complete reports a successful terminal outcome.
func (t *Tracker) Complete(id conversation.NodeID) {
	t.finalize(id, StatusCompleted, "")
}

// Fail reports a failed terminal outcome with a reason such as "transport"
// or "protocol".
func (t *Tracker) Fail(id conversation.NodeID, reason string) {
	t.finalize(id, StatusError, reason)
}

// Cancel reports a server-side cancellation outcome.
func (t *Tracker) Cancel(id conversation.NodeID) {
	t.finalize(id, StatusCancelled, "")
}

// StopRequest is the user-initiated stop: disarm the watchdog, request
// remote cancellation if a task handle is known, and report stopped.
func (t *Tracker) StopRequest(id conversation.NodeID) {
	t.mu.Lock()
	r, ok := t.records[id]
	var taskID string
	if ok {
		taskID = r.taskID
	}
	stop := t.stopTask
	t.mu.Unlock()

	if !ok {
		return
	}
	if stop != nil && taskID != "" {
		stop(taskID)
	}
	t.finalize(id, StatusStopped, "")
}

// TaskID returns the remote handle for a tracked request, if any.
func (t *Tracker) TaskID(id conversation.NodeID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		return "", false
	}
	return r.taskID, r.taskID != ""
}

// Status returns the current state of a tracked request.
func (t *Tracker) Status(id conversation.NodeID) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		return "", false
	}
	return r.status, true
}

// Len reports the number of in-flight records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Active returns the ids of all in-flight requests.
func (t *Tracker) Active() []conversation.NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]conversation.NodeID, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	return ids
}

// finalize deletes the record as the final step of every terminal
// transition, making a second trigger for the same id a no-op: exactly one
// outcome per request. Callbacks run outside the lock.
func (t *Tracker) finalize(id conversation.NodeID, status Status, reason string) {
	t.mu.Lock()
	r, ok := t.records[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	now := time.Now()
	r.timestamps.EndAt = &now
	delete(t.records, id)
	outcome := Outcome{
		MessageID:  id,
		Status:     status,
		Reason:     reason,
		TaskID:     r.taskID,
		Timestamps: r.timestamps,
	}
	onOutcome := t.onOutcome
	t.mu.Unlock()

	log.Debug().
		Str("message_id", id.String()).
		Str("status", string(status)).
		Str("reason", reason).
		Msg("request finalized")

	if onOutcome != nil {
		onOutcome(outcome)
	}
}

// fireTimeout runs on the watchdog timer. If the request never reached
// streaming, request remote cancellation (when a task handle is known) and
// force an error outcome with reason timeout.
func (t *Tracker) fireTimeout(id conversation.NodeID) {
	t.mu.Lock()
	r, ok := t.records[id]
	if !ok || r.status == StatusStreaming {
		t.mu.Unlock()
		return
	}
	taskID := r.taskID
	stop := t.stopTask
	onTimeout := t.onTimeout
	t.mu.Unlock()

	log.Warn().Str("message_id", id.String()).Msg("request timed out before streaming")

	if stop != nil && taskID != "" {
		stop(taskID)
	}
	t.finalize(id, StatusError, ReasonTimeout)
	if onTimeout != nil {
		onTimeout(id)
	}
}
