// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// ERRORS AND LIMITS
// =============================================================================

var (
	// ErrTaskExists is returned when registering a task id already tracked.
	ErrTaskExists = errors.New("task already registered")

	// ErrTaskIDReused is returned when a terminal task id is registered again.
	ErrTaskIDReused = errors.New("task id already used")

	// ErrTaskNotFound is returned when polling an unknown task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotPending is returned when polling a task that already
	// started or finished.
	ErrTaskNotPending = errors.New("task not pending")
)

const (
	// DefaultMaxGlobalTasks bounds outstanding generations across all
	// conversations.
	DefaultMaxGlobalTasks = 15

	// DefaultMaxTasksPerConversation bounds outstanding generations in
	// one conversation.
	DefaultMaxTasksPerConversation = 5

	// DefaultPollInterval is the pause between status probes.
	DefaultPollInterval = 3 * time.Second

	// DefaultMaxConsecutiveFailures is how many transport failures in a
	// row are tolerated before the task fails.
	DefaultMaxConsecutiveFailures = 3

	// DefaultImageMaxDuration is the polling deadline for image tasks.
	DefaultImageMaxDuration = 5 * time.Minute

	// DefaultVideoMaxDuration is the polling deadline for video tasks.
	DefaultVideoMaxDuration = 15 * time.Minute

	// notifyBufferSize bounds the terminal-event channel. Events are
	// dropped, never blocked on, when the consumer lags.
	notifyBufferSize = 32
)

// =============================================================================
// POLLING CONTRACT
// =============================================================================

// PollResult is one probe of a task's server-side status.
type PollResult struct {
	// Status is the server-reported state. The loop keeps polling on
	// StatusPending/StatusPolling and stops on any terminal status.
	Status Status

	// FailReason is set when the server rejected the generation. A
	// non-empty reason is terminal immediately, no retries.
	FailReason string

	// Message is the completed generation on StatusSuccess.
	Message *model.Message
}

// PollFunc probes the server for a task's status. A returned error is a
// transport failure and counts toward the consecutive-failure budget; a
// result with FailReason set is a business failure and is terminal.
type PollFunc func(ctx context.Context, taskID string) (*PollResult, error)

// Callbacks receive task outcomes. They are invoked outside the tracker
// lock, exactly once per task, from the polling goroutine.
type Callbacks struct {
	// OnSuccess receives the completed message.
	OnSuccess func(task *MediaTask, msg *model.Message)

	// OnFailure receives failed and timed-out tasks.
	OnFailure func(task *MediaTask, reason string)
}

// PollOptions tune the polling loop. Zero values take the package
// defaults so tests can shrink the intervals.
type PollOptions struct {
	Interval               time.Duration
	MaxDuration            time.Duration
	MaxConsecutiveFailures int
}

func (o PollOptions) withDefaults(taskType Type) PollOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.MaxDuration <= 0 {
		if taskType == TypeVideo {
			o.MaxDuration = DefaultVideoMaxDuration
		} else {
			o.MaxDuration = DefaultImageMaxDuration
		}
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return o
}

// =============================================================================
// TRACKER
// =============================================================================

// Tracker registers media generation tasks, enforces admission limits,
// and drives each task to exactly one terminal state.
type Tracker struct {
	mu sync.Mutex

	// tasks holds every task ever registered, terminal ones included,
	// so ids cannot be reused within the process.
	tasks map[string]*MediaTask

	// active counts non-terminal tasks per conversation.
	active map[string]int

	activeTotal int

	maxGlobal          int
	maxPerConversation int

	notifyChan chan Notification

	wg sync.WaitGroup
}

// NewTracker creates a tracker with the default admission limits.
func NewTracker() *Tracker {
	return NewTrackerWithLimits(DefaultMaxGlobalTasks, DefaultMaxTasksPerConversation)
}

// NewTrackerWithLimits creates a tracker with explicit admission limits.
func NewTrackerWithLimits(maxGlobal, maxPerConversation int) *Tracker {
	if maxGlobal <= 0 {
		maxGlobal = DefaultMaxGlobalTasks
	}
	if maxPerConversation <= 0 {
		maxPerConversation = DefaultMaxTasksPerConversation
	}
	return &Tracker{
		tasks:              make(map[string]*MediaTask),
		active:             make(map[string]int),
		maxGlobal:          maxGlobal,
		maxPerConversation: maxPerConversation,
		notifyChan:         make(chan Notification, notifyBufferSize),
	}
}

// CanStartTask reports whether a new task in the conversation would be
// admitted right now. The returned reason is user-facing when denied.
func (tr *Tracker) CanStartTask(conversationID string) (bool, string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.activeTotal >= tr.maxGlobal {
		return false, fmt.Sprintf("too many generations in progress (%d), wait for one to finish", tr.activeTotal)
	}
	if tr.active[conversationID] >= tr.maxPerConversation {
		return false, fmt.Sprintf("this conversation already has %d generations in progress", tr.active[conversationID])
	}
	return true, ""
}

// StartMediaTask registers a new pending task. The caller is expected to
// have checked CanStartTask; the limits are re-checked here because
// admission and registration are separate calls.
func (tr *Tracker) StartMediaTask(taskID, conversationID, placeholderID string, taskType Type) (*MediaTask, error) {
	if taskID == "" {
		return nil, errors.New("empty task id")
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if existing, ok := tr.tasks[taskID]; ok {
		if existing.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: %s", ErrTaskIDReused, taskID)
		}
		return nil, fmt.Errorf("%w: %s", ErrTaskExists, taskID)
	}
	if tr.activeTotal >= tr.maxGlobal {
		return nil, fmt.Errorf("global task limit reached (%d)", tr.maxGlobal)
	}
	if tr.active[conversationID] >= tr.maxPerConversation {
		return nil, fmt.Errorf("conversation task limit reached (%d)", tr.maxPerConversation)
	}

	task := &MediaTask{
		TaskID:         taskID,
		ConversationID: conversationID,
		PlaceholderID:  placeholderID,
		Type:           taskType,
		Status:         StatusPending,
		StartedAt:      time.Now().UTC(),
	}
	tr.tasks[taskID] = task
	tr.active[conversationID]++
	tr.activeTotal++

	return task.Clone(), nil
}

// StartPolling launches the polling goroutine for a pending task. The
// loop probes the server at the configured interval until the task
// reaches a terminal state, the deadline passes, the transport failure
// budget is exhausted, or the context is cancelled. Cancellation does
// not fail the task; it keeps its current state so a later caller can
// resume or inspect it.
func (tr *Tracker) StartPolling(ctx context.Context, taskID string, poll PollFunc, cb Callbacks, opts PollOptions) error {
	tr.mu.Lock()
	task, ok := tr.tasks[taskID]
	if !ok {
		tr.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != StatusPending {
		tr.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTaskNotPending, taskID, task.Status)
	}
	task.Status = StatusPolling
	taskType := task.Type
	tr.mu.Unlock()

	opts = opts.withDefaults(taskType)

	tr.wg.Add(1)
	go tr.pollLoop(ctx, taskID, poll, cb, opts)
	return nil
}

func (tr *Tracker) pollLoop(ctx context.Context, taskID string, poll PollFunc, cb Callbacks, opts PollOptions) {
	defer tr.wg.Done()

	// The limiter paces probes without the drift a fixed Sleep would
	// accrue when probes themselves are slow.
	limiter := rate.NewLimiter(rate.Every(opts.Interval), 1)
	deadline := time.Now().Add(opts.MaxDuration)
	failures := 0

	for {
		if err := limiter.Wait(ctx); err != nil {
			// Context cancelled; leave the task in its current
			// state for later inspection.
			return
		}
		if time.Now().After(deadline) {
			tr.finish(taskID, StatusTimeout, fmt.Sprintf("generation did not finish within %s", opts.MaxDuration), nil, cb)
			return
		}

		result, err := poll(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= opts.MaxConsecutiveFailures {
				tr.finish(taskID, StatusFailed, fmt.Sprintf("status check failed %d times: %v", failures, err), nil, cb)
				return
			}
			continue
		}
		failures = 0

		if result.FailReason != "" {
			tr.finish(taskID, StatusFailed, result.FailReason, nil, cb)
			return
		}

		switch result.Status {
		case StatusSuccess:
			tr.finish(taskID, StatusSuccess, "", result.Message, cb)
			return
		case StatusFailed:
			tr.finish(taskID, StatusFailed, "generation failed", nil, cb)
			return
		case StatusTimeout:
			tr.finish(taskID, StatusTimeout, "generation timed out on the server", nil, cb)
			return
		default:
			// Still pending or processing; keep polling.
		}
	}
}

// finish moves a task to a terminal state exactly once, then fires
// callbacks and the notification outside the lock.
func (tr *Tracker) finish(taskID string, status Status, reason string, msg *model.Message, cb Callbacks) {
	tr.mu.Lock()
	task, ok := tr.tasks[taskID]
	if !ok || task.Status.IsTerminal() {
		tr.mu.Unlock()
		return
	}
	task.Status = status
	task.Error = reason
	task.FinishedAt = time.Now().UTC()
	tr.active[task.ConversationID]--
	if tr.active[task.ConversationID] <= 0 {
		delete(tr.active, task.ConversationID)
	}
	tr.activeTotal--
	snapshot := task.Clone()
	tr.mu.Unlock()

	if status == StatusSuccess {
		if cb.OnSuccess != nil {
			cb.OnSuccess(snapshot, msg)
		}
	} else {
		if cb.OnFailure != nil {
			cb.OnFailure(snapshot, reason)
		}
	}

	tr.notify(Notification{
		TaskID:         snapshot.TaskID,
		ConversationID: snapshot.ConversationID,
		Type:           snapshot.Type,
		Status:         status,
		Error:          reason,
		Duration:       snapshot.FinishedAt.Sub(snapshot.StartedAt),
	})
}

// notify delivers a terminal event without blocking. A full channel
// drops the event with a warning.
func (tr *Tracker) notify(n Notification) {
	select {
	case tr.notifyChan <- n:
	default:
		log.Printf("WARNING: task notification channel full, dropping event for %s", n.TaskID)
	}
}

// Notifications returns the terminal-event channel for UI consumption.
func (tr *Tracker) Notifications() <-chan Notification {
	return tr.notifyChan
}

// Get returns a copy of a task, or nil if unknown.
func (tr *Tracker) Get(taskID string) *MediaTask {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	task, ok := tr.tasks[taskID]
	if !ok {
		return nil
	}
	return task.Clone()
}

// ActiveCount returns the number of non-terminal tasks.
func (tr *Tracker) ActiveCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.activeTotal
}

// ActiveCountForConversation returns the number of non-terminal tasks
// in one conversation.
func (tr *Tracker) ActiveCountForConversation(conversationID string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.active[conversationID]
}

// GetActiveConversationIDs returns every conversation with at least one
// outstanding task. The cache uses this to protect entries from
// eviction while a generation is pending.
func (tr *Tracker) GetActiveConversationIDs() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	ids := make([]string, 0, len(tr.active))
	for id := range tr.active {
		ids = append(ids, id)
	}
	return ids
}

// HasActiveTask reports whether the conversation has an outstanding task.
func (tr *Tracker) HasActiveTask(conversationID string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.active[conversationID] > 0
}

// Wait blocks until every polling goroutine has returned. Tests and
// shutdown use it; callers should cancel the polling contexts first.
func (tr *Tracker) Wait() {
	tr.wg.Wait()
}
