// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"time"
)

// =============================================================================
// TASK TYPE AND STATUS
// =============================================================================

// Type identifies the kind of generation a task drives.
type Type string

const (
	TypeImage Type = "image"
	TypeVideo Type = "video"
)

// String returns the string representation of the task type.
func (t Type) String() string {
	return string(t)
}

// Status represents the current state of a generation task.
// Valid transitions: Pending -> Polling -> {Success | Failed | Timeout}.
// Terminal states are final and a task id is never reused.
type Status string

const (
	// StatusPending indicates the task is registered but polling has
	// not started yet.
	StatusPending Status = "pending"

	// StatusPolling indicates the polling loop is driving the task.
	StatusPolling Status = "polling"

	// StatusSuccess indicates the generation completed.
	StatusSuccess Status = "success"

	// StatusFailed indicates the generation was rejected or the probe
	// failed repeatedly.
	StatusFailed Status = "failed"

	// StatusTimeout indicates the task exceeded its maximum duration.
	StatusTimeout Status = "timeout"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for final states.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusTimeout
}

// =============================================================================
// MEDIA TASK
// =============================================================================

// MediaTask is one outstanding asynchronous generation. Fields are
// written only by the Tracker under its lock; callers receive clones.
type MediaTask struct {
	// TaskID is the server-assigned identifier used for polling.
	TaskID string

	// ConversationID is the conversation the result belongs to.
	ConversationID string

	// PlaceholderID links back to the placeholder message this task
	// will replace.
	PlaceholderID string

	// Type is the generation kind.
	Type Type

	// Status is the current state.
	Status Status

	// StartedAt is when the task was registered.
	StartedAt time.Time

	// FinishedAt is when the task reached a terminal state.
	FinishedAt time.Time

	// Error is the failure reason for Failed/Timeout tasks.
	Error string
}

// Clone returns a copy of the task for reading.
func (t *MediaTask) Clone() *MediaTask {
	cp := *t
	return &cp
}

// Duration returns how long the task has been running or took overall.
func (t *MediaTask) Duration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if t.FinishedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Notification reports a task reaching a terminal state. The UI consumes
// these to surface cross-conversation "generation ready" events.
type Notification struct {
	TaskID         string
	ConversationID string
	Type           Type
	Status         Status
	Error          string
	Duration       time.Duration
}
