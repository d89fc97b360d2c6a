// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// SERVICE INTERFACES
// =============================================================================

// ChatService is the message and streaming surface the senders depend
// on. The HTTP client implements it; tests substitute fakes.
type ChatService interface {
	// CreateMessage persists a user message and returns the confirmed
	// record with its server id and timestamp.
	CreateMessage(ctx context.Context, req CreateMessageRequest) (*model.Message, error)

	// StreamChat runs a streaming completion, invoking the callback for
	// each event in arrival order. It returns after the done or error
	// event, or on context cancellation.
	StreamChat(ctx context.Context, req StreamChatRequest, fn StreamCallback) error

	// FetchMessages returns the confirmed history of a conversation in
	// server order.
	FetchMessages(ctx context.Context, conversationID string) ([]*model.Message, error)

	// DeleteMessage removes a confirmed message.
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
}

// MediaService is the generation surface.
type MediaService interface {
	// SubmitGeneration starts an image or video generation. Small jobs
	// may complete synchronously, in which case Message is set and
	// TaskID is empty.
	SubmitGeneration(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)

	// PollTask probes an outstanding generation task.
	PollTask(ctx context.Context, taskID string) (*TaskStatus, error)
}

// =============================================================================
// REQUESTS
// =============================================================================

// CreateMessageRequest creates a user message in a conversation. The
// client request id travels to the server and comes back on the
// confirmed record so the client can retire its provisional copy.
type CreateMessageRequest struct {
	ConversationID  string
	Content         string
	ClientRequestID string
}

// StreamChatRequest runs a streaming chat completion.
type StreamChatRequest struct {
	ConversationID  string
	Content         string
	ClientRequestID string
	Model           string
}

// GenerationRequest starts a media generation.
type GenerationRequest struct {
	ConversationID  string
	Kind            string // "image" or "video"
	Prompt          string
	ClientRequestID string
	Params          map[string]string
}

// =============================================================================
// RESPONSES
// =============================================================================

// GenerationResponse is the result of submitting a generation. Exactly
// one of TaskID and Message is set.
type GenerationResponse struct {
	TaskID  string
	Message *model.Message
}

// TaskStatus is one probe of an outstanding generation.
type TaskStatus struct {
	// State is the server-reported task state: pending, processing,
	// success, failed, or timeout.
	State string

	// FailReason is set when the generation was rejected.
	FailReason string

	// Message is the completed generation when State is success.
	Message *model.Message
}

// =============================================================================
// STREAM EVENTS
// =============================================================================

// EventKind discriminates stream events.
type EventKind int

const (
	// EventContent carries a text delta.
	EventContent EventKind = iota

	// EventDone closes the stream with the final message identity.
	EventDone

	// EventError closes the stream with a failure.
	EventError
)

// StreamEvent is one event on a streaming chat. Content events carry a
// delta; the done event carries the server id and timestamp of the
// finished assistant message; the error event carries the failure.
type StreamEvent struct {
	Kind EventKind

	// Content is the text delta for EventContent.
	Content string

	// MessageID is the confirmed server id, set on EventDone.
	MessageID string

	// CreatedAt is the server timestamp of the finished message, set on
	// EventDone.
	CreatedAt time.Time

	// CreditsCost is the charge for the completion, set on EventDone.
	CreditsCost int

	// Err is the stream failure, set on EventError.
	Err error
}

// StreamCallback receives stream events in arrival order.
type StreamCallback func(ev StreamEvent)
